package chatlog

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleLog = `[12:00:00] [Server thread/INFO]: Starting minecraft server version 1.21.1
[12:00:05] [Server thread/INFO]: alice joined the game
[12:00:07] [Server thread/INFO]: <alice> hello there
[12:00:09] [Server thread/INFO]: [Not Secure] <bob> hi alice
[12:00:10] [Server thread/INFO]: [Server] Backup in 5 minutes
[12:00:11] [Server thread/WARN]: [Server] ignored warning
[12:00:12] [Server thread/INFO]: alice left the game
`

func TestParseLines(t *testing.T) {
	msgs := ParseLines(strings.Split(sampleLog, "\n"))
	require.Len(t, msgs, 3)

	assert.Equal(t, Message{TS: "12:00:07", User: "alice", Text: "hello there",
		Raw: "[12:00:07] [Server thread/INFO]: <alice> hello there"}, msgs[0])
	assert.Equal(t, "bob", msgs[1].User)
	assert.Equal(t, "hi alice", msgs[1].Text)
	assert.Equal(t, "Server", msgs[2].User)
	assert.Equal(t, "Backup in 5 minutes", msgs[2].Text)
}

func TestParseLineWithoutTimestamp(t *testing.T) {
	msg, ok := ParseLine("<carol> no stamp")
	require.True(t, ok)
	assert.Empty(t, msg.TS)
	assert.Equal(t, "carol", msg.User)

	_, ok = ParseLine("[12:00:00] [Server thread/INFO]: Done (3.2s)!")
	assert.False(t, ok)
}

func TestTail(t *testing.T) {
	var sb strings.Builder
	for i := 1; i <= 25; i++ {
		fmt.Fprintf(&sb, "line %d\n", i)
	}

	lines, err := tail(strings.NewReader(sb.String()), 10)
	require.NoError(t, err)
	require.Len(t, lines, 10)
	assert.Equal(t, "line 16", lines[0])
	assert.Equal(t, "line 25", lines[9])

	lines, err = tail(strings.NewReader("a\nb\n"), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, lines)
}

func TestClampLines(t *testing.T) {
	assert.Equal(t, MinLines, ClampLines(0))
	assert.Equal(t, 200, ClampLines(200))
	assert.Equal(t, MaxLines, ClampLines(1_000_000))
}

func TestRead(t *testing.T) {
	dir := t.TempDir()

	h, err := Read(dir, DefaultLines)
	require.NoError(t, err)
	assert.Equal(t, 0, h.Count)
	assert.NotNil(t, h.Messages)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "logs"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, LatestLog), []byte(sampleLog), 0644))

	h, err = Read(dir, DefaultLines)
	require.NoError(t, err)
	assert.Equal(t, 3, h.Count)
}

func TestFormat(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Format(&buf, []Message{
		{TS: "12:00:07", User: "alice", Text: "hello"},
		{User: "Server", Text: "restarting"},
	}))
	assert.Equal(t, "[12:00:07] <alice> hello\n[--:--:--] <Server> restarting\n", buf.String())
}
