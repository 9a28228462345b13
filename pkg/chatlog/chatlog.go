// Package chatlog extracts chat messages from the server's logs/latest.log.
package chatlog

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// LatestLog is the server log path relative to the working directory.
var LatestLog = filepath.Join("logs", "latest.log")

// Bounds applied to the requested line count.
const (
	MinLines     = 10
	MaxLines     = 2000
	DefaultLines = 200
)

// Message is one chat line.
type Message struct {
	TS   string `json:"ts,omitempty"`
	User string `json:"user"`
	Text string `json:"text"`
	Raw  string `json:"raw"`
}

// History is the result of a history query.
type History struct {
	Count    int       `json:"count"`
	Messages []Message `json:"messages"`
}

var (
	reAngle     = regexp.MustCompile(`^.*?<([^>]+)>\s*(.*)$`)
	reTimestamp = regexp.MustCompile(`^\[?(\d{2}:\d{2}:\d{2})\]?\s`)
)

// ClampLines bounds n to [MinLines, MaxLines].
func ClampLines(n int) int {
	if n < MinLines {
		return MinLines
	}
	if n > MaxLines {
		return MaxLines
	}
	return n
}

// Tail returns the last n lines of path. A missing file yields no lines.
func Tail(path string, n int) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer file.Close()
	return tail(file, n)
}

func tail(r io.Reader, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	scanner := bufio.NewScanner(r)
	// Plugin stack traces can produce very long lines.
	const maxTokenSize = 1024 * 1024
	scanner.Buffer(make([]byte, 0, 64*1024), maxTokenSize)

	ring := make([]string, n)
	total := 0
	for scanner.Scan() {
		ring[total%n] = scanner.Text()
		total++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading log file: %w", err)
	}

	if total <= n {
		return ring[:total], nil
	}
	start := total % n
	return append(ring[start:], ring[:start]...), nil
}

// ParseLine extracts a chat message from one log line. Player chat is
// "<user> text"; broadcasts from the console are tagged [Server].
func ParseLine(line string) (Message, bool) {
	msg := Message{Raw: line}
	if m := reAngle.FindStringSubmatch(line); m != nil {
		msg.User = m[1]
		msg.Text = m[2]
	} else if idx := strings.Index(line, "[Server]"); idx != -1 && strings.Contains(line, "INFO") {
		msg.User = "Server"
		msg.Text = strings.TrimSpace(line[idx+len("[Server]"):])
	} else {
		return Message{}, false
	}
	if m := reTimestamp.FindStringSubmatch(line); m != nil {
		msg.TS = m[1]
	}
	return msg, true
}

// ParseLines keeps the chat lines, in order.
func ParseLines(lines []string) []Message {
	out := []Message{}
	for _, line := range lines {
		if msg, ok := ParseLine(line); ok {
			out = append(out, msg)
		}
	}
	return out
}

// Read returns the chat messages among the last lines of the log in workDir.
func Read(workDir string, lines int) (History, error) {
	raw, err := Tail(filepath.Join(workDir, LatestLog), ClampLines(lines))
	if err != nil {
		return History{}, err
	}
	msgs := ParseLines(raw)
	return History{Count: len(msgs), Messages: msgs}, nil
}

// Format renders messages one per line for a terminal.
func Format(w io.Writer, msgs []Message) error {
	for _, m := range msgs {
		ts := m.TS
		if ts == "" {
			ts = "--:--:--"
		}
		if _, err := fmt.Fprintf(w, "[%s] <%s> %s\n", ts, m.User, truncateString(m.Text, 256)); err != nil {
			return err
		}
	}
	return nil
}

// truncateString truncates a string to maxLen with ellipsis
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
