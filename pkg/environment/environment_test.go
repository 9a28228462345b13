package environment

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
	return dir
}

func TestResolveLaunchScript(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"start.sh":          "#!/bin/sh\njava -Xms4G -Xmx4G -jar paper-1.21.1.jar nogui\n",
		"paper-1.21.1.jar":  "",
		"fabric-server.jar": "",
	})

	d, err := Resolve(dir, Options{DefaultKind: KindVanilla, DefaultMemory: "2G"})
	require.NoError(t, err)

	assert.Equal(t, KindCustom, d.Kind)
	assert.Equal(t, "paper-1.21.1.jar", d.Artifact)
	assert.Equal(t, Memory{Value: "4G"}, d.Memory)
	assert.True(t, d.Headless)
	assert.Empty(t, d.ExtraFlags)
	assert.Equal(t, "script:start.sh", d.Source)
}

func TestResolveSplitHeap(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"start.sh": "java -Xms1G -XX:+UseG1GC -Xmx4G -jar server.jar\n",
	})

	d, err := Resolve(dir, Options{DefaultMemory: "2G"})
	require.NoError(t, err)

	assert.True(t, d.Memory.IsZero())
	assert.Equal(t, []string{"-Xms1G", "-Xmx4G", "-XX:+UseG1GC"}, d.ExtraFlags)
	assert.False(t, d.Headless)
}

func TestResolveBatchScript(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"start.bat": "@echo off\r\nREM launch\r\n\"C:\\Program Files\\Java\\bin\\java.exe\" -Xmx2G -Xms2G ^\r\n  -jar \"forge server.jar\" --nogui\r\npause\r\n",
	})

	d, err := Resolve(dir, Options{})
	require.NoError(t, err)

	assert.Equal(t, KindCustom, d.Kind)
	assert.Equal(t, "forge server.jar", d.Artifact)
	assert.Equal(t, Memory{Value: "2G"}, d.Memory)
	assert.True(t, d.Headless)
	assert.Equal(t, "script:start.bat", d.Source)
}

func TestResolveScriptPrecedence(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"start.sh":  "java -jar from-sh.jar\n",
		"start.bat": "java -jar from-bat.jar\n",
	})

	d, err := Resolve(dir, Options{})
	require.NoError(t, err)
	assert.Equal(t, "from-sh.jar", d.Artifact)
}

func TestResolveUnrecognizedScriptFallsThrough(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"start.sh":   "#!/bin/sh\necho hello\n",
		"server.jar": "",
	})

	d, err := Resolve(dir, Options{})
	require.NoError(t, err)
	assert.Equal(t, SourceArtifact, d.Source)
	assert.Equal(t, "server.jar", d.Artifact)
}

func TestResolveArtifacts(t *testing.T) {
	tests := []struct {
		name     string
		files    []string
		artifact string
		kind     Kind
	}{
		{name: "canonical wins", files: []string{"paper-1.20.jar", "server.jar"}, artifact: "server.jar", kind: KindCustom},
		{name: "distribution prefix", files: []string{"purpur-1.21.jar", "zz-lib.jar", "aa-lib.jar"}, artifact: "purpur-1.21.jar", kind: KindCustom},
		{name: "first prefixed by name", files: []string{"spigot-1.20.jar", "fabric-1.20.jar"}, artifact: "fabric-1.20.jar", kind: KindCustom},
		{name: "single jar", files: []string{"mystery.jar"}, artifact: "mystery.jar", kind: KindCustom},
		{name: "ambiguous jars", files: []string{"a.jar", "b.jar"}, kind: KindFabric},
		{name: "empty directory", kind: KindFabric},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			files := map[string]string{}
			for _, f := range tt.files {
				files[f] = ""
			}
			dir := writeFiles(t, files)

			d, err := Resolve(dir, Options{DefaultKind: KindFabric})
			require.NoError(t, err)
			assert.Equal(t, tt.kind, d.Kind)
			assert.Equal(t, tt.artifact, d.Artifact)
			assert.True(t, d.Headless)
		})
	}
}

func TestResolveDefault(t *testing.T) {
	d, err := Resolve(t.TempDir(), Options{DefaultMemory: "3G"})
	require.NoError(t, err)

	assert.Equal(t, KindVanilla, d.Kind)
	assert.Empty(t, d.Artifact)
	assert.Equal(t, Memory{Value: "3G"}, d.Memory)
	assert.Equal(t, SourceDefault, d.Source)
}

func TestResolveUnreadableDirectory(t *testing.T) {
	_, err := Resolve(filepath.Join(t.TempDir(), "missing"), Options{})
	require.ErrorIs(t, err, ErrConfiguration)
}

func TestResolveDoesNotMutate(t *testing.T) {
	dir := writeFiles(t, map[string]string{"start.sh": "java -Xmx1G -jar server.jar nogui\n"})
	before, err := os.ReadDir(dir)
	require.NoError(t, err)

	_, err = Resolve(dir, Options{})
	require.NoError(t, err)

	after, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, len(before), len(after))
}

func TestFingerprintStable(t *testing.T) {
	dir := writeFiles(t, map[string]string{"start.sh": "java -Xms4G -Xmx4G -jar paper-1.21.1.jar nogui\n"})

	a, err := Resolve(dir, Options{})
	require.NoError(t, err)
	b, err := Resolve(dir, Options{})
	require.NoError(t, err)
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	b.Memory = Memory{Value: "8G"}
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
}

func TestDesiredValidate(t *testing.T) {
	require.ErrorIs(t, Desired{Kind: KindCustom}.Validate(), ErrConfiguration)
	require.ErrorIs(t, Desired{Kind: KindVanilla, Memory: Memory{Value: "1G", Max: "2G"}}.Validate(), ErrConfiguration)
	require.NoError(t, Desired{Kind: KindVanilla}.Validate())
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("paper")
	require.NoError(t, err)
	assert.Equal(t, KindPaper, k)

	k, err = ParseKind("")
	require.NoError(t, err)
	assert.Equal(t, KindVanilla, k)

	_, err = ParseKind("bukkit")
	require.ErrorIs(t, err, ErrConfiguration)
}
