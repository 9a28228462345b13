// Package properties edits server.properties in place. Unknown keys, comments
// and line order survive a load/save round trip; only the values that are set
// change.
package properties

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// FileName is the game server's configuration file.
const FileName = "server.properties"

// EULAFileName is the end-user licence acceptance file.
const EULAFileName = "eula.txt"

type entry struct {
	raw   string
	key   string
	value string
	isKV  bool
}

// File is a parsed properties file.
type File struct {
	entries []entry
	index   map[string]int
}

// Parse reads key=value lines. Lines starting with # or ! and blank lines are
// kept verbatim.
func Parse(data []byte) *File {
	f := &File{index: make(map[string]int)}
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return f
	}
	for _, raw := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "!") {
			f.entries = append(f.entries, entry{raw: raw})
			continue
		}
		key, value, ok := splitEntry(trimmed)
		if !ok {
			f.entries = append(f.entries, entry{raw: raw})
			continue
		}
		if i, dup := f.index[key]; dup {
			// Last assignment wins, as in java.util.Properties.
			f.entries[i].value = value
			f.entries[i].raw = ""
			continue
		}
		f.index[key] = len(f.entries)
		f.entries = append(f.entries, entry{raw: raw, key: key, value: value, isKV: true})
	}
	return f
}

func splitEntry(line string) (string, string, bool) {
	i := strings.IndexAny(line, "=:")
	if i <= 0 {
		return "", "", false
	}
	return strings.TrimSpace(line[:i]), strings.TrimSpace(line[i+1:]), true
}

// Load reads path. A missing file yields an empty File.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Parse(nil), nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return Parse(data), nil
}

// Get returns the value for key.
func (f *File) Get(key string) (string, bool) {
	i, ok := f.index[key]
	if !ok {
		return "", false
	}
	return f.entries[i].value, true
}

// Set assigns key and reports whether the file changed. New keys are appended.
func (f *File) Set(key, value string) bool {
	if i, ok := f.index[key]; ok {
		if f.entries[i].value == value {
			return false
		}
		f.entries[i].value = value
		f.entries[i].raw = ""
		return true
	}
	f.index[key] = len(f.entries)
	f.entries = append(f.entries, entry{key: key, value: value, isKV: true})
	return true
}

// Keys returns the keys in file order.
func (f *File) Keys() []string {
	keys := make([]string, 0, len(f.index))
	for _, e := range f.entries {
		if e.isKV {
			keys = append(keys, e.key)
		}
	}
	return keys
}

// Bytes renders the file. Untouched lines are emitted exactly as read.
func (f *File) Bytes() []byte {
	var buf bytes.Buffer
	for _, e := range f.entries {
		switch {
		case !e.isKV || e.raw != "":
			buf.WriteString(e.raw)
		default:
			buf.WriteString(e.key + "=" + e.value)
		}
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// Save writes the file atomically.
func (f *File) Save(path string) error {
	return writeAtomic(path, f.Bytes())
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("failed to chmod %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

// RemoteAccess are the settings the controller owns in server.properties.
type RemoteAccess struct {
	RCONPassword string
	RCONPort     int
	ServerPort   int
}

// ApplyRemoteAccess enables RCON and pins the ports in the properties file at
// path, creating it when missing. It reports whether the file changed.
func ApplyRemoteAccess(path string, ra RemoteAccess) (bool, error) {
	f, err := Load(path)
	if err != nil {
		return false, err
	}
	changed := false
	for _, kv := range [][2]string{
		{"enable-rcon", "true"},
		{"rcon.password", ra.RCONPassword},
		{"rcon.port", fmt.Sprint(ra.RCONPort)},
		{"server-port", fmt.Sprint(ra.ServerPort)},
	} {
		if f.Set(kv[0], kv[1]) {
			changed = true
		}
	}
	if !changed {
		return false, nil
	}
	return true, f.Save(path)
}

// WriteEULA accepts the licence in dir.
func WriteEULA(dir string) error {
	return writeAtomic(filepath.Join(dir, EULAFileName), []byte("eula=true\n"))
}

var reFormatting = regexp.MustCompile(`(?i)(?:§|\\u00a7)[0-9a-fk-or]`)

// StripFormatting removes section-sign color and style codes.
func StripFormatting(s string) string {
	return strings.TrimSpace(reFormatting.ReplaceAllString(s, ""))
}

// ServerName returns the motd with formatting removed, or "" when unset.
func (f *File) ServerName() string {
	motd, ok := f.Get("motd")
	if !ok {
		return ""
	}
	motd = strings.ReplaceAll(motd, `\n`, " ")
	return StripFormatting(motd)
}
