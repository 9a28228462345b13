// Package environment derives the desired server environment from the
// contents of a world directory: an explicit launch script wins, then a
// canonical or distribution-named jar, then the configured default kind.
package environment

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Kind is the server distribution understood by the container image.
type Kind string

const (
	KindVanilla Kind = "VANILLA"
	KindPaper   Kind = "PAPER"
	KindPurpur  Kind = "PURPUR"
	KindFabric  Kind = "FABRIC"
	KindForge   Kind = "FORGE"
	KindSpigot  Kind = "SPIGOT"
	KindQuilt   Kind = "QUILT"
	// KindCustom runs a specific jar found in the world directory.
	KindCustom Kind = "CUSTOM"
)

// Source values recorded on Desired.
const (
	SourceScriptPrefix = "script:"
	SourceArtifact     = "artifact"
	SourceDefault      = "default"
)

// LaunchScripts are inspected in order.
var LaunchScripts = []string{"start.sh", "start.bat"}

// CanonicalArtifact is preferred over distribution-named jars.
const CanonicalArtifact = "server.jar"

// DistributionPrefixes identify well-known server jars by file name.
var DistributionPrefixes = []string{"paper-", "purpur-", "fabric-", "forge-", "spigot-", "vanilla-", "quilt-"}

// ErrConfiguration is returned when the world directory cannot be inspected or
// the resolved environment is inconsistent.
var ErrConfiguration = errors.New("configuration error")

// ParseKind validates a configured kind name.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToUpper(strings.TrimSpace(s)))
	switch k {
	case KindVanilla, KindPaper, KindPurpur, KindFabric, KindForge, KindSpigot, KindQuilt, KindCustom:
		return k, nil
	case "":
		return KindVanilla, nil
	}
	return "", fmt.Errorf("%w: unknown server kind %q", ErrConfiguration, s)
}

// Memory is either a single value used for both the initial and maximum heap,
// or a split Min/Max pair.
type Memory struct {
	Value string `json:"value,omitempty"`
	Min   string `json:"min,omitempty"`
	Max   string `json:"max,omitempty"`
}

// IsZero reports whether no memory setting was resolved.
func (m Memory) IsZero() bool {
	return m.Value == "" && m.Min == "" && m.Max == ""
}

func (m Memory) String() string {
	switch {
	case m.Value != "":
		return m.Value
	case m.IsZero():
		return ""
	}
	return m.Min + ".." + m.Max
}

// Desired is the resolved server environment.
type Desired struct {
	Kind       Kind     `json:"kind"`
	Artifact   string   `json:"artifact,omitempty"`
	Memory     Memory   `json:"memory"`
	ExtraFlags []string `json:"extra_flags,omitempty"`
	Headless   bool     `json:"headless"`
	Source     string   `json:"source"`
}

// Validate checks the invariants of a resolved environment.
func (d Desired) Validate() error {
	if d.Kind == KindCustom && d.Artifact == "" {
		return fmt.Errorf("%w: CUSTOM environment without artifact", ErrConfiguration)
	}
	if d.Memory.Value != "" && (d.Memory.Min != "" || d.Memory.Max != "") {
		return fmt.Errorf("%w: memory has both a single value and a range", ErrConfiguration)
	}
	return nil
}

// Fingerprint is a stable digest of the environment. Two resolutions of the
// same directory contents produce the same fingerprint.
func (d Desired) Fingerprint() string {
	data, _ := json.Marshal(d)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16]
}

// Options control resolution.
type Options struct {
	// DefaultKind is used when the directory names no artifact.
	DefaultKind Kind
	// DefaultMemory is applied when no launch script sets the heap.
	DefaultMemory string
}

// Resolve inspects workDir and returns the desired environment. It never
// mutates the directory.
func Resolve(workDir string, opts Options) (Desired, error) {
	if opts.DefaultKind == "" {
		opts.DefaultKind = KindVanilla
	}

	entries, err := os.ReadDir(workDir)
	if err != nil {
		return Desired{}, fmt.Errorf("%w: cannot read world directory: %v", ErrConfiguration, err)
	}

	d, ok := fromScripts(workDir)
	if !ok {
		d, ok = fromArtifacts(entries)
	}
	if !ok {
		d = Desired{Kind: opts.DefaultKind, Headless: true, Source: SourceDefault}
	}
	if d.Memory.IsZero() && opts.DefaultMemory != "" && !hasHeapFlag(d.ExtraFlags) {
		d.Memory = Memory{Value: opts.DefaultMemory}
	}

	if err := d.Validate(); err != nil {
		return Desired{}, err
	}
	return d, nil
}

func fromScripts(workDir string) (Desired, bool) {
	for _, name := range LaunchScripts {
		data, err := os.ReadFile(filepath.Join(workDir, name))
		if err != nil {
			continue
		}
		cmd, ok := ParseScript(string(data))
		if !ok {
			continue
		}
		return fromLaunchCommand(cmd, SourceScriptPrefix+name), true
	}
	return Desired{}, false
}

func fromLaunchCommand(cmd LaunchCommand, source string) Desired {
	d := Desired{
		Kind:     KindCustom,
		Artifact: cmd.Artifact,
		Headless: cmd.Headless,
		Source:   source,
	}

	var flags []string
	switch {
	case cmd.Xms != "" && cmd.Xms == cmd.Xmx:
		d.Memory = Memory{Value: cmd.Xms}
	default:
		if cmd.Xms != "" {
			flags = append(flags, "-Xms"+cmd.Xms)
		}
		if cmd.Xmx != "" {
			flags = append(flags, "-Xmx"+cmd.Xmx)
		}
	}
	d.ExtraFlags = append(flags, cmd.JVMFlags...)
	if len(d.ExtraFlags) == 0 {
		d.ExtraFlags = nil
	}
	return d
}

func fromArtifacts(entries []os.DirEntry) (Desired, bool) {
	var jars []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(strings.ToLower(e.Name()), ".jar") {
			jars = append(jars, e.Name())
		}
	}
	sort.Strings(jars)

	pick := func(name string) (Desired, bool) {
		return Desired{Kind: KindCustom, Artifact: name, Headless: true, Source: SourceArtifact}, true
	}

	for _, j := range jars {
		if j == CanonicalArtifact {
			return pick(j)
		}
	}
	for _, j := range jars {
		lower := strings.ToLower(j)
		for _, prefix := range DistributionPrefixes {
			if strings.HasPrefix(lower, prefix) {
				return pick(j)
			}
		}
	}
	if len(jars) == 1 {
		return pick(jars[0])
	}
	return Desired{}, false
}

func hasHeapFlag(flags []string) bool {
	for _, f := range flags {
		if strings.HasPrefix(f, "-Xms") || strings.HasPrefix(f, "-Xmx") {
			return true
		}
	}
	return false
}
