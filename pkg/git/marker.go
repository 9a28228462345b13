package git

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// MarkerFileName lives in the state directory, outside the mirrored tree.
const MarkerFileName = "state.json"

// Marker records the last successful merge into trunk and the open session
// whose server has already run.
type Marker struct {
	LastBackup int64  `json:"last_backup"`
	Session    string `json:"session,omitempty"`
	Commit     string `json:"commit,omitempty"`
	Launched   string `json:"launched,omitempty"`
}

// WriteMarker replaces the marker in stateDir.
func WriteMarker(stateDir string, m Marker) error {
	if stateDir == "" {
		return nil
	}
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(stateDir, MarkerFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write marker: %w", err)
	}
	return os.Rename(tmp, path)
}

// ReadMarker loads the marker. A missing marker yields the zero value.
func ReadMarker(stateDir string) (Marker, error) {
	var m Marker
	if stateDir == "" {
		return m, nil
	}
	data, err := os.ReadFile(filepath.Join(stateDir, MarkerFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return m, fmt.Errorf("failed to read marker: %w", err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("failed to parse marker: %w", err)
	}
	return m, nil
}
