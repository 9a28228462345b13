package console

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

type ndjsonWriter struct {
	mu     sync.Mutex
	closer io.Closer
	enc    *json.Encoder
}

func newNDJSONWriter(w io.Writer) *ndjsonWriter {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &ndjsonWriter{enc: enc}
}

func openNDJSONFile(path string) (*ndjsonWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open ndjson file %q: %w", path, err)
	}
	w := newNDJSONWriter(f)
	w.closer = f
	return w, nil
}

func (w *ndjsonWriter) Write(v interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(v); err != nil {
		return fmt.Errorf("failed to write ndjson entry: %w", err)
	}
	return nil
}

func (w *ndjsonWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closer == nil {
		return nil
	}
	if err := w.closer.Close(); err != nil {
		return fmt.Errorf("failed to close ndjson file: %w", err)
	}
	w.closer = nil
	return nil
}
