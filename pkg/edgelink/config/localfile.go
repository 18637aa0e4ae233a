package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// DefaultLocalConfigPath is the local persisted config file's location, per
// the external-interfaces contract.
const DefaultLocalConfigPath = "./config/conf.json"

// FileStore implements external.LocalConfigStore against the local JSON
// config file. Writes are serialised by a mutex (spec: "the implementation
// SHOULD serialise them") and rewrite only the matching device's pollInt
// field, leaving every other field in the document untouched.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore returns a FileStore reading and writing path. An empty path
// uses DefaultLocalConfigPath.
func NewFileStore(path string) *FileStore {
	if path == "" {
		path = DefaultLocalConfigPath
	}
	return &FileStore{path: path}
}

// Load reads and returns the raw document bytes, for the translator to pass
// into Rehash at startup.
func (s *FileStore) Load() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", s.path, err)
	}
	return b, nil
}

// SetDevicePollInterval rewrites the pollInt field of every device entry
// (across every connection) whose deviceId matches and writes the document
// back; if no entry matches it returns an error and leaves the file as it
// is.
func (s *FileStore) SetDevicePollInterval(deviceID string, ms int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", s.path, err)
	}

	var doc map[string]any
	if err := json.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("config: parse %s: %w", s.path, err)
	}

	conns, _ := doc["deviceConnections"].([]any)
	found := false
	for _, c := range conns {
		conn, ok := c.(map[string]any)
		if !ok {
			continue
		}
		devices, _ := conn["devices"].([]any)
		for _, d := range devices {
			dev, ok := d.(map[string]any)
			if !ok {
				continue
			}
			if dev["deviceId"] == deviceID {
				dev["pollInt"] = ms
				found = true
			}
		}
	}
	if !found {
		return fmt.Errorf("config: no device entry for %q in %s", deviceID, s.path)
	}

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal %s: %w", s.path, err)
	}
	if err := os.WriteFile(s.path, out, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", s.path, err)
	}
	return nil
}
