package credentials

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// fileRecord is the on-disk form of a Record.
type fileRecord struct {
	JID          string `yaml:"jid"`
	Nickname     string `yaml:"nickname"`
	PasswordHash string `yaml:"password_hash"`
}

// File is the YAML layout of a credentials file:
//
//	users:
//	  - jid: c1@s5
//	    nickname: pemba
//	    password_hash: $2b$12$...
type File struct {
	Users []fileRecord `yaml:"users"`
}

// Load reads a credentials file and builds a Store from it.
func Load(path string) (*Store, error) {
	cleanPath := filepath.Clean(path)
	data, err := os.ReadFile(cleanPath) // #nosec G304 - path comes from operator configuration
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}

	store, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cleanPath, err)
	}
	return store, nil
}

// Parse decodes YAML credentials. Unknown keys are rejected so typos in the
// file surface at startup.
func Parse(data []byte) (*Store, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse credentials: %w", err)
	}

	records := make([]Record, 0, len(f.Users))
	for _, u := range f.Users {
		records = append(records, Record{
			JID:          u.JID,
			Nickname:     u.Nickname,
			PasswordHash: []byte(u.PasswordHash),
		})
	}
	return NewStore(records...)
}

// LoadOrDefault loads path when it is set and falls back to the built-in
// table otherwise.
func LoadOrDefault(path string) (*Store, error) {
	if path == "" {
		return Default(), nil
	}
	return Load(path)
}
