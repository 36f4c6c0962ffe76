// Package credentials holds the static table of registered identities and the
// authenticator that checks login attempts against it.
package credentials

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrDuplicateIdentity is returned when two records share a jid.
	ErrDuplicateIdentity = errors.New("duplicate identity")
	// ErrInvalidRecord is returned for records missing a jid, nickname or hash.
	ErrInvalidRecord = errors.New("invalid identity record")
)

// Record is one registered identity. Records are immutable once loaded.
type Record struct {
	JID          string
	Nickname     string
	PasswordHash []byte
}

// Store is a read-only mapping of jid to Record. It is safe for concurrent
// use because nothing mutates it after NewStore returns.
type Store struct {
	records map[string]Record
}

// NewStore validates records and builds a Store from them.
func NewStore(records ...Record) (*Store, error) {
	s := &Store{records: make(map[string]Record, len(records))}
	for i, rec := range records {
		if rec.JID == "" || rec.Nickname == "" || len(rec.PasswordHash) == 0 {
			return nil, fmt.Errorf("record %d: %w", i, ErrInvalidRecord)
		}
		if _, exists := s.records[rec.JID]; exists {
			return nil, fmt.Errorf("record %d (%s): %w", i, rec.JID, ErrDuplicateIdentity)
		}
		rec.PasswordHash = append([]byte(nil), rec.PasswordHash...)
		s.records[rec.JID] = rec
	}
	return s, nil
}

// Lookup returns the record registered under jid.
func (s *Store) Lookup(jid string) (Record, bool) {
	rec, ok := s.records[jid]
	return rec, ok
}

// Len reports the number of registered identities.
func (s *Store) Len() int {
	return len(s.records)
}

// JIDs returns every registered jid in sorted order.
func (s *Store) JIDs() []string {
	jids := make([]string, 0, len(s.records))
	for jid := range s.records {
		jids = append(jids, jid)
	}
	sort.Strings(jids)
	return jids
}
