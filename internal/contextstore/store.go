// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package contextstore implements the versioned, concurrency-safe store that
// lets later sections build on earlier ones. Writes are once per
// (section, key); reads are gated by the reader's dependency closure.
// Implements: prd004-shared-context (R1-R5);
//
//	docs/ARCHITECTURE § Shared Context.
package contextstore

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/pdiddy/compose-engine/pkg/types"
)

// ErrNotFound is returned when a key is absent or outside the reader's
// dependency closure. The two cases are deliberately indistinguishable so a
// section cannot probe for siblings' state.
var ErrNotFound = errors.New("context entry not found")

// ErrDuplicateWrite is returned on a second write to the same (section, key).
var ErrDuplicateWrite = errors.New("context entry already written")

// Store is the shared context store. All mutation is write-once or
// append-only per section, which rules out write-write races by construction;
// the mutex only guards map structure.
type Store struct {
	mu sync.RWMutex

	// entries maps sectionID -> key -> value.
	entries map[string]map[string]string

	// accumulators maps accumulator key -> sectionID -> appended items.
	accumulators map[string]map[string][]string
}

// New returns an empty store.
func New() *Store {
	return &Store{
		entries:      make(map[string]map[string]string),
		accumulators: make(map[string]map[string][]string),
	}
}

// Write records a value for (sectionID, key). A second write to the same
// pair fails with ErrDuplicateWrite. Per prd004-shared-context R1.1.
func (s *Store) Write(sectionID, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.entries[sectionID]
	if !ok {
		m = make(map[string]string)
		s.entries[sectionID] = m
	}
	if _, exists := m[key]; exists {
		return fmt.Errorf("section %q key %q: %w", sectionID, key, ErrDuplicateWrite)
	}
	m[key] = value
	return nil
}

// Append adds an item to a named accumulator on behalf of a section.
// Accumulators merge contributions from many sections in document order,
// not completion order; see Snapshot.Merged. Per prd004-shared-context R4.1.
func (s *Store) Append(sectionID, accKey, item string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.accumulators[accKey]
	if !ok {
		m = make(map[string][]string)
		s.accumulators[accKey] = m
	}
	m[sectionID] = append(m[sectionID], item)
}

// Snapshot returns an immutable copy-on-write view of the store. The
// orchestrator takes one snapshot per wave boundary so concurrently running
// siblings never observe each other's partial writes.
// Per prd004-shared-context R3.1-R3.2.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make(map[string]map[string]string, len(s.entries))
	for sid, m := range s.entries {
		cp := make(map[string]string, len(m))
		for k, v := range m {
			cp[k] = v
		}
		entries[sid] = cp
	}
	accs := make(map[string]map[string][]string, len(s.accumulators))
	for key, m := range s.accumulators {
		cp := make(map[string][]string, len(m))
		for sid, items := range m {
			cp[sid] = append([]string{}, items...)
		}
		accs[key] = cp
	}
	return Snapshot{entries: entries, accumulators: accs}
}

// Dump serializes the store's full contents for checkpointing.
func (s *Store) Dump() types.ContextDump {
	snap := s.Snapshot()
	return types.ContextDump{
		Entries:      snap.entries,
		Accumulators: snap.accumulators,
	}
}

// Restore replaces the store's contents from a checkpoint dump.
// Per prd007-persistence R3.2.
func (s *Store) Restore(dump types.ContextDump) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]map[string]string, len(dump.Entries))
	for sid, m := range dump.Entries {
		cp := make(map[string]string, len(m))
		for k, v := range m {
			cp[k] = v
		}
		s.entries[sid] = cp
	}
	s.accumulators = make(map[string]map[string][]string, len(dump.Accumulators))
	for key, m := range dump.Accumulators {
		cp := make(map[string][]string, len(m))
		for sid, items := range m {
			cp[sid] = append([]string{}, items...)
		}
		s.accumulators[key] = cp
	}
}

// Snapshot is an immutable view of the store taken at a wave boundary.
// Reads never touch the live store, so no locking is needed on the hot path.
type Snapshot struct {
	entries      map[string]map[string]string
	accumulators map[string]map[string][]string
}

// Read returns the value written by sectionID for key, provided sectionID is
// in the reader's dependency closure. Everything else is ErrNotFound.
// Per prd004-shared-context R2.1-R2.3.
func (v Snapshot) Read(closure map[string]bool, sectionID, key string) (string, error) {
	if !closure[sectionID] {
		return "", fmt.Errorf("section %q key %q: %w", sectionID, key, ErrNotFound)
	}
	m, ok := v.entries[sectionID]
	if !ok {
		return "", fmt.Errorf("section %q key %q: %w", sectionID, key, ErrNotFound)
	}
	val, ok := m[key]
	if !ok {
		return "", fmt.Errorf("section %q key %q: %w", sectionID, key, ErrNotFound)
	}
	return val, nil
}

// Merged returns the accumulator's items combined across sections in the
// given document order. Contributions from sections outside the order are
// appended afterward, sorted by section ID, so output stays deterministic.
// Per prd004-shared-context R4.2.
func (v Snapshot) Merged(accKey string, documentOrder []string) []string {
	m, ok := v.accumulators[accKey]
	if !ok {
		return nil
	}

	var out []string
	seen := make(map[string]bool, len(documentOrder))
	for _, sid := range documentOrder {
		seen[sid] = true
		out = append(out, m[sid]...)
	}

	var rest []string
	for sid := range m {
		if !seen[sid] {
			rest = append(rest, sid)
		}
	}
	sort.Strings(rest)
	for _, sid := range rest {
		out = append(out, m[sid]...)
	}
	return out
}

// Keys returns the keys written by a section, sorted. Intended for
// diagnostics and tests.
func (v Snapshot) Keys(sectionID string) []string {
	m, ok := v.entries[sectionID]
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
