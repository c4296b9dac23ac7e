package face

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"sync"

	log "github.com/sirupsen/logrus"
)

// MaxNameLength is the longest identity name a registry entry accepts.
const MaxNameLength = 100

var (
	// ErrEmptyName is returned when an entry is added without a name.
	ErrEmptyName = errors.New("identity name must not be empty")
	// ErrNameTooLong is returned when a name exceeds MaxNameLength.
	ErrNameTooLong = errors.New("identity name too long")
	// ErrEmptyDescriptor is returned when an entry is added without a descriptor.
	ErrEmptyDescriptor = errors.New("descriptor must not be empty")
	// ErrDimensionMismatch is returned when a descriptor does not match the
	// dimensionality established by the registry's first entry.
	ErrDimensionMismatch = errors.New("descriptor dimensionality mismatch")
)

// Entry is one known identity with its reference descriptor.
type Entry struct {
	Name       string
	Descriptor Descriptor
}

// Registry holds the ordered list of known identities. Duplicate names are
// allowed; they only improve recall since the matcher picks the nearest entry.
// Reads are frequent during recognition, writes only happen on enrollment, so
// access is guarded by an RWMutex.
type Registry struct {
	mu      sync.RWMutex
	dims    int
	entries []Entry
}

// snapshotBlob is the on-disk layout of a registry snapshot: two parallel
// ordered sequences of equal length.
type snapshotBlob struct {
	Names       []string
	Descriptors [][]float32
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add appends an entry to the registry. The first entry fixes the descriptor
// dimensionality; later entries must match it.
func (r *Registry) Add(name string, d Descriptor) error {
	if name == "" {
		return ErrEmptyName
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("%w: %d characters (max %d)", ErrNameTooLong, len(name), MaxNameLength)
	}
	if len(d) == 0 {
		return ErrEmptyDescriptor
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.dims != 0 && len(d) != r.dims {
		return fmt.Errorf("%w: got %d, registry has %d", ErrDimensionMismatch, len(d), r.dims)
	}
	if r.dims == 0 {
		r.dims = len(d)
	}

	r.entries = append(r.entries, Entry{Name: name, Descriptor: d.Clone()})
	log.Debugf("Registry: added entry for %q (%d entries total)", name, len(r.entries))
	return nil
}

// Entries returns a copy of the ordered entry list. The descriptors themselves
// are shared since they are never mutated.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Remove drops every entry registered under the given name and returns how
// many were removed. Removing the last entry resets the dimensionality so the
// next Add can establish a new one.
func (r *Registry) Remove(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.entries[:0]
	for _, e := range r.entries {
		if e.Name != name {
			kept = append(kept, e)
		}
	}
	removed := len(r.entries) - len(kept)
	r.entries = kept
	if len(r.entries) == 0 {
		r.dims = 0
	}
	if removed > 0 {
		log.Debugf("Registry: removed %d entries for %q (%d entries left)", removed, name, len(r.entries))
	}
	return removed
}

// Clear empties the registry. Clearing an empty registry is a no-op.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = nil
	r.dims = 0
	log.Info("Registry cleared")
}

// Snapshot serializes the full ordered entry list into a single binary blob.
func (r *Registry) Snapshot() ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	blob := snapshotBlob{
		Names:       make([]string, len(r.entries)),
		Descriptors: make([][]float32, len(r.entries)),
	}
	for i, e := range r.entries {
		blob.Names[i] = e.Name
		blob.Descriptors[i] = e.Descriptor
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(blob); err != nil {
		return nil, fmt.Errorf("failed to encode registry snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// Restore replaces the registry state wholesale with the contents of a
// snapshot blob. A malformed or truncated blob leaves the prior state intact.
func (r *Registry) Restore(data []byte) error {
	var blob snapshotBlob
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&blob); err != nil {
		return fmt.Errorf("failed to decode registry snapshot: %w", err)
	}
	if len(blob.Names) != len(blob.Descriptors) {
		return fmt.Errorf("corrupt registry snapshot: %d names but %d descriptors",
			len(blob.Names), len(blob.Descriptors))
	}

	dims := 0
	entries := make([]Entry, len(blob.Names))
	for i := range blob.Names {
		d := Descriptor(blob.Descriptors[i])
		if len(d) == 0 {
			return fmt.Errorf("corrupt registry snapshot: empty descriptor at index %d", i)
		}
		if dims == 0 {
			dims = len(d)
		} else if len(d) != dims {
			return fmt.Errorf("corrupt registry snapshot: %w at index %d", ErrDimensionMismatch, i)
		}
		entries[i] = Entry{Name: blob.Names[i], Descriptor: d}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = entries
	r.dims = dims
	log.Infof("Registry restored with %d entries", len(entries))
	return nil
}

// SaveFile writes a snapshot to disk.
func (r *Registry) SaveFile(path string) error {
	data, err := r.Snapshot()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0640); err != nil {
		return fmt.Errorf("failed to write registry snapshot: %w", err)
	}
	log.Debugf("Registry snapshot written to %s (%d entries)", path, r.Len())
	return nil
}

// LoadFile restores the registry from a snapshot file. A missing file is not
// an error; it simply means no one has been enrolled yet.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Infof("No registry snapshot at %s, starting empty", path)
			return nil
		}
		return fmt.Errorf("failed to read registry snapshot: %w", err)
	}
	// An empty file means nobody has been enrolled yet, same as no file.
	if len(data) == 0 {
		log.Infof("Registry snapshot at %s is empty, starting empty", path)
		return nil
	}
	return r.Restore(data)
}
