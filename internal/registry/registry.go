// Package registry maps external document identifiers to the dense internal
// doc IDs used throughout the index. IDs are assigned in first-seen order
// starting at 1 and persisted to the docid_map file.
package registry

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	apperrors "github.com/papyrus-search/papyrus/pkg/errors"
)

// MapFileName is the registry's file name inside the index directory.
const MapFileName = "docid_map"

// Registry assigns and resolves internal document IDs.
type Registry struct {
	byExt []string          // internal id - 1 -> external id
	toInt map[string]uint32 // external id -> internal id
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		toInt: make(map[string]uint32),
	}
}

// Assign allocates the next internal ID for extID. A repeated external ID is
// a corrupt corpus and reports ErrDuplicateExternalID.
func (r *Registry) Assign(extID string) (uint32, error) {
	if id, ok := r.toInt[extID]; ok {
		return id, apperrors.Newf(apperrors.ErrDuplicateExternalID,
			"external id %q already mapped to doc %d", extID, id)
	}
	id := uint32(len(r.byExt) + 1)
	r.byExt = append(r.byExt, extID)
	r.toInt[extID] = id
	return id, nil
}

// Lookup resolves an external ID to its internal ID.
func (r *Registry) Lookup(extID string) (uint32, bool) {
	id, ok := r.toInt[extID]
	return id, ok
}

// ExtID resolves an internal ID back to its external ID.
func (r *Registry) ExtID(docID uint32) (string, bool) {
	if docID == 0 || int(docID) > len(r.byExt) {
		return "", false
	}
	return r.byExt[docID-1], true
}

// Count returns the number of registered documents.
func (r *Registry) Count() int {
	return len(r.byExt)
}

// Save writes the registry as tab-separated "ext_id<TAB>internal_id" lines.
// The file is written to a temp path and renamed into place.
func (r *Registry) Save(path string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating %s: %w", tmp, err)
	}
	w := bufio.NewWriter(f)
	for i, ext := range r.byExt {
		if _, err := fmt.Fprintf(w, "%s\t%d\n", ext, i+1); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("writing %s: %w", tmp, err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("flushing %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming %s: %w", tmp, err)
	}
	return nil
}

// Load reads a registry previously written by Save. Internal IDs must be
// dense and in file order; anything else reports corrupt data.
func Load(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.Newf(apperrors.ErrMissingInput, "docid map %s: %v", path, err)
		}
		return nil, apperrors.Newf(apperrors.ErrIO, "opening docid map %s: %v", path, err)
	}
	defer f.Close()

	r := New()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	for scanner.Scan() {
		line++
		ext, idStr, ok := strings.Cut(scanner.Text(), "\t")
		if !ok || ext == "" {
			return nil, apperrors.Newf(apperrors.ErrCorruptData,
				"docid map %s line %d: malformed entry", path, line)
		}
		id, err := strconv.ParseUint(idStr, 10, 32)
		if err != nil {
			return nil, apperrors.Newf(apperrors.ErrCorruptData,
				"docid map %s line %d: bad id %q", path, line, idStr)
		}
		if id != uint64(len(r.byExt)+1) {
			return nil, apperrors.Newf(apperrors.ErrCorruptData,
				"docid map %s line %d: id %d out of sequence", path, line, id)
		}
		if _, dup := r.toInt[ext]; dup {
			return nil, apperrors.Newf(apperrors.ErrDuplicateExternalID,
				"docid map %s line %d: duplicate external id %q", path, line, ext)
		}
		r.byExt = append(r.byExt, ext)
		r.toInt[ext] = uint32(id)
	}
	if err := scanner.Err(); err != nil {
		return nil, apperrors.Newf(apperrors.ErrIO, "reading docid map %s: %v", path, err)
	}
	return r, nil
}
