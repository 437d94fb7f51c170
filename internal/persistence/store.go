// Package persistence saves and restores the vector index together with its
// positionally aligned record store.
package persistence

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"bartender/internal/domain"
	"bartender/internal/vectorstore/memory"
)

const (
	IndexFile   = "index.bin"
	RecordsFile = "records.json.zst"
)

var (
	// ErrStale means the artifacts agree with each other but were built from a
	// different catalog or embedder. Callers rebuild.
	ErrStale = errors.New("persisted index is stale")
	// ErrCorrupt means the artifacts are unreadable or do not belong together.
	// Proceeding would misalign positions, so callers must stop.
	ErrCorrupt = errors.New("persisted index is corrupt")
)

// Fingerprint identifies the catalog and embedder an artifact pair was built from.
type Fingerprint = memory.Tag

type recordsFile struct {
	Fingerprint string          `json:"fingerprint"`
	Count       int             `json:"count"`
	Records     []domain.Record `json:"records"`
}

// Store reads and writes the artifact pair in a directory.
type Store struct {
	Dir string
}

// NewStore creates a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{Dir: dir}
}

func (s *Store) indexPath() string   { return filepath.Join(s.Dir, IndexFile) }
func (s *Store) recordsPath() string { return filepath.Join(s.Dir, RecordsFile) }

// Exists reports whether both artifacts are present.
func (s *Store) Exists() bool {
	return fileExists(s.indexPath()) && fileExists(s.recordsPath())
}

// Load restores the pair. It returns ErrStale when the pair is consistent but built
// for another fingerprint, and an ErrCorrupt-wrapped error for anything that would
// break positional alignment.
func (s *Store) Load(want Fingerprint) (*memory.Storage, []domain.Record, error) {
	idx, idxTag, err := s.loadIndex()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: index: %v", ErrCorrupt, err)
	}
	rf, err := s.loadRecords()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: records: %v", ErrCorrupt, err)
	}

	recTag, err := decodeFingerprint(rf.Fingerprint)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: records fingerprint: %v", ErrCorrupt, err)
	}
	if recTag != idxTag {
		return nil, nil, fmt.Errorf("%w: index and records come from different builds", ErrCorrupt)
	}
	if rf.Count != len(rf.Records) || idx.Len() != len(rf.Records) {
		return nil, nil, fmt.Errorf("%w: index has %d entries, records file declares %d and holds %d",
			ErrCorrupt, idx.Len(), rf.Count, len(rf.Records))
	}
	if idxTag != want {
		return nil, nil, ErrStale
	}
	return idx, rf.Records, nil
}

// Save writes records first and the index last, each through a temp file and rename.
func (s *Store) Save(fp Fingerprint, idx *memory.Storage, records []domain.Record) error {
	if idx.Len() != len(records) {
		return fmt.Errorf("refusing to save %d vectors with %d records", idx.Len(), len(records))
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}

	rf := recordsFile{Fingerprint: hex.EncodeToString(fp[:]), Count: len(records), Records: records}
	if err := writeAtomic(s.recordsPath(), func(w io.Writer) error {
		enc, err := zstd.NewWriter(w)
		if err != nil {
			return err
		}
		if err := json.NewEncoder(enc).Encode(rf); err != nil {
			_ = enc.Close()
			return err
		}
		return enc.Close()
	}); err != nil {
		return fmt.Errorf("save records: %w", err)
	}

	if err := writeAtomic(s.indexPath(), func(w io.Writer) error {
		return idx.Encode(w, fp)
	}); err != nil {
		return fmt.Errorf("save index: %w", err)
	}
	return nil
}

// Remove deletes both artifacts.
func (s *Store) Remove() error {
	var errs []error
	for _, p := range []string{s.indexPath(), s.recordsPath()} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Store) loadIndex() (*memory.Storage, memory.Tag, error) {
	f, err := os.Open(s.indexPath())
	if err != nil {
		return nil, memory.Tag{}, err
	}
	defer f.Close()
	return memory.Decode(f)
}

func (s *Store) loadRecords() (*recordsFile, error) {
	f, err := os.Open(s.recordsPath())
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var rf recordsFile
	if err := json.NewDecoder(dec).Decode(&rf); err != nil {
		return nil, err
	}
	return &rf, nil
}

func writeAtomic(path string, write func(w io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func decodeFingerprint(s string) (Fingerprint, error) {
	var fp Fingerprint
	b, err := hex.DecodeString(s)
	if err != nil {
		return fp, err
	}
	if len(b) != len(fp) {
		return fp, fmt.Errorf("fingerprint has %d bytes", len(b))
	}
	copy(fp[:], b)
	return fp, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
