// Package artifacts stores generated images on disk, content-addressed so a
// transcript can reference an image by hash without carrying the bytes.
package artifacts

import (
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/zeebo/blake3"
)

type Store struct {
	root string
	mu   sync.Mutex
}

func NewStore(root string) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("artifacts: empty root")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("artifacts: %w", err)
	}
	return &Store{root: root}, nil
}

// Hash returns the hex blake3 digest used as an artifact's address.
func Hash(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Put stores data and returns its hash. Storing the same bytes twice is a
// no-op returning the same hash.
func (s *Store) Put(data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("artifacts: empty data")
	}
	hash := Hash(data)
	path := s.path(hash)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := os.Stat(path); err == nil {
		return hash, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("artifacts: %w", err)
	}
	// Write-then-rename so a crash never leaves a half-written artifact at
	// its final address.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("artifacts: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("artifacts: %w", err)
	}
	return hash, nil
}

func (s *Store) Get(hash string) ([]byte, error) {
	if !validHash(hash) {
		return nil, fmt.Errorf("artifacts: invalid hash %q", hash)
	}
	data, err := os.ReadFile(s.path(hash))
	if err != nil {
		return nil, fmt.Errorf("artifacts: %w", err)
	}
	return data, nil
}

func (s *Store) Has(hash string) bool {
	if !validHash(hash) {
		return false
	}
	_, err := os.Stat(s.path(hash))
	return err == nil
}

// Prune removes artifacts not in keep. Paths (relative to the store root)
// matching any exclude glob survive regardless; the globs follow gitignore-ish
// ** semantics.
func (s *Store) Prune(keep []string, excludeGlobs []string) (removed int, err error) {
	keepSet := make(map[string]bool, len(keep))
	for _, h := range keep {
		keepSet[h] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	walkErr := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, werr error) error {
		if werr != nil || d.IsDir() {
			return werr
		}
		rel, rerr := filepath.Rel(s.root, path)
		if rerr != nil {
			return rerr
		}
		rel = filepath.ToSlash(rel)
		for _, glob := range excludeGlobs {
			if ok, _ := doublestar.Match(glob, rel); ok {
				return nil
			}
		}
		hash := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		if keepSet[hash] {
			return nil
		}
		if err := os.Remove(path); err != nil {
			return err
		}
		removed++
		return nil
	})
	return removed, walkErr
}

// PruneAged removes artifacts older than maxAge whose store-relative path
// matches any of the globs. No globs means nothing is eligible.
func (s *Store) PruneAged(maxAge time.Duration, globs []string) (removed int, err error) {
	if len(globs) == 0 || maxAge <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-maxAge)

	s.mu.Lock()
	defer s.mu.Unlock()
	walkErr := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, werr error) error {
		if werr != nil || d.IsDir() {
			return werr
		}
		rel, rerr := filepath.Rel(s.root, path)
		if rerr != nil {
			return rerr
		}
		rel = filepath.ToSlash(rel)
		matched := false
		for _, glob := range globs {
			if ok, _ := doublestar.Match(glob, rel); ok {
				matched = true
				break
			}
		}
		if !matched {
			return nil
		}
		info, ierr := d.Info()
		if ierr != nil {
			return ierr
		}
		if info.ModTime().After(cutoff) {
			return nil
		}
		if err := os.Remove(path); err != nil {
			return err
		}
		removed++
		return nil
	})
	return removed, walkErr
}

func (s *Store) path(hash string) string {
	return filepath.Join(s.root, hash[:2], hash+".png")
}

func validHash(hash string) bool {
	if len(hash) != 64 {
		return false
	}
	_, err := hex.DecodeString(hash)
	return err == nil
}
