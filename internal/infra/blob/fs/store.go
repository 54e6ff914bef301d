// Package fs implements core.Store on the local filesystem.
package fs

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"specsync/internal/blob/core"
)

// Store implements core.Store using the local filesystem. Keys map to relative
// file paths under the root. Writes stream to a temp file in the target
// directory and are renamed into place, so a crash leaves either the old or the
// new content. Conditional writes are serialized by an in-process mutex and a
// lock file next to the target, which also excludes other processes.
type Store struct {
	root string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

var _ core.Store = (*Store)(nil)

// StaleLockAge is how old a lock file must be before it is considered abandoned.
var StaleLockAge = 30 * time.Second

// rename and lockRetry are replaced in tests.
var (
	rename    = os.Rename
	lockRetry = 10 * time.Millisecond
)

// New returns a filesystem-backed blob store rooted at path, creating it if needed.
func New(root string) (*Store, error) {
	if root == "" {
		root = "./specs"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Store{root: root, locks: make(map[string]*sync.Mutex)}, nil
}

func (s *Store) Driver() core.Driver { return core.DriverFilesystem }

// Root returns the directory the store writes under.
func (s *Store) Root() string { return s.root }

// sanitizeKey ensures key doesn't escape root and forbids path traversal and absolute paths.
func sanitizeKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("empty key")
	}
	if strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid key contains '..'")
	}
	if strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("invalid absolute key")
	}
	return filepath.ToSlash(filepath.Clean(key)), nil
}

func (s *Store) pathFor(key string) (string, error) {
	k, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(k)), nil
}

func (s *Store) keyLock(path string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[path]
	if !ok {
		l = &sync.Mutex{}
		s.locks[path] = l
	}
	return l
}

// acquire takes the cross-process lock file for path.
func acquire(ctx context.Context, path string) (func(), error) {
	lockPath := path + ".lock"
	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())
			_ = f.Close()
			return func() { _ = os.Remove(lockPath) }, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, err
		}
		if st, statErr := os.Stat(lockPath); statErr == nil && time.Since(st.ModTime()) > StaleLockAge {
			_ = os.Remove(lockPath)
			continue
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetry):
		}
	}
}

// Put writes r to key atomically, honouring IfMatch / IfNoneMatch.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	dataPath, err := s.pathFor(key)
	if err != nil {
		return core.Info{}, err
	}
	if err := os.MkdirAll(filepath.Dir(dataPath), 0o755); err != nil {
		return core.Info{}, err
	}
	l := s.keyLock(dataPath)
	l.Lock()
	defer l.Unlock()
	release, err := acquire(ctx, dataPath)
	if err != nil {
		return core.Info{}, fmt.Errorf("lock %s: %w", key, err)
	}
	defer release()

	current, exists, err := etagOf(dataPath)
	if err != nil {
		return core.Info{}, err
	}
	if err := core.CheckPrecondition(opts, current, exists); err != nil {
		return core.Info{}, fmt.Errorf("put %s: %w", key, err)
	}

	// stream to temp file to compute sha and size
	tmp, err := os.CreateTemp(filepath.Dir(dataPath), ".tmp-*")
	if err != nil {
		return core.Info{}, err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	h := sha256.New()
	size, copyErr := io.Copy(io.MultiWriter(tmp, h), r)
	if copyErr != nil {
		_ = tmp.Close()
		return core.Info{}, copyErr
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return core.Info{}, err
	}
	if err := tmp.Close(); err != nil {
		return core.Info{}, err
	}
	// atomically move into place
	if err := rename(tmp.Name(), dataPath); err != nil {
		return core.Info{}, fmt.Errorf("rename %s: %w", key, err)
	}
	syncDir(filepath.Dir(dataPath))
	return core.Info{Key: key, Size: size, ContentType: opts.ContentType, ETag: hex.EncodeToString(h.Sum(nil)), LastModified: time.Now().UTC()}, nil
}

// Get reads the blob at key. The ETag is the content's sha256.
func (s *Store) Get(_ context.Context, key string) (core.Info, io.ReadCloser, error) {
	dataPath, err := s.pathFor(key)
	if err != nil {
		return core.Info{}, nil, err
	}
	b, err := os.ReadFile(dataPath)
	if errors.Is(err, fs.ErrNotExist) {
		return core.Info{}, nil, fmt.Errorf("blob %s: %w", key, core.ErrNotFound)
	}
	if err != nil {
		return core.Info{}, nil, err
	}
	st, err := os.Stat(dataPath)
	if err != nil {
		return core.Info{}, nil, err
	}
	sum := sha256.Sum256(b)
	info := core.Info{Key: key, Size: int64(len(b)), ETag: hex.EncodeToString(sum[:]), LastModified: st.ModTime().UTC()}
	return info, io.NopCloser(bytes.NewReader(b)), nil
}

func etagOf(path string) (string, bool, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), true, nil
}

// syncDir flushes the directory entry after a rename. Errors are ignored on
// platforms that cannot fsync directories.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

// OverrideRename swaps the function that moves a finished temp file into place
// and returns a restore function. Tests use it to simulate a crash between the
// temp write and the rename.
func OverrideRename(fn func(oldpath, newpath string) error) func() {
	prev := rename
	rename = fn
	return func() { rename = prev }
}
