package objectstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/spaolacci/murmur3"
)

// FSProvider is a local-filesystem Provider, grounded directly on the
// teacher's own disk I/O seams: osOpenReadSeeker, osOpenWriteSeeker,
// osReaddirnames, osCreateWriteCloser (package.go). Those free functions
// existed so the teacher could substitute fakes in tests; here the same
// role is played by FSProvider satisfying the Provider interface, so the
// WAL/blockstore code is identical whether it runs against FSProvider or
// S3Provider.
//
// CompareAndSwap's atomicity is local-process only: it is backed by an
// in-memory hash table guarded by a mutex, not a filesystem-level fencing
// token. This is adequate for the single-writer-per-log contract the WAL
// layer enforces (spec.md §4.2.1) and for tests; a multi-process deployment
// should use S3Provider, whose CompareAndSwap is backed by S3's conditional
// PutObject (If-Match on ETag).
type FSProvider struct {
	root string

	mu     sync.Mutex
	hashes map[string]Hash
}

// NewFSProvider roots a Provider at dir, creating it if necessary.
func NewFSProvider(dir string) (*FSProvider, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FSProvider{root: dir, hashes: make(map[string]Hash)}, nil
}

func (f *FSProvider) fullPath(path string) string {
	return filepath.Join(f.root, filepath.FromSlash(path))
}

func contentHash(data []byte) Hash {
	var h Hash
	v := murmur3.Sum64(data)
	for i := 0; i < 8; i++ {
		h[i] = byte(v >> (56 - 8*i))
	}
	return h
}

func (f *FSProvider) Put(ctx context.Context, path string, data []byte) error {
	full := f.fullPath(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return err
	}
	f.mu.Lock()
	f.hashes[path] = contentHash(data)
	f.mu.Unlock()
	return nil
}

func (f *FSProvider) PutIfAbsent(ctx context.Context, path string, data []byte) error {
	full := f.fullPath(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	fp, err := os.OpenFile(full, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return ErrAlreadyExists
		}
		return err
	}
	defer fp.Close()
	if _, err := fp.Write(data); err != nil {
		return err
	}
	f.mu.Lock()
	f.hashes[path] = contentHash(data)
	f.mu.Unlock()
	return nil
}

func (f *FSProvider) CompareAndSwap(ctx context.Context, path string, expectedHash Hash, data []byte) (Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	current, exists := f.hashes[path]
	if expectedHash == ZeroHash {
		if exists {
			return Hash{}, ErrCASMismatch
		}
	} else {
		if !exists || current != expectedHash {
			return Hash{}, ErrCASMismatch
		}
	}
	full := f.fullPath(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return Hash{}, err
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return Hash{}, err
	}
	newHash := contentHash(data)
	f.hashes[path] = newHash
	return newHash, nil
}

func (f *FSProvider) Get(ctx context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(f.fullPath(path))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	return data, err
}

func (f *FSProvider) GetRange(ctx context.Context, path string, r Range) ([]byte, error) {
	fp, err := os.Open(f.fullPath(path))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer fp.Close()
	if _, err := fp.Seek(r.Offset, io.SeekStart); err != nil {
		return nil, err
	}
	buf := make([]byte, r.Length)
	n, err := io.ReadFull(fp, buf)
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		return buf[:n], nil
	}
	if err != nil {
		return nil, err
	}
	return buf, nil
}

func (f *FSProvider) Head(ctx context.Context, path string) (Head, error) {
	info, err := os.Stat(f.fullPath(path))
	if os.IsNotExist(err) {
		return Head{}, ErrNotFound
	}
	if err != nil {
		return Head{}, err
	}
	f.mu.Lock()
	hash, known := f.hashes[path]
	f.mu.Unlock()
	if !known {
		// The object may have been written by a prior process instance (or
		// discovered via List rather than Put); compute and cache its hash
		// lazily so CAS preconditions still work after a restart.
		data, err := os.ReadFile(f.fullPath(path))
		if err != nil {
			return Head{}, err
		}
		hash = contentHash(data)
		f.mu.Lock()
		f.hashes[path] = hash
		f.mu.Unlock()
	}
	return Head{Size: info.Size(), ModTime: info.ModTime(), Hash: hash}, nil
}

func (f *FSProvider) List(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	root := f.fullPath(prefix)
	// Walk from the nearest existing ancestor directory of the prefix so a
	// prefix that names a partial filename (not just a directory) still
	// works, matching object-store prefix semantics.
	walkRoot := root
	for {
		if info, err := os.Stat(walkRoot); err == nil && info.IsDir() {
			break
		}
		parent := filepath.Dir(walkRoot)
		if parent == walkRoot {
			return out, nil
		}
		walkRoot = parent
	}
	err := filepath.Walk(walkRoot, func(p string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(f.root, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(rel, prefix) {
			out = append(out, rel)
		}
		return nil
	})
	sort.Strings(out)
	return out, err
}

func (f *FSProvider) Copy(ctx context.Context, from, to string) error {
	data, err := f.Get(ctx, from)
	if err != nil {
		return err
	}
	return f.Put(ctx, to, data)
}

func (f *FSProvider) Delete(ctx context.Context, path string) error {
	f.mu.Lock()
	delete(f.hashes, path)
	f.mu.Unlock()
	err := os.Remove(f.fullPath(path))
	if os.IsNotExist(err) {
		return ErrNotFound
	}
	return err
}

func (f *FSProvider) SupportsDelete() bool { return true }

var _ Provider = (*FSProvider)(nil)
