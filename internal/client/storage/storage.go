package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// FileBackend stores every key in a single JSON file. The file is read on
// first use and rewritten after each mutation.
type FileBackend struct {
	path   string
	mu     sync.Mutex
	data   map[string]string
	loaded bool
}

// NewFileBackend returns a FileBackend persisting to path. Parent
// directories are created on first write.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

// load reads the file once. A missing file is an empty store.
func (fb *FileBackend) load() error {
	if fb.loaded {
		return nil
	}
	f, err := os.Open(fb.path)
	if err != nil {
		if os.IsNotExist(err) {
			fb.data = make(map[string]string)
			fb.loaded = true
			return nil
		}
		return err
	}
	defer f.Close()

	data := make(map[string]string)
	if err := json.NewDecoder(f).Decode(&data); err != nil {
		return fmt.Errorf("decode %s: %w", fb.path, err)
	}
	fb.data = data
	fb.loaded = true
	return nil
}

// save writes the whole map through a temp file so a crash never leaves a
// truncated store behind.
func (fb *FileBackend) save() error {
	if err := os.MkdirAll(filepath.Dir(fb.path), 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(fb.path), filepath.Base(fb.path)+".*")
	if err != nil {
		return err
	}
	if err := json.NewEncoder(tmp).Encode(fb.data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), fb.path)
}

func (fb *FileBackend) Get(_ context.Context, key string) (string, error) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if err := fb.load(); err != nil {
		return "", err
	}
	v, ok := fb.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (fb *FileBackend) Set(_ context.Context, key, value string) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if err := fb.load(); err != nil {
		return err
	}
	fb.data[key] = value
	return fb.save()
}

func (fb *FileBackend) Remove(_ context.Context, key string) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if err := fb.load(); err != nil {
		return err
	}
	if _, ok := fb.data[key]; !ok {
		return nil
	}
	delete(fb.data, key)
	return fb.save()
}

func (fb *FileBackend) Keys(_ context.Context) ([]string, error) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if err := fb.load(); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(fb.data))
	for k := range fb.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Clear empties the store. A corrupt file is replaced rather than reported.
func (fb *FileBackend) Clear(_ context.Context) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.data = make(map[string]string)
	fb.loaded = true
	return fb.save()
}
