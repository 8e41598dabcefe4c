package kv

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

const (
	// FilePermissions restricts persisted blobs to user read + write.
	FilePermissions os.FileMode = 0600

	// DirPermissions restricts store directories to the owning user.
	DirPermissions os.FileMode = 0700
)

// Store keys map to relative file paths; this pattern keeps them from
// escaping the base directory.
var keyPattern = regexp.MustCompile(`^[a-zA-Z0-9\-_.]+(/[a-zA-Z0-9\-_.]+)*$`)

// FileSystemStore implements Store on the local filesystem. Each key maps
// to one file under the base directory; slashes in keys become
// subdirectories. Writes go through a temp file and rename so a crash never
// leaves a torn blob behind.
type FileSystemStore struct {
	basePath string
	tempDir  string
}

// NewFileSystemStore initializes a store rooted at basePath, creating the
// directory tree with owner-only permissions.
func NewFileSystemStore(basePath string) (*FileSystemStore, error) {
	if basePath == "" {
		return nil, fmt.Errorf("base path is required")
	}

	store := &FileSystemStore{
		basePath: basePath,
		tempDir:  filepath.Join(basePath, ".tmp"),
	}

	for _, dir := range []string{store.basePath, store.tempDir} {
		if err := os.MkdirAll(dir, DirPermissions); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return store, nil
}

// NewFileSystemStoreFromConfig creates a FileSystemStore from Config.
func NewFileSystemStoreFromConfig(config Config) (*FileSystemStore, error) {
	basePath, ok := config.Config["base_path"].(string)
	if !ok {
		return nil, fmt.Errorf("base_path is required for filesystem store")
	}
	return NewFileSystemStore(basePath)
}

func (f *FileSystemStore) Get(key string) ([]byte, error) {
	path, err := f.pathFor(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, nil
}

func (f *FileSystemStore) Put(key string, value []byte) error {
	path, err := f.pathFor(key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), DirPermissions); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", key, err)
	}

	return f.writeSecureFile(path, value)
}

func (f *FileSystemStore) Delete(key string) error {
	path, err := f.pathFor(key)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (f *FileSystemStore) Keys(prefix string) ([]string, error) {
	var keys []string

	err := filepath.WalkDir(f.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path == f.tempDir {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(f.basePath, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}

	sort.Strings(keys)
	return keys, nil
}

func (f *FileSystemStore) Ping() error {
	if _, err := os.Stat(f.basePath); err != nil {
		return fmt.Errorf("store directory unavailable: %w", err)
	}
	return nil
}

func (f *FileSystemStore) Close() error { return nil }

func (f *FileSystemStore) GetType() string { return string(StoreTypeFileSystem) }

// pathFor validates the key and resolves it under the base directory.
func (f *FileSystemStore) pathFor(key string) (string, error) {
	if !keyPattern.MatchString(key) || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid key: %q", key)
	}
	return filepath.Join(f.basePath, filepath.FromSlash(key)), nil
}

// writeSecureFile writes data atomically: temp file in the same filesystem,
// fsync, then rename over the destination.
func (f *FileSystemStore) writeSecureFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(f.tempDir, "put-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if err = tmp.Chmod(FilePermissions); err != nil {
		cleanup()
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if _, err = tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("failed to sync data: %w", err)
	}
	if err = tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err = os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to commit write: %w", err)
	}
	return nil
}
