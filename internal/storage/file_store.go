package storage

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// FileStore is a YAML-file-backed Store, grounded on the same
// read-whole-file-into-a-struct idiom autod-lite's LoadConfig uses, for
// single-node deployments or tests where etcd isn't available.
//
// The file is re-read on every call rather than watched, matching the
// storage interface's contract in spec.md §4.7: refresh() is the only way
// group state changes, and refresh always goes back to storage.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// fileSchema is the on-disk shape: group name -> service name -> weight.
type fileSchema map[string]map[string]uint32

// NewFileStore builds a FileStore reading from path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) read() (fileSchema, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return fileSchema{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	var schema fileSchema
	if err := yaml.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return schema, nil
}

// ListGroups returns the group names currently in the file.
func (s *FileStore) ListGroups(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	schema, err := s.read()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(schema))
	for name := range schema {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// LoadGroup reads one group's mapping.
func (s *FileStore) LoadGroup(ctx context.Context, name string) (map[string]uint32, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	schema, err := s.read()
	if err != nil {
		return nil, false, err
	}
	mapping, ok := schema[name]
	return mapping, ok, nil
}

// Put writes (or replaces) a group definition, for tests and operator
// tooling.
func (s *FileStore) Put(name string, mapping map[string]uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	schema, err := s.read()
	if err != nil {
		return err
	}
	if schema == nil {
		schema = fileSchema{}
	}
	schema[name] = mapping

	return s.write(schema)
}

// Delete removes a group definition entirely, the file-backed equivalent of
// EtcdStore.DeleteGroup.
func (s *FileStore) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	schema, err := s.read()
	if err != nil {
		return err
	}
	delete(schema, name)

	return s.write(schema)
}

func (s *FileStore) write(schema fileSchema) error {
	data, err := yaml.Marshal(schema)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o644)
}
