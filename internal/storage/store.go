// Package storage implements the persistent group storage collaborator
// from spec.md §1/§6/§7: list_groups()/load_group() backed either by etcd
// (for a multi-node deployment sharing group definitions) or a local YAML
// file (for single-node use and tests).
package storage

import (
	"context"
	"errors"
)

// ErrStorageUnavailable mirrors spec.md's StorageUnavailable: the backend
// itself failed (timeout, connection refused), distinct from a group simply
// not existing, which refresh treats as silent deletion, never an error.
var ErrStorageUnavailable = errors.New("storage: backend unavailable")

// Store is the persistent group storage interface. A group not existing is
// reported via the found return, not an error — see ErrStorageUnavailable's
// doc comment for why that distinction matters to refresh's contract.
type Store interface {
	ListGroups(ctx context.Context) ([]string, error)
	LoadGroup(ctx context.Context, name string) (mapping map[string]uint32, found bool, err error)
}
