// etcd is a distributed key-value store with strong consistency (Raft). We
// use it here the same way mini-rpc's EtcdRegistry uses it as a "distributed
// phonebook" — except the keys are routing group definitions rather than
// service instances, and there's no lease/TTL involved: groups are
// durable config, not soft membership state.
//
//	Key:   /locator/groups/{name}
//	Value: JSON-encoded map[string]uint32 (service name -> weight)
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const groupPrefix = "/locator/groups/"

// EtcdStore implements Store using etcd v3, mirroring mini-rpc's
// registry.EtcdRegistry Get/Put-with-prefix idiom.
type EtcdStore struct {
	client *clientv3.Client
}

// NewEtcdStore connects to the given etcd endpoints.
func NewEtcdStore(endpoints []string) (*EtcdStore, error) {
	c, err := clientv3.New(clientv3.Config{Endpoints: endpoints})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return &EtcdStore{client: c}, nil
}

// ListGroups returns every group name currently stored.
func (s *EtcdStore) ListGroups(ctx context.Context) ([]string, error) {
	resp, err := s.client.Get(ctx, groupPrefix, clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	names := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		names = append(names, strings.TrimPrefix(string(kv.Key), groupPrefix))
	}
	return names, nil
}

// LoadGroup reads one group's service->weight mapping.
func (s *EtcdStore) LoadGroup(ctx context.Context, name string) (map[string]uint32, bool, error) {
	resp, err := s.client.Get(ctx, groupPrefix+name)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, false, nil
	}

	var mapping map[string]uint32
	if err := json.Unmarshal(resp.Kvs[0].Value, &mapping); err != nil {
		// A malformed value isn't a storage outage — report not-found so
		// refresh deletes the group rather than retrying forever.
		return nil, false, nil
	}
	return mapping, true, nil
}

// PutGroup writes (or replaces) a group definition. Not part of the Store
// interface the locator reads from — this is the administrative write path
// operators use to publish groups, kept alongside the reader for symmetry
// with mini-rpc's Register/Deregister pairing.
func (s *EtcdStore) PutGroup(ctx context.Context, name string, mapping map[string]uint32) error {
	val, err := json.Marshal(mapping)
	if err != nil {
		return err
	}
	_, err = s.client.Put(ctx, groupPrefix+name, string(val))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// DeleteGroup removes a group definition.
func (s *EtcdStore) DeleteGroup(ctx context.Context, name string) error {
	_, err := s.client.Delete(ctx, groupPrefix+name)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// Close releases the underlying etcd client connection.
func (s *EtcdStore) Close() error {
	return s.client.Close()
}
