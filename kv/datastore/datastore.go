// Package datastore adapts any ipfs/go-datastore implementation (map, leveldb,
// badger, flatfs, ...) to kv.Store, so an application that already embeds a
// datastore can host the cache and queue in it.
package datastore

import (
	"context"
	"errors"

	ds "github.com/ipfs/go-datastore"

	"github.com/unkn0wn-root/fieldsync/kv"
)

type Store struct {
	d         ds.Datastore
	namespace string
	closeDS   bool
}

var _ kv.Store = (*Store)(nil)

type Config struct {
	Datastore ds.Datastore
	Namespace string // key namespace, e.g. "fieldsync"; empty = root
	CloseDS   bool   // close the datastore on Close
}

func New(cfg Config) (*Store, error) {
	if cfg.Datastore == nil {
		return nil, errors.New("datastore kv: nil datastore")
	}
	return &Store{d: cfg.Datastore, namespace: cfg.Namespace, closeDS: cfg.CloseDS}, nil
}

func (s *Store) key(k string) ds.Key {
	if s.namespace == "" {
		return ds.NewKey(k)
	}
	return ds.KeyWithNamespaces([]string{s.namespace, k})
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.d.Get(ctx, s.key(key))
	if errors.Is(err, ds.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	k := s.key(key)
	if err := s.d.Put(ctx, k, value); err != nil {
		return err
	}
	// queue snapshots must be durable before the caller proceeds
	return s.d.Sync(ctx, k)
}

func (s *Store) Del(ctx context.Context, key string) error {
	err := s.d.Delete(ctx, s.key(key))
	if errors.Is(err, ds.ErrNotFound) {
		return nil
	}
	return err
}

func (s *Store) Close(context.Context) error {
	if s.closeDS {
		return s.d.Close()
	}
	return nil
}
