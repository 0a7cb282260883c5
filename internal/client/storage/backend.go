// Package storage provides the client's persistent key-value storage: a set
// of interchangeable backends and an Adapter that never surfaces backend
// failures to its callers.
package storage

import (
	"context"
	"errors"
	"strings"
)

// ErrNotFound is returned by a Backend when a key has no value.
var ErrNotFound = errors.New("storage: key not found")

// Backend is a raw string key-value store. Implementations report failures;
// the Adapter decides what callers see.
type Backend interface {
	// Get returns the value for key or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error
	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
	// Keys lists every stored key.
	Keys(ctx context.Context) ([]string, error)
	// Clear deletes every key.
	Clear(ctx context.Context) error
}

// prefixed namespaces every key of an underlying backend.
type prefixed struct {
	inner  Backend
	prefix string
}

// Prefixed returns a Backend that stores keys as prefix+key in inner. Keys and
// Clear only see keys carrying the prefix.
func Prefixed(inner Backend, prefix string) Backend {
	return &prefixed{inner: inner, prefix: prefix}
}

func (p *prefixed) Get(ctx context.Context, key string) (string, error) {
	return p.inner.Get(ctx, p.prefix+key)
}

func (p *prefixed) Set(ctx context.Context, key, value string) error {
	return p.inner.Set(ctx, p.prefix+key, value)
}

func (p *prefixed) Remove(ctx context.Context, key string) error {
	return p.inner.Remove(ctx, p.prefix+key)
}

func (p *prefixed) Keys(ctx context.Context) ([]string, error) {
	all, err := p.inner.Keys(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(all))
	for _, k := range all {
		if strings.HasPrefix(k, p.prefix) {
			keys = append(keys, strings.TrimPrefix(k, p.prefix))
		}
	}
	return keys, nil
}

func (p *prefixed) Clear(ctx context.Context) error {
	keys, err := p.Keys(ctx)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := p.Remove(ctx, k); err != nil {
			return err
		}
	}
	return nil
}
