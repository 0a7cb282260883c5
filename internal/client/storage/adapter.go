package storage

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"
)

// Adapter is the uniform get/set/remove/clear interface used by the rest of
// the client. Backend failures are logged and reported as "not found" or
// ignored; they are never returned.
type Adapter struct {
	backend Backend
	tier    string
	log     *zap.Logger
}

// NewAdapter wraps backend. tier names the adapter in log entries.
func NewAdapter(tier string, backend Backend, log *zap.Logger) *Adapter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Adapter{backend: backend, tier: tier, log: log}
}

// Get returns the value stored under key and whether it was found.
func (a *Adapter) Get(ctx context.Context, key string) (string, bool) {
	v, err := a.backend.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return "", false
	}
	if err != nil {
		a.log.Error("storage get failed", zap.String("tier", a.tier), zap.String("key", key), zap.Error(err))
		return "", false
	}
	return v, true
}

// Set stores value under key.
func (a *Adapter) Set(ctx context.Context, key, value string) {
	if err := a.backend.Set(ctx, key, value); err != nil {
		a.log.Error("storage set failed", zap.String("tier", a.tier), zap.String("key", key), zap.Error(err))
	}
}

// Remove deletes key.
func (a *Adapter) Remove(ctx context.Context, key string) {
	if err := a.backend.Remove(ctx, key); err != nil {
		a.log.Error("storage remove failed", zap.String("tier", a.tier), zap.String("key", key), zap.Error(err))
	}
}

// Clear deletes every key of this tier.
func (a *Adapter) Clear(ctx context.Context) {
	if err := a.backend.Clear(ctx); err != nil {
		a.log.Error("storage clear failed", zap.String("tier", a.tier), zap.Error(err))
	}
}

// GetObject decodes the JSON value stored under key. A missing key, a
// backend failure and undecodable JSON all yield (nil, false).
func GetObject[T any](ctx context.Context, a *Adapter, key string) (*T, bool) {
	raw, ok := a.Get(ctx, key)
	if !ok {
		return nil, false
	}
	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		a.log.Error("storage object decode failed", zap.String("tier", a.tier), zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return &v, true
}

// SetObject stores v as JSON under key.
func SetObject[T any](ctx context.Context, a *Adapter, key string, v T) {
	b, err := json.Marshal(v)
	if err != nil {
		a.log.Error("storage object encode failed", zap.String("tier", a.tier), zap.String("key", key), zap.Error(err))
		return
	}
	a.Set(ctx, key, string(b))
}

// Tiers holds the two storage tiers: Secure for credentials, General for
// everything else.
type Tiers struct {
	Secure  *Adapter
	General *Adapter
}

// SecureFallbackPrefix namespaces secure keys when no dedicated secure
// backend exists and the general backend is used for both tiers.
const SecureFallbackPrefix = "secure_"

// NewTiers builds both adapters. A nil secure backend falls back to the
// general backend under SecureFallbackPrefix.
func NewTiers(secure, general Backend, log *zap.Logger) Tiers {
	if secure == nil {
		secure = Prefixed(general, SecureFallbackPrefix)
	}
	return Tiers{
		Secure:  NewAdapter("secure", secure, log),
		General: NewAdapter("general", general, log),
	}
}
