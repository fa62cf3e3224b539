package repository

import (
	"context"
	"errors"
)

// ErrNotFound is returned by KV.Get when the key holds no value.
var ErrNotFound = errors.New("key not found")

// ErrCorruptRecord is returned when a stored value cannot be decoded.
var ErrCorruptRecord = errors.New("corrupt record")

// KV is the durable key-value backend behind the session store.
// Every Set replaces the whole value atomically.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, keys ...string) error
}
