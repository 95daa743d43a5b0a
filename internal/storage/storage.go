// Package storage defines the backend contract every propd storage must
// honor, and the null/file backends. Grounded on
// original_source/lib/storage.h (function-pointer contract) and
// builtin/null.c, builtin/file.c.
package storage

import (
	"context"
	"time"

	"propd/internal/perr"
	"propd/internal/value"
)

// Backend is the uniform get/set/del/close contract. A backend may opt
// out of Get, Set or Del through OptionalBackend, in which case the
// package-level Get/Set/Del helpers report NotSupported to callers. Close
// always exists, even if it is a no-op.
type Backend interface {
	Name() string
	Get(ctx context.Context, key string) (value.Value, time.Duration, error)
	Set(ctx context.Context, key string, v value.Value) error
	Del(ctx context.Context, key string) error
	Close() error
}

// OptionalBackend lets a concrete backend opt out of individual
// operations (returning ErrNotSupported would also work, but a separate
// capability check keeps the helpers' "absent means unsupported" semantics
// explicit and testable without invoking the operation).
type OptionalBackend interface {
	Backend
	Supports(op Op) bool
}

// Op names a storage operation for capability checks.
type Op int

const (
	OpGet Op = iota
	OpSet
	OpDel
)

// Supported reports whether backend implements op, defaulting to true for
// plain Backend implementations (the common case: all three are wired).
func Supported(b Backend, op Op) bool {
	if ob, ok := b.(OptionalBackend); ok {
		return ob.Supports(op)
	}
	return true
}

// Get calls backend.Get if supported, else returns NotSupported.
func Get(ctx context.Context, b Backend, key string) (value.Value, time.Duration, error) {
	if !Supported(b, OpGet) {
		return value.Value{}, 0, perr.ErrNotSupported
	}
	return b.Get(ctx, key)
}

// Set calls backend.Set if supported, else returns NotSupported.
func Set(ctx context.Context, b Backend, key string, v value.Value) error {
	if !Supported(b, OpSet) {
		return perr.ErrNotSupported
	}
	return b.Set(ctx, key, v)
}

// Del calls backend.Del if supported, else returns NotSupported.
func Del(ctx context.Context, b Backend, key string) error {
	if !Supported(b, OpDel) {
		return perr.ErrNotSupported
	}
	return b.Del(ctx, key)
}
