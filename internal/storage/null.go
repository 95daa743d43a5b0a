package storage

import (
	"context"
	"time"

	"propd/internal/perr"
	"propd/internal/value"
)

// Null is the no-op backend: Set and Del succeed without effect; Get is
// unimplemented. Grounded on builtin/null.c.
type Null struct {
	name string
}

func NewNull(name string) *Null { return &Null{name: name} }

func (n *Null) Name() string { return n.name }

func (n *Null) Get(context.Context, string) (value.Value, time.Duration, error) {
	return value.Value{}, 0, perr.ErrNotSupported
}

func (n *Null) Set(context.Context, string, value.Value) error { return nil }

func (n *Null) Del(context.Context, string) error { return nil }

func (n *Null) Close() error { return nil }

func (n *Null) Supports(op Op) bool { return op != OpGet }
