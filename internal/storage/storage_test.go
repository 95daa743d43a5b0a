package storage

import (
	"context"
	"testing"

	"propd/internal/durationx"
	"propd/internal/perr"
	"propd/internal/value"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNullBackend(t *testing.T) {
	ctx := context.Background()
	n := NewNull("fs-null")

	assert.NoError(t, Set(ctx, n, "k", value.U32Value(1)))
	assert.NoError(t, Del(ctx, n, "k"))
	_, _, err := Get(ctx, n, "k")
	assert.ErrorIs(t, err, perr.ErrNotSupported)
}

func TestFileBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	f, err := NewFile("fs", fs, "/data")
	require.NoError(t, err)

	require.NoError(t, f.Set(ctx, "color", value.CStringValue("blue")))

	v, dur, err := f.Get(ctx, "color")
	require.NoError(t, err)
	assert.Equal(t, "blue", value.Format(v, false))
	assert.Equal(t, durationx.Inf, dur)

	require.NoError(t, f.Del(ctx, "color"))
	_, _, err = f.Get(ctx, "color")
	assert.ErrorIs(t, err, perr.ErrNotFound)
}

func TestFileBackendRejectsTraversal(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	f, err := NewFile("fs", fs, "/data")
	require.NoError(t, err)

	_, _, err = f.Get(ctx, "../etc/passwd")
	assert.ErrorIs(t, err, perr.ErrInvalid)
	assert.ErrorIs(t, f.Set(ctx, "a/b", value.U32Value(1)), perr.ErrInvalid)
}
