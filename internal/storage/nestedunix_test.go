package storage

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"propd/internal/durationx"
	"propd/internal/perr"
	"propd/internal/value"
	"propd/internal/wire"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNestedUnixGetSuccess(t *testing.T) {
	dir := t.TempDir()
	target := "weather"

	ln, err := net.Listen("unix", filepath.Join(dir, "propd."+target+".io"))
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		h, _, err := wire.ReadRequest(conn)
		require.NoError(t, err)
		assert.Equal(t, wire.IOGet, h.Type)
		assert.Equal(t, "temp", h.Key)

		require.NoError(t, wire.WriteGetReply(conn, wire.GetReply{
			Duration: int64(durationx.Inf),
			Value:    value.I32Value(72),
		}))
		require.NoError(t, wire.WriteResult(conn, 0))
	}()

	n, err := NewNestedUnix("weather", dir, target, false)
	require.NoError(t, err)
	defer n.Close()

	v, dur, err := n.Get(context.Background(), "temp")
	require.NoError(t, err)
	assert.Equal(t, durationx.Inf, dur)
	assert.EqualValues(t, 72, v.ToI32())
}

func TestNestedUnixGetNotFound(t *testing.T) {
	dir := t.TempDir()
	target := "weather"

	ln, err := net.Listen("unix", filepath.Join(dir, "propd."+target+".io"))
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _, _ = wire.ReadRequest(conn)
		_ = wire.WriteGetReply(conn, wire.GetReply{Duration: int64(durationx.Inf)})
		_ = wire.WriteResult(conn, wire.Result(perr.NotFound))
	}()

	n, err := NewNestedUnix("weather", dir, target, false)
	require.NoError(t, err)
	defer n.Close()

	_, _, err = n.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, perr.ErrNotFound)
}

func TestNestedUnixSetShared(t *testing.T) {
	dir := t.TempDir()
	target := "weather"

	ln, err := net.Listen("unix", filepath.Join(dir, "propd."+target+".io"))
	require.NoError(t, err)
	defer ln.Close()

	received := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		h, _, err := wire.ReadRequest(conn)
		if err != nil {
			return
		}
		received <- h.Key
		_ = wire.WriteResult(conn, 0)
	}()

	n, err := NewNestedUnix("weather", dir, target, true)
	require.NoError(t, err)
	defer n.Close()

	require.NoError(t, n.Set(context.Background(), "temp", value.I32Value(5)))

	select {
	case key := <-received:
		assert.Equal(t, "temp", key)
	case <-time.After(2 * time.Second):
		t.Fatal("server never received request")
	}
}

func TestNestedUnixDialFailureMapsToIOErr(t *testing.T) {
	dir := t.TempDir()
	_, err := NewNestedUnix("ghost", dir, "nonexistent", true)
	assert.ErrorIs(t, err, perr.ErrIO)
	_ = os.Remove(filepath.Join(dir, "nothing"))
}
