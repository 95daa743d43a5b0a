package ioserver

import (
	"context"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"propd/internal/durationx"
	"propd/internal/nmutex"
	"propd/internal/perr"
	"propd/internal/route"
	"propd/internal/value"
	"propd/internal/wire"
	"propd/internal/workerpool"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memBackend is a minimal in-memory storage.Backend for exercising the
// server's dispatch path without depending on a real backend package.
type memBackend struct {
	name string
	mu   sync.Mutex
	data map[string]value.Value
}

func newMemBackend(name string) *memBackend { return &memBackend{name: name, data: map[string]value.Value{}} }

func (m *memBackend) Name() string { return m.name }

func (m *memBackend) Get(_ context.Context, key string) (value.Value, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return value.Value{}, 0, perr.ErrNotFound
	}
	return v, durationx.Inf, nil
}

func (m *memBackend) Set(_ context.Context, key string, v value.Value) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = v
	return nil
}

func (m *memBackend) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; !ok {
		return perr.ErrNotFound
	}
	delete(m.data, key)
	return nil
}

func (m *memBackend) Close() error { return nil }

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	tbl := route.New()
	require.NoError(t, tbl.Register(newMemBackend("weather"), []string{"*"}))

	deps := Deps{
		Route:  tbl,
		NMutex: nmutex.New(),
		Pool:   workerpool.New(2, 1, 4, 0, nil),
	}

	dir := t.TempDir()
	socketPath := filepath.Join(dir, "propd.test.io")
	srv, err := New("test", socketPath, deps, nil)
	require.NoError(t, err)

	go srv.Serve()
	t.Cleanup(func() { srv.Close() })
	return srv, socketPath
}

func TestSetThenGet(t *testing.T) {
	_, socketPath := newTestServer(t)

	conn, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	defer conn.Close()

	v := value.I32Value(7)
	require.NoError(t, wire.WriteRequest(conn, wire.RequestHeader{Type: wire.IOSet, Key: "temp"}, &v))
	res, err := wire.ReadResult(conn)
	require.NoError(t, err)
	assert.EqualValues(t, 0, res)

	require.NoError(t, wire.WriteRequest(conn, wire.RequestHeader{Type: wire.IOGet, Key: "temp"}, nil))
	rep, err := wire.ReadGetReply(conn)
	require.NoError(t, err)
	res, err = wire.ReadResult(conn)
	require.NoError(t, err)
	assert.EqualValues(t, 0, res)
	got := rep.Value.ToI32()
	assert.EqualValues(t, 7, got)
}

func TestGetMissingKey(t *testing.T) {
	_, socketPath := newTestServer(t)

	conn, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, wire.WriteRequest(conn, wire.RequestHeader{Type: wire.IOGet, Key: "missing"}, nil))
	_, err = wire.ReadGetReply(conn)
	require.NoError(t, err)
	res, err := wire.ReadResult(conn)
	require.NoError(t, err)
	assert.EqualValues(t, perr.NotFound, res)
}

func TestDelRoundTrip(t *testing.T) {
	_, socketPath := newTestServer(t)

	conn, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	defer conn.Close()

	v := value.CStringValue("x")
	require.NoError(t, wire.WriteRequest(conn, wire.RequestHeader{Type: wire.IOSet, Key: "k"}, &v))
	_, _ = wire.ReadResult(conn)

	require.NoError(t, wire.WriteRequest(conn, wire.RequestHeader{Type: wire.IODel, Key: "k"}, nil))
	res, err := wire.ReadResult(conn)
	require.NoError(t, err)
	assert.EqualValues(t, 0, res)

	require.NoError(t, wire.WriteRequest(conn, wire.RequestHeader{Type: wire.IODel, Key: "k"}, nil))
	res, err = wire.ReadResult(conn)
	require.NoError(t, err)
	assert.EqualValues(t, perr.NotFound, res)
}
