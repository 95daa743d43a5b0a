package ctrlserver

import (
	"net"
	"testing"
	"time"

	"propd/internal/cache"
	"propd/internal/nmutex"
	"propd/internal/route"
	"propd/internal/storage"
	"propd/internal/unixaddr"
	"propd/internal/value"
	"propd/internal/wire"
	"propd/internal/workerpool"

	prop "propd/internal/client"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func newTestServer(t *testing.T, name string) (dir string, tbl *route.Table, c *cache.Cache) {
	t.Helper()
	dir = t.TempDir()
	tbl = route.New()
	c = cache.New(cache.Params{
		MinInterval:     time.Millisecond,
		MaxInterval:     10 * time.Millisecond,
		DefaultDuration: time.Minute,
		MinDuration:     time.Millisecond,
	}, nil)
	t.Cleanup(c.Close)

	deps := Deps{
		Cache:     c,
		Route:     tbl,
		NMutex:    nmutex.New(),
		Pool:      workerpool.New(2, 1, 4, 0, nil),
		Client:    prop.New(dir, time.Second),
		SocketDir: dir,
	}
	srv, err := New(name, unixaddr.CtrlServerPath(dir, name), deps, Bootstrap{}, nil)
	require.NoError(t, err)
	go srv.Serve()
	t.Cleanup(func() { srv.Close() })
	return dir, tbl, c
}

func sendCtrl(t *testing.T, dir, server string, req wire.CtrlRequest) wire.CtrlReply {
	t.Helper()
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Net: "unixgram", Name: unixaddr.RandomClientName()})
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))

	buf, err := wire.EncodeCtrlRequest(req)
	require.NoError(t, err)

	servAddr := &net.UnixAddr{Net: "unixgram", Name: unixaddr.CtrlServerPath(dir, server)}
	_, err = conn.WriteToUnix(buf, servAddr)
	require.NoError(t, err)

	reply := make([]byte, 64*1024)
	n, _, err := conn.ReadFromUnix(reply)
	require.NoError(t, err)
	rep, err := wire.DecodeCtrlReply(reply[:n])
	require.NoError(t, err)
	return rep
}

// fakeIOServerFor answers get requests for a child's I/O socket so
// handleRegisterChild's cache-now warm-up and route matching have a
// live backend to delegate to.
func fakeIOServerFor(t *testing.T, dir, name string, values map[string]value.Value) {
	t.Helper()
	ln, err := net.Listen("unix", unixaddr.IOServerPath(dir, name))
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				h, _, err := wire.ReadRequest(conn)
				if err != nil || h.Type != wire.IOGet {
					return
				}
				v, ok := values[h.Key]
				if !ok {
					_ = wire.WriteGetReply(conn, wire.GetReply{})
					_ = wire.WriteResult(conn, 2) // perr.NotFound
					return
				}
				_ = wire.WriteGetReply(conn, wire.GetReply{Duration: int64(durationInf), Value: v})
				_ = wire.WriteResult(conn, 0)
			}()
		}
	}()
}

const durationInf = int64(1<<63 - 1)

func TestRegisterChildWithPrefixOnly(t *testing.T) {
	dir, tbl, _ := newTestServer(t, "parent")
	fakeIOServerFor(t, dir, "sensor1", nil)

	rep := sendCtrl(t, dir, "parent", wire.CtrlRequest{
		Type:   wire.CtrlRegisterChild,
		Name:   "sensor1",
		Prefix: []string{"sensor1.*"},
	})
	assert.EqualValues(t, 0, rep.Result)

	ref, err := tbl.Match("sensor1.temp")
	require.NoError(t, err)
	ref.Release()
}

func TestRegisterChildWarmsCache(t *testing.T) {
	dir, _, c := newTestServer(t, "parent")
	fakeIOServerFor(t, dir, "sensor1", map[string]value.Value{"temp": value.I32Value(72)})

	rep := sendCtrl(t, dir, "parent", wire.CtrlRequest{
		Type:     wire.CtrlRegisterChild,
		Name:     "sensor1",
		CacheNow: []string{"temp"},
		Prefix:   []string{"sensor1.*"},
	})
	require.EqualValues(t, 0, rep.Result)

	v, _, ok := c.Get("temp")
	require.True(t, ok)
	assert.EqualValues(t, 72, v.ToI32())
}

func TestRegisterChildDeniesEmpty(t *testing.T) {
	dir, _, _ := newTestServer(t, "parent")
	rep := sendCtrl(t, dir, "parent", wire.CtrlRequest{Type: wire.CtrlRegisterChild, Name: "sensor1"})
	assert.NotEqualValues(t, 0, rep.Result)
}

func TestUnregisterChildDefaultsToFirst(t *testing.T) {
	dir, tbl, _ := newTestServer(t, "parent")
	fakeIOServerFor(t, dir, "sensor1", nil)

	sendCtrl(t, dir, "parent", wire.CtrlRequest{Type: wire.CtrlRegisterChild, Name: "sensor1", Prefix: []string{"*"}})
	rep := sendCtrl(t, dir, "parent", wire.CtrlRequest{Type: wire.CtrlUnregisterChild})
	assert.EqualValues(t, 0, rep.Result)

	_, err := tbl.Match("anything")
	assert.Error(t, err)
}

func TestDumpDBRouteYAML(t *testing.T) {
	dir, tbl, _ := newTestServer(t, "parent")
	require.NoError(t, tbl.Register(storage.NewNull("static"), []string{"sys.*"}))

	rep := sendCtrl(t, dir, "parent", wire.CtrlRequest{Type: wire.CtrlDumpDBRoute})
	assert.EqualValues(t, 0, rep.Result)

	var snaps []route.Snapshot
	require.NoError(t, yaml.Unmarshal(rep.Payload, &snaps))
	require.Len(t, snaps, 1)
	assert.Equal(t, "static", snaps[0].Name)
}

func TestDumpDBCacheYAML(t *testing.T) {
	dir, _, c := newTestServer(t, "parent")
	c.Set("temp", value.I32Value(5), time.Minute)

	rep := sendCtrl(t, dir, "parent", wire.CtrlRequest{Type: wire.CtrlDumpDBCache})
	assert.EqualValues(t, 0, rep.Result)

	var entries []cache.Entry
	require.NoError(t, yaml.Unmarshal(rep.Payload, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "temp", entries[0].Key)
}
