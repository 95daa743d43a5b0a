package storage

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"propd/internal/durationx"
	"propd/internal/perr"
	"propd/internal/unixaddr"
	"propd/internal/value"
	"propd/internal/wire"
)

// NestedUnix delegates every Get/Set/Del to another node's I/O stream
// socket, speaking the same wire.RequestHeader/GetReply/Result framing
// an ioserver handles on the other end. Grounded on
// original_source/lib/builtin/unix.c (temporary, connect-per-call mode)
// and lib/client/builtin/unix.c (long/shared mode, one reused connection
// behind a mutex).
type NestedUnix struct {
	name      string
	socketDir string
	target    string
	shared    bool

	mu   sync.Mutex // guards conn in shared mode
	conn net.Conn   // non-nil only when shared
}

// NewNestedUnix constructs a delegate to target's I/O socket under
// socketDir. When shared is false ("temp" in spec terms) each call opens
// and tears down its own connection; when true ("long") one connection
// is opened immediately and reused, serialized by mu exactly like the
// original's priv_t.shared branch.
func NewNestedUnix(name, socketDir, target string, shared bool) (*NestedUnix, error) {
	n := &NestedUnix{name: name, socketDir: socketDir, target: target, shared: shared}
	if shared {
		conn, err := n.dial()
		if err != nil {
			return nil, err
		}
		n.conn = conn
	}
	return n, nil
}

func (n *NestedUnix) Name() string { return n.name }

// dial opens a fresh connection bound to a random abstract client
// address before connecting, matching io_connect's bind-then-connect
// sequence (a server-side accept needs a nameable peer to reply to, so
// the client can't just connect with an unbound socket).
func (n *NestedUnix) dial() (net.Conn, error) {
	raddr := &net.UnixAddr{Net: "unix", Name: unixaddr.IOServerPath(n.socketDir, n.target)}
	laddr := &net.UnixAddr{Net: "unix", Name: unixaddr.RandomClientName()}
	conn, err := net.DialUnix("unix", laddr, raddr)
	if err != nil {
		return nil, perr.ErrIO
	}
	return conn, nil
}

// withConn acquires the connection to use for one exchange (a fresh
// dial in temp mode, the shared one under lock in long mode) and a
// release func that either closes it (temp) or unlocks (long).
func (n *NestedUnix) withConn() (net.Conn, func(discard bool), error) {
	if n.shared {
		n.mu.Lock()
		return n.conn, func(discard bool) {
			if discard {
				unixStreamDiscard(n.conn)
			}
			n.mu.Unlock()
		}, nil
	}
	conn, err := n.dial()
	if err != nil {
		return nil, nil, err
	}
	return conn, func(discard bool) {
		if discard {
			unixStreamDiscard(conn)
		}
		_ = conn.Close()
	}, nil
}

// unixStreamDiscard drains any bytes left on a connection whose exchange
// aborted mid-protocol, so a subsequent reuse (shared mode) or a
// well-behaved peer doesn't see stale bytes. Mirrors
// original_source/lib/builtin/unix.c:unix_stream_discard, adapted to a
// net.Conn deadline instead of fcntl(O_NONBLOCK).
func unixStreamDiscard(conn net.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Millisecond))
	discard := make([]byte, 256)
	for {
		n, err := conn.Read(discard)
		if n == 0 || err != nil {
			break
		}
	}
	_ = conn.SetReadDeadline(time.Time{})
}

func (n *NestedUnix) Get(ctx context.Context, key string) (value.Value, time.Duration, error) {
	conn, release, err := n.withConn()
	if err != nil {
		return value.Value{}, 0, err
	}

	if err := wire.WriteRequest(conn, wire.RequestHeader{Type: wire.IOGet, Created: nowUnixNano(ctx), Key: key}, nil); err != nil {
		release(true)
		return value.Value{}, 0, perr.ErrIO
	}
	rep, err := wire.ReadGetReply(conn)
	if err != nil {
		release(true)
		return value.Value{}, 0, perr.ErrIO
	}
	res, err := wire.ReadResult(conn)
	if err != nil {
		release(true)
		return value.Value{}, 0, perr.ErrIO
	}
	release(false)

	if res != 0 {
		return value.Value{}, 0, perr.Kind(res)
	}
	dur := durationx.Inf
	if rep.Duration != int64(durationx.Inf) {
		dur = time.Duration(rep.Duration)
	}
	return rep.Value, dur, nil
}

func (n *NestedUnix) Set(ctx context.Context, key string, v value.Value) error {
	conn, release, err := n.withConn()
	if err != nil {
		return err
	}

	if err := wire.WriteRequest(conn, wire.RequestHeader{Type: wire.IOSet, Created: nowUnixNano(ctx), Key: key}, &v); err != nil {
		release(true)
		return perr.ErrIO
	}
	res, err := wire.ReadResult(conn)
	release(err != nil)
	if err != nil {
		return perr.ErrIO
	}
	if res != 0 {
		return perr.Kind(res)
	}
	return nil
}

func (n *NestedUnix) Del(ctx context.Context, key string) error {
	conn, release, err := n.withConn()
	if err != nil {
		return err
	}

	if err := wire.WriteRequest(conn, wire.RequestHeader{Type: wire.IODel, Created: nowUnixNano(ctx), Key: key}, nil); err != nil {
		release(true)
		return perr.ErrIO
	}
	res, err := wire.ReadResult(conn)
	release(err != nil)
	if err != nil {
		return perr.ErrIO
	}
	if res != 0 {
		return perr.Kind(res)
	}
	return nil
}

func (n *NestedUnix) Close() error {
	if n.shared && n.conn != nil {
		return n.conn.Close()
	}
	return nil
}

// Supports reports that nestedunix, like the original's unix storage
// type, supports every operation but not "register immediately into
// cache" semantics (handled one layer up by the route/ctrl server, not
// the backend itself).
func (n *NestedUnix) Supports(Op) bool { return true }

// nowUnixNano stamps a request's Created field; ctx carries no timing
// information today but keeps the signature ready for a future
// per-request deadline.
func nowUnixNano(_ context.Context) int64 {
	return time.Now().UnixNano()
}

var _ io.Closer = (*NestedUnix)(nil)
