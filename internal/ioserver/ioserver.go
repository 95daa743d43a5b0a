// Package ioserver implements propd's stream I/O server: a UNIX
// SOCK_STREAM accept loop dispatching GET/SET/DEL requests through the
// cache, route table, and named-mutex namespace down to a storage
// backend. Grounded on original_source/lib/io_server.c (local_get/
// local_set/local_del dispatch order, cred_check hook) and
// lib/unix_stream.c (unix_stream_discard on protocol error); the
// accept-loop/per-connection dispatch shape follows teacher's
// (armandParser-gofast-server) server.go Start/handleConnection.
package ioserver

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"propd/internal/cache"
	"propd/internal/durationx"
	"propd/internal/nmutex"
	"propd/internal/perr"
	"propd/internal/route"
	"propd/internal/value"
	"propd/internal/wire"
	"propd/internal/workerpool"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Deps bundles the shared state an I/O server dispatches requests
// through; Cache may be nil (spec §4.3: caching is disabled entirely
// when max_interval is 0).
type Deps struct {
	Cache  *cache.Cache
	Route  *route.Table
	NMutex *nmutex.Namespace
	Pool   *workerpool.Pool
}

// Server accepts stream connections on a UNIX socket and serves them
// off the shared worker pool.
type Server struct {
	name string
	deps Deps
	log  *logrus.Entry

	ln net.Listener

	wg       sync.WaitGroup
	stopOnce sync.Once
	stop     chan struct{}
}

// New binds the stream socket at socketPath (caller constructs the path
// per spec's PathFmt_IOServer convention) but does not start accepting
// yet; call Serve in its own goroutine.
func New(name, socketPath string, deps Deps, log *logrus.Entry) (*Server, error) {
	if log == nil {
		log = logrus.WithField("component", "ioserver")
	}
	_ = os.Remove(socketPath)
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, err
	}
	return &Server{
		name: name,
		deps: deps,
		log:  log.WithField("node", name),
		ln:   ln,
		stop: make(chan struct{}),
	}, nil
}

// Serve runs the accept loop until Close is called. It never returns an
// error for an expected shutdown (listener closed by Close).
func (s *Server) Serve() error {
	s.log.WithField("addr", s.ln.Addr().String()).Info("io server listening")
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.stop:
				return nil
			default:
			}
			s.log.WithError(err).Error("accept failed")
			continue
		}
		s.wg.Add(1)
		connID := uuid.NewString()
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn, connID)
		}()
	}
}

// Close stops accepting new connections and waits for in-flight ones to
// finish.
func (s *Server) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	err := s.ln.Close()
	s.wg.Wait()
	return err
}

func peerCred(conn net.Conn) *unix.Ucred {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return nil
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return nil
	}
	var cred *unix.Ucred
	_ = raw.Control(func(fd uintptr) {
		cred, _ = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	return cred
}

// credCheck is a placeholder authorization hook, matching the original's
// cred_check stub (always permits). It exists so a future policy can be
// bolted on without touching the dispatch path.
func credCheck(_ *unix.Ucred, _ wire.IOType, _ string) error { return nil }

func (s *Server) handleConnection(conn net.Conn, connID string) {
	defer conn.Close()
	cred := peerCred(conn)
	log := s.log.WithField("conn", connID)

	for {
		h, v, err := wire.ReadRequest(conn)
		if err != nil {
			if errors.Is(err, value.ErrPayloadTooLarge) {
				log.WithField("key", h.Key).WithField("op", h.Type.String()).Warn("oversized payload discarded, resyncing")
				if werr := s.replyProtocolError(conn, h.Type); werr != nil {
					log.WithError(werr).Debug("failed writing protocol-error reply, closing connection")
					return
				}
				continue
			}
			if err != io.EOF {
				log.WithError(err).Debug("request read failed, closing connection")
			}
			return
		}
		log = log.WithField("key", h.Key).WithField("op", h.Type.String())

		err = s.deps.Pool.Submit(context.Background(), func(ctx context.Context) error {
			return s.dispatch(ctx, conn, cred, h, v)
		}, true)
		if err != nil {
			log.WithError(err).Error("request dispatch failed")
			discard(conn)
			return
		}
	}
}

// replyProtocolError answers a frame that failed to decode (but whose
// header, and thus h.Type, was read successfully) with an invalid
// result, matching the shape the op would otherwise reply with so the
// client's read sequence lines up.
func (s *Server) replyProtocolError(conn net.Conn, t wire.IOType) error {
	if t == wire.IOGet {
		if err := wire.WriteGetReply(conn, wire.GetReply{Duration: int64(durationx.Inf), Value: value.Value{Type: value.Undef}}); err != nil {
			return err
		}
	}
	return wire.WriteResult(conn, wire.Result(perr.Invalid))
}

func discard(conn net.Conn) {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return
	}
	_ = uc.SetReadDeadline(time.Now().Add(10 * time.Millisecond))
	buf := make([]byte, 256)
	for {
		n, err := uc.Read(buf)
		if n == 0 || err != nil {
			break
		}
	}
	_ = uc.SetReadDeadline(time.Time{})
}

func (s *Server) dispatch(ctx context.Context, conn net.Conn, cred *unix.Ucred, h wire.RequestHeader, v value.Value) error {
	switch h.Type {
	case wire.IOGet:
		return s.handleGet(ctx, conn, cred, h.Key)
	case wire.IOSet:
		return s.handleSet(ctx, conn, cred, h.Key, v)
	case wire.IODel:
		return s.handleDel(ctx, conn, cred, h.Key)
	default:
		return wire.WriteResult(conn, wire.Result(perr.Invalid))
	}
}

func (s *Server) handleGet(ctx context.Context, conn net.Conn, cred *unix.Ucred, key string) error {
	if err := credCheck(cred, wire.IOGet, key); err != nil {
		return s.replyGetErr(conn, err)
	}

	if s.deps.Cache != nil {
		if v, rem, ok := s.deps.Cache.Get(key); ok {
			return s.replyGetOK(conn, v, rem)
		}
	}

	ref, err := s.deps.Route.Match(key)
	if err != nil {
		return s.replyGetErr(conn, err)
	}
	defer ref.Release()

	s.deps.NMutex.Lock(key)
	defer s.deps.NMutex.Unlock(key)

	v, dur, err := ref.Storage().Get(ctx, key)
	if err != nil {
		return s.replyGetErr(conn, err)
	}
	if s.deps.Cache != nil {
		s.deps.Cache.Set(key, v, dur)
	}
	return s.replyGetOK(conn, v, dur)
}

func (s *Server) replyGetOK(conn net.Conn, v value.Value, dur time.Duration) error {
	if err := wire.WriteGetReply(conn, wire.GetReply{Duration: int64(dur), Value: v}); err != nil {
		return err
	}
	return wire.WriteResult(conn, 0)
}

func (s *Server) replyGetErr(conn net.Conn, err error) error {
	if werr := wire.WriteGetReply(conn, wire.GetReply{Duration: int64(durationx.Inf), Value: value.Value{Type: value.Undef}}); werr != nil {
		return werr
	}
	return wire.WriteResult(conn, wire.Result(perr.KindOf(err)))
}

func (s *Server) handleSet(ctx context.Context, conn net.Conn, cred *unix.Ucred, key string, v value.Value) error {
	if err := credCheck(cred, wire.IOSet, key); err != nil {
		return wire.WriteResult(conn, wire.Result(perr.KindOf(err)))
	}

	ref, err := s.deps.Route.Match(key)
	if err != nil {
		return wire.WriteResult(conn, wire.Result(perr.KindOf(err)))
	}
	defer ref.Release()

	s.deps.NMutex.Lock(key)
	defer s.deps.NMutex.Unlock(key)

	if err := ref.Storage().Set(ctx, key, v); err != nil {
		return wire.WriteResult(conn, wire.Result(perr.KindOf(err)))
	}
	if s.deps.Cache != nil {
		s.deps.Cache.Set(key, v, 0)
	}
	return wire.WriteResult(conn, 0)
}

func (s *Server) handleDel(ctx context.Context, conn net.Conn, cred *unix.Ucred, key string) error {
	if err := credCheck(cred, wire.IODel, key); err != nil {
		return wire.WriteResult(conn, wire.Result(perr.KindOf(err)))
	}

	ref, err := s.deps.Route.Match(key)
	if err != nil {
		return wire.WriteResult(conn, wire.Result(perr.KindOf(err)))
	}
	defer ref.Release()

	s.deps.NMutex.Lock(key)
	defer s.deps.NMutex.Unlock(key)

	if err := ref.Storage().Del(ctx, key); err != nil {
		return wire.WriteResult(conn, wire.Result(perr.KindOf(err)))
	}
	if s.deps.Cache != nil {
		s.deps.Cache.Del(key)
	}
	return wire.WriteResult(conn, 0)
}
