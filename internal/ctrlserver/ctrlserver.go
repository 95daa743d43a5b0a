// Package ctrlserver implements propd's control datagram server:
// register_child/register_parent/unregister_child/unregister_parent and
// the two dump opcodes, dispatched off a UNIX SOCK_DGRAM receive loop
// through the shared worker pool. Grounded on
// original_source/lib/ctrl_server.c (handler sequencing, worker_arg_t
// dispatch, reply-via-sendto-to-captured-cliaddr) and ctrl_server.h.
package ctrlserver

import (
	"context"
	"net"
	"os"
	"sync"

	"propd/internal/cache"
	"propd/internal/nmutex"
	"propd/internal/perr"
	"propd/internal/route"
	"propd/internal/storage"
	"propd/internal/wire"
	"propd/internal/workerpool"

	prop "propd/internal/client"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Bootstrap holds this node's own cache_now/prefix lists, offered back
// to a parent node when an admin asks this node to register_parent
// against it (spec §4.8; mirrors ctrl_server_t.cache_now/prefix, which
// the original populates once at ctrl_start_server time from config).
type Bootstrap struct {
	CacheNow []string
	Prefix   []string
}

// Deps bundles the shared state a control server dispatches through.
type Deps struct {
	Cache     *cache.Cache // nil when caching is disabled
	Route     *route.Table
	NMutex    *nmutex.Namespace
	Pool      *workerpool.Pool
	Client    *prop.Client // used for outbound register_parent/unregister_parent
	SocketDir string       // root for constructing nestedunix child storages
}

// Server receives control datagrams for one node.
type Server struct {
	name      string
	deps      Deps
	bootstrap Bootstrap
	log       *logrus.Entry

	conn *net.UnixConn

	wg       sync.WaitGroup
	stopOnce sync.Once
	stop     chan struct{}
}

// New binds the control socket at socketPath.
func New(name, socketPath string, deps Deps, bootstrap Bootstrap, log *logrus.Entry) (*Server, error) {
	if log == nil {
		log = logrus.WithField("component", "ctrlserver")
	}
	_ = os.Remove(socketPath)
	addr := &net.UnixAddr{Net: "unixgram", Name: socketPath}
	conn, err := net.ListenUnixgram("unixgram", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		name:      name,
		deps:      deps,
		bootstrap: bootstrap,
		log:       log.WithField("node", name),
		conn:      conn,
		stop:      make(chan struct{}),
	}, nil
}

// Serve runs the receive loop until Close is called.
func (s *Server) Serve() error {
	s.log.WithField("addr", s.conn.LocalAddr().String()).Info("ctrl server listening")
	buf := make([]byte, 64*1024)
	for {
		n, raddr, err := s.conn.ReadFromUnix(buf)
		if err != nil {
			select {
			case <-s.stop:
				return nil
			default:
			}
			s.log.WithError(err).Error("recv failed")
			continue
		}
		req, err := wire.DecodeCtrlRequest(append([]byte{}, buf[:n]...))
		if err != nil {
			s.log.WithError(err).Debug("malformed control datagram, dropping")
			continue
		}
		s.wg.Add(1)
		err = s.deps.Pool.Submit(context.Background(), func(context.Context) error {
			defer s.wg.Done()
			rep := s.handle(req)
			if raddr != nil {
				_, _ = s.conn.WriteToUnix(wire.EncodeCtrlReply(rep), raddr)
			}
			return nil
		}, false)
		if err != nil {
			s.wg.Done()
			s.log.WithError(err).Error("failed to submit control request")
		}
	}
}

// Close stops the receive loop and waits for in-flight handlers.
func (s *Server) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	err := s.conn.Close()
	s.wg.Wait()
	return err
}

func errReply(err error) wire.CtrlReply {
	return wire.CtrlReply{Result: int32(perr.KindOf(err))}
}

func (s *Server) handle(req wire.CtrlRequest) wire.CtrlReply {
	ctx := context.Background()
	switch req.Type {
	case wire.CtrlRegisterChild:
		return s.handleRegisterChild(ctx, req)
	case wire.CtrlRegisterParent:
		return s.handleRegisterParent(req)
	case wire.CtrlUnregisterChild:
		return s.handleUnregisterChild(req)
	case wire.CtrlUnregisterParent:
		return s.handleUnregisterParent(req)
	case wire.CtrlDumpDBRoute:
		return s.handleDumpDBRoute()
	case wire.CtrlDumpDBCache:
		return s.handleDumpDBCache()
	default:
		return wire.CtrlReply{Result: int32(perr.OperationFailed)}
	}
}

// handleRegisterChild constructs a temporary nestedunix storage for
// req.Name, warms the cache for every CacheNow key under that key's
// named-mutex lock (aborting on the first failure without registering a
// route), then registers the route item if any prefixes were given. A
// storage that warms the cache but carries no prefixes is closed
// immediately afterward — unlike the original, which leaves it dangling
// in that case — since Go has no equivalent of "intentionally leak,
// cleanup handler skipped on success".
func (s *Server) handleRegisterChild(ctx context.Context, req wire.CtrlRequest) wire.CtrlReply {
	if len(req.CacheNow) == 0 && len(req.Prefix) == 0 {
		s.log.WithField("child", req.Name).Warn("deny to register empty child")
		return errReply(perr.ErrInvalid)
	}

	backend, err := storage.NewNestedUnix(req.Name, s.deps.SocketDir, req.Name, false)
	if err != nil {
		return errReply(err)
	}

	for _, key := range req.CacheNow {
		s.deps.NMutex.Lock(key)
		v, dur, err := backend.Get(ctx, key)
		if err != nil {
			s.deps.NMutex.Unlock(key)
			_ = backend.Close()
			return errReply(err)
		}
		if s.deps.Cache != nil {
			s.deps.Cache.Set(key, v, dur)
		}
		s.deps.NMutex.Unlock(key)
	}

	if len(req.Prefix) == 0 {
		_ = backend.Close()
		return wire.CtrlReply{Result: 0}
	}

	if err := s.deps.Route.Register(backend, req.Prefix); err != nil {
		_ = backend.Close()
		return errReply(err)
	}
	s.log.WithField("child", req.Name).WithField("prefixes", req.Prefix).Info("registered child")
	return wire.CtrlReply{Result: 0}
}

func (s *Server) handleUnregisterChild(req wire.CtrlRequest) wire.CtrlReply {
	name := req.Name
	if name == "" {
		name = "*"
	}
	if err := s.deps.Route.Unregister(name); err != nil {
		return errReply(err)
	}
	return wire.CtrlReply{Result: 0}
}

// handleRegisterParent asks the node named in req.Name to register this
// node as its child, offering this node's own bootstrap lists.
func (s *Server) handleRegisterParent(req wire.CtrlRequest) wire.CtrlReply {
	err := s.deps.Client.RegisterChild(req.Name, s.name, s.bootstrap.CacheNow, s.bootstrap.Prefix)
	if err != nil {
		return errReply(err)
	}
	return wire.CtrlReply{Result: 0}
}

func (s *Server) handleUnregisterParent(req wire.CtrlRequest) wire.CtrlReply {
	err := s.deps.Client.UnregisterChild(req.Name, s.name)
	if err != nil {
		return errReply(err)
	}
	return wire.CtrlReply{Result: 0}
}

func (s *Server) handleDumpDBRoute() wire.CtrlReply {
	payload, err := yaml.Marshal(s.deps.Route.Snapshot())
	if err != nil {
		return wire.CtrlReply{Result: int32(perr.OperationFailed)}
	}
	return wire.CtrlReply{Result: 0, Payload: payload}
}

func (s *Server) handleDumpDBCache() wire.CtrlReply {
	if s.deps.Cache == nil {
		return wire.CtrlReply{Result: 0, Payload: []byte("[]\n")}
	}
	payload, err := yaml.Marshal(s.deps.Cache.Snapshot())
	if err != nil {
		return wire.CtrlReply{Result: int32(perr.OperationFailed)}
	}
	return wire.CtrlReply{Result: 0, Payload: payload}
}
