// Package node orchestrates one propd node: it builds the worker pool,
// named-mutex namespace, cache, route table, I/O and control servers in
// the order spec'd, fires bootstrap children/parents registration, then
// waits for a shutdown signal and tears everything down in reverse.
// Grounded on original_source/lib/propd.c (__propd_run's construction
// and teardown sequencing) and teacher's cmd.go:runServer (signal-driven
// start/stop shape).
package node

import (
	"context"
	"fmt"
	"os"
	"time"

	"propd/internal/cache"
	"propd/internal/config"
	"propd/internal/ctrlserver"
	"propd/internal/ioserver"
	"propd/internal/nmutex"
	"propd/internal/route"
	"propd/internal/storage"
	"propd/internal/unixaddr"
	"propd/internal/workerpool"

	prop "propd/internal/client"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
)

// clientTimeout bounds the control round trips Bootstrap/shutdown make
// against this node's own or a peer's control socket.
const clientTimeout = 5 * time.Second

// Node is one running propd instance.
type Node struct {
	cfg *config.Config
	log *logrus.Entry

	pool   *workerpool.Pool
	nmtx   *nmutex.Namespace
	cch    *cache.Cache // nil when the config disables caching
	route  *route.Table
	client *prop.Client
	io     *ioserver.Server
	ctrl   *ctrlserver.Server

	ioErr   chan error
	ctrlErr chan error
}

// New builds and starts a node's internal state up through both accept
// loops, matching propd_run's construction order: namespace dir → worker
// pool → named-mutex namespace → cache (iff enabled) → route table seeded
// with static backends → I/O server → control server. It does not block
// and does not fire bootstrap registration; call Bootstrap then Wait.
func New(cfg *config.Config, log *logrus.Entry) (*Node, error) {
	if log == nil {
		log = logrus.WithField("component", "node")
	}
	log = log.WithField("node", cfg.Name)

	if err := os.MkdirAll(cfg.Namespace, 0o755); err != nil {
		return nil, fmt.Errorf("create namespace dir: %w", err)
	}

	pool := workerpool.New(cfg.ThreadNum, config.ThreadNumMinIfAuto, cfg.ThreadNumMaxIfAuto, 0, log.WithField("component", "workerpool"))
	nmtx := nmutex.New()

	var cch *cache.Cache
	if cfg.CacheEnabled() {
		cch = cache.New(cache.Params{
			MinInterval:     config.CacheMinInterval,
			MaxInterval:     cfg.CacheInterval,
			DefaultDuration: cfg.CacheDefaultDuration,
			MinDuration:     config.CacheMinDuration,
		}, log.WithField("component", "cache"))
	}

	rt := route.New()
	for _, spec := range cfg.Backends {
		backend, err := buildBackend(spec, cfg.Namespace)
		if err != nil {
			rt.UnregisterAll()
			if cch != nil {
				cch.Close()
			}
			nmtx.Close()
			pool.Close()
			return nil, fmt.Errorf("build static backend %q: %w", spec.Name, err)
		}
		if err := rt.Register(backend, spec.Prefixes); err != nil {
			_ = backend.Close()
			rt.UnregisterAll()
			if cch != nil {
				cch.Close()
			}
			nmtx.Close()
			pool.Close()
			return nil, fmt.Errorf("register static backend %q: %w", spec.Name, err)
		}
	}

	client := prop.New(cfg.Namespace, clientTimeout)

	ioSrv, err := ioserver.New(cfg.Name, unixaddr.IOServerPath(cfg.Namespace, cfg.Name), ioserver.Deps{
		Cache:  cch,
		Route:  rt,
		NMutex: nmtx,
		Pool:   pool,
	}, log.WithField("component", "ioserver"))
	if err != nil {
		rt.UnregisterAll()
		if cch != nil {
			cch.Close()
		}
		nmtx.Close()
		pool.Close()
		return nil, fmt.Errorf("start io server: %w", err)
	}

	ctrlSrv, err := ctrlserver.New(cfg.Name, unixaddr.CtrlServerPath(cfg.Namespace, cfg.Name), ctrlserver.Deps{
		Cache:     cch,
		Route:     rt,
		NMutex:    nmtx,
		Pool:      pool,
		Client:    client,
		SocketDir: cfg.Namespace,
	}, ctrlserver.Bootstrap{CacheNow: cfg.Caches, Prefix: cfg.Prefixes}, log.WithField("component", "ctrlserver"))
	if err != nil {
		_ = ioSrv.Close()
		rt.UnregisterAll()
		if cch != nil {
			cch.Close()
		}
		nmtx.Close()
		pool.Close()
		return nil, fmt.Errorf("start ctrl server: %w", err)
	}

	n := &Node{
		cfg:     cfg,
		log:     log,
		pool:    pool,
		nmtx:    nmtx,
		cch:     cch,
		route:   rt,
		client:  client,
		io:      ioSrv,
		ctrl:    ctrlSrv,
		ioErr:   make(chan error, 1),
		ctrlErr: make(chan error, 1),
	}

	go func() { n.ioErr <- n.io.Serve() }()
	go func() { n.ctrlErr <- n.ctrl.Serve() }()

	return n, nil
}

// buildBackend constructs the concrete storage.Backend a BackendSpec
// names. Only null/file/nestedunix are wired, mirroring SPEC_FULL's
// narrowed backend scope (no memory-mapped register or TCP backend).
func buildBackend(spec config.BackendSpec, namespaceDir string) (storage.Backend, error) {
	switch spec.Kind {
	case "null":
		return storage.NewNull(spec.Name), nil
	case "file":
		return storage.NewFile(spec.Name, afero.NewOsFs(), spec.Dir)
	case "unix":
		return storage.NewNestedUnix(spec.Name, namespaceDir, spec.Target, spec.Shared)
	default:
		return nil, fmt.Errorf("unknown backend kind %q", spec.Kind)
	}
}

// Bootstrap fires the children/parents fan-out propd_run performs right
// after both servers are listening: for each configured child, ask it to
// register itself under this node; for each configured parent, ask this
// node's own control server to register this node under that parent.
// Failures are best-effort and combined, not fatal — matching the
// original's "log and break out of that one loop" behavior generalized to
// "try every entry, report every failure".
func (n *Node) Bootstrap() error {
	var errs error
	for _, child := range n.cfg.Children {
		if err := n.client.RegisterParent(child, n.cfg.Name); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("register child %q: %w", child, err))
		}
	}
	for _, parent := range n.cfg.Parents {
		if err := n.client.RegisterParent(n.cfg.Name, parent); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("register to parent %q: %w", parent, err))
		}
	}
	if errs != nil {
		n.log.WithError(errs).Warn("bootstrap registration had failures")
	}
	return errs
}

// Wait blocks until ctx is cancelled or either server's accept loop exits
// on its own, then tears the node down.
func (n *Node) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
	case err := <-n.ioErr:
		n.log.WithError(err).Error("io server exited")
	case err := <-n.ctrlErr:
		n.log.WithError(err).Error("ctrl server exited")
	}
	return n.shutdown()
}

// shutdown mirrors propd_run's teardown order: deregister from every
// bootstrap parent, cancel both accept loops, drain the route table,
// destroy the cache, destroy the named-mutex namespace, destroy the
// worker pool.
func (n *Node) shutdown() error {
	n.log.Info("node shutting down")

	var errs error
	for _, parent := range n.cfg.Parents {
		if err := n.client.UnregisterChild(parent, n.cfg.Name); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("unregister from parent %q: %w", parent, err))
		}
	}

	errs = multierr.Append(errs, n.ctrl.Close())
	errs = multierr.Append(errs, n.io.Close())

	n.route.UnregisterAll()
	if n.cch != nil {
		n.cch.Close()
	}
	n.nmtx.Close()
	n.pool.Close()

	return errs
}
