// Package prop implements propd's client-side library: a thin mirror of
// both wire protocols plus storage handles
// usable as a route item's backend. Grounded on
// original_source/lib/client/ctrl.c (ctrl_init/ctrl_update/ctrl_final0
// request/reply shape) and lib/client/builtin/unix.c (temp/long storage
// handle).
package prop

import (
	"net"
	"time"

	"propd/internal/perr"
	"propd/internal/storage"
	"propd/internal/unixaddr"
	"propd/internal/wire"
)

// Client is a handle bound to one propd node's socket directory.
type Client struct {
	socketDir string
	timeout   time.Duration
}

// New creates a client against sockets rooted at socketDir. timeout
// bounds each control datagram round trip; zero disables the deadline.
func New(socketDir string, timeout time.Duration) *Client {
	return &Client{socketDir: socketDir, timeout: timeout}
}

// Unix returns a storage backend delegating to target's I/O socket,
// identical in wire behavior to a propd-internal nestedunix route item
// but usable standalone by any client (spec §4.6: "Unix(name, shared)").
func (c *Client) Unix(name, target string, shared bool) (storage.Backend, error) {
	return storage.NewNestedUnix(name, c.socketDir, target, shared)
}

func (c *Client) dial(server string) (*net.UnixConn, *net.UnixAddr, error) {
	servAddr := &net.UnixAddr{Net: "unixgram", Name: unixaddr.CtrlServerPath(c.socketDir, server)}
	localAddr := &net.UnixAddr{Net: "unixgram", Name: unixaddr.RandomClientName()}
	conn, err := net.ListenUnixgram("unixgram", localAddr)
	if err != nil {
		return nil, nil, perr.ErrIO
	}
	return conn, servAddr, nil
}

func (c *Client) roundTrip(server string, req wire.CtrlRequest) (wire.CtrlReply, error) {
	conn, servAddr, err := c.dial(server)
	if err != nil {
		return wire.CtrlReply{}, err
	}
	defer conn.Close()

	buf, err := wire.EncodeCtrlRequest(req)
	if err != nil {
		return wire.CtrlReply{}, perr.ErrInvalid
	}
	if c.timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(c.timeout))
	}
	if _, err := conn.WriteToUnix(buf, servAddr); err != nil {
		return wire.CtrlReply{}, perr.ErrIO
	}

	reply := make([]byte, 64*1024)
	n, _, err := conn.ReadFromUnix(reply)
	if err != nil {
		return wire.CtrlReply{}, perr.ErrIO
	}
	rep, err := wire.DecodeCtrlReply(reply[:n])
	if err != nil {
		return wire.CtrlReply{}, perr.ErrIO
	}
	return rep, nil
}

func resultErr(res int32) error {
	if res == 0 {
		return nil
	}
	return perr.Kind(res)
}

// RegisterChild asks server to register a new route item named name,
// delegating to name's own I/O socket, with prefixes and an optional
// set of keys to pull into the cache immediately (spec §4.8).
func (c *Client) RegisterChild(server, name string, cacheNow, prefix []string) error {
	rep, err := c.roundTrip(server, wire.CtrlRequest{
		Type: wire.CtrlRegisterChild, Name: name, CacheNow: cacheNow, Prefix: prefix,
	})
	if err != nil {
		return err
	}
	return resultErr(rep.Result)
}

// UnregisterChild asks server to drop the route item named name ("" to
// drop the first item in the table, mirroring the original's NULL
// convention).
func (c *Client) UnregisterChild(server, name string) error {
	rep, err := c.roundTrip(server, wire.CtrlRequest{Type: wire.CtrlUnregisterChild, Name: name})
	if err != nil {
		return err
	}
	return resultErr(rep.Result)
}

// RegisterParent asks server to register itself as a child of the node
// named parent, using server's own cache_now/prefix bootstrap lists
// (spec §4.8: the server-side handler turns this into an outbound
// RegisterChild call against parent).
func (c *Client) RegisterParent(server, parent string) error {
	rep, err := c.roundTrip(server, wire.CtrlRequest{Type: wire.CtrlRegisterParent, Name: parent})
	if err != nil {
		return err
	}
	return resultErr(rep.Result)
}

// UnregisterParent asks server to unregister itself from parent.
func (c *Client) UnregisterParent(server, parent string) error {
	rep, err := c.roundTrip(server, wire.CtrlRequest{Type: wire.CtrlUnregisterParent, Name: parent})
	if err != nil {
		return err
	}
	return resultErr(rep.Result)
}

// DumpDBRoute returns server's route table snapshot, YAML-encoded.
func (c *Client) DumpDBRoute(server string) ([]byte, error) {
	rep, err := c.roundTrip(server, wire.CtrlRequest{Type: wire.CtrlDumpDBRoute})
	if err != nil {
		return nil, err
	}
	if err := resultErr(rep.Result); err != nil {
		return nil, err
	}
	return rep.Payload, nil
}

// DumpDBCache returns server's cache snapshot, YAML-encoded.
func (c *Client) DumpDBCache(server string) ([]byte, error) {
	rep, err := c.roundTrip(server, wire.CtrlRequest{Type: wire.CtrlDumpDBCache})
	if err != nil {
		return nil, err
	}
	if err := resultErr(rep.Result); err != nil {
		return nil, err
	}
	return rep.Payload, nil
}
