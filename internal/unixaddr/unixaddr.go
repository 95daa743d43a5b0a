// Package unixaddr builds the abstract-namespace client addresses and
// server socket paths propd's UNIX-domain sockets use. Grounded on
// original_source/lib/misc.c:random_alphabet and the io_connect/
// ctrl client helpers in lib/builtin/unix.c, lib/client/builtin/unix.c,
// and lib/client/ctrl.c, which all bind the client side to
// "\0<106 random alnum bytes>X" before connecting or sending, filling
// the 108-byte sun_path exactly.
package unixaddr

import (
	"fmt"
	"math/rand"
)

const alnumLen = 106

const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RandomClientName returns a random abstract-socket address for the
// Name field of a net.UnixAddr. Go maps a leading '@' to the Linux
// abstract namespace's leading NUL byte, matching sun_path[0] = '\0' in
// the original; the trailing 'X' mirrors the original's sentinel byte.
func RandomClientName() string {
	b := make([]byte, alnumLen)
	for i := range b {
		b[i] = alphabet[rand.Intn(len(alphabet))]
	}
	return "@" + string(b) + "X"
}

// IOServerPath returns the well-known server-side path for target's
// stream I/O socket under dir, mirroring PathFmt_IOServer.
func IOServerPath(dir, target string) string {
	return fmt.Sprintf("%s/propd.%s.io", dir, target)
}

// CtrlServerPath returns the well-known server-side path for target's
// control datagram socket under dir, mirroring PathFmt_CtrlServer.
func CtrlServerPath(dir, target string) string {
	return fmt.Sprintf("%s/propd.%s.ctrl", dir, target)
}
