//go:build linux

package ipc

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// GetPeerCredentials reads SO_PEERCRED from a connected unix socket.
func GetPeerCredentials(conn net.Conn) (*PeerCredentials, error) {
	var cred *unix.Ucred
	err := rawControl(conn, func(fd uintptr) (err error) {
		cred, err = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("peer credentials: %w", err)
	}
	return &PeerCredentials{PID: int(cred.Pid), UID: int(cred.Uid), GID: int(cred.Gid)}, nil
}
