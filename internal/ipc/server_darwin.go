//go:build darwin

package ipc

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// GetPeerCredentials reads LOCAL_PEERCRED from a connected unix socket.
// The xucred structure has no PID.
func GetPeerCredentials(conn net.Conn) (*PeerCredentials, error) {
	var cred *unix.Xucred
	err := rawControl(conn, func(fd uintptr) (err error) {
		cred, err = unix.GetsockoptXucred(int(fd), unix.SOL_LOCAL, unix.LOCAL_PEERCRED)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("peer credentials: %w", err)
	}
	pc := &PeerCredentials{UID: int(cred.Uid)}
	if cred.Ngroups > 0 {
		pc.GID = int(cred.Groups[0])
	}
	return pc, nil
}
