//go:build !linux && !darwin

package ipc

import (
	"errors"
	"net"
)

// GetPeerCredentials is not available on this platform.
func GetPeerCredentials(net.Conn) (*PeerCredentials, error) {
	return nil, errors.New("ipc: peer credentials not supported on this platform")
}
