package ipc

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"time"
)

// PeerCredentials identifies the process on the other end of a socket.
// PID is zero where the platform does not report it.
type PeerCredentials struct {
	PID int
	UID int
	GID int
}

// SetSocketPermissions restricts who may connect to the socket at path.
func SetSocketPermissions(path string, mode os.FileMode) error {
	return os.Chmod(path, mode)
}

// CleanupSocket removes a leftover socket file. A missing path is not an
// error; any other kind of file is left alone.
func CleanupSocket(path string) error {
	info, err := os.Lstat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil
	case err != nil:
		return err
	case info.Mode().Type() != fs.ModeSocket:
		return fmt.Errorf("ipc: %s exists and is not a socket", path)
	}
	return os.Remove(path)
}

// IsSocketListening reports whether something accepts connections on path.
func IsSocketListening(path string) bool {
	conn, err := net.DialTimeout("unix", path, time.Second)
	if err == nil {
		conn.Close()
	}
	return err == nil
}

// VerifyPeerIsCurrentUser reports whether the peer runs under our uid.
func VerifyPeerIsCurrentUser(conn net.Conn) (bool, error) {
	cred, err := GetPeerCredentials(conn)
	if err != nil {
		return false, err
	}
	return cred.UID == os.Getuid(), nil
}

// rawControl runs fn against the file descriptor of a unix connection.
func rawControl(conn net.Conn, fn func(fd uintptr) error) error {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return fmt.Errorf("ipc: peer credentials need a unix connection, got %T", conn)
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return fmt.Errorf("ipc: syscall conn: %w", err)
	}
	var fnErr error
	if err := raw.Control(func(fd uintptr) { fnErr = fn(fd) }); err != nil {
		return fmt.Errorf("ipc: control: %w", err)
	}
	return fnErr
}
