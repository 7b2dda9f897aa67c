package server

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// ErrSocketInUse means another live server answers on the socket path.
var ErrSocketInUse = errors.New("socket is in use by a running server")

const probeTimeout = 500 * time.Millisecond

// RemoveStale deletes a socket file left behind by a previous run. A path that
// does not exist is fine; a path a live server still accepts on is refused.
func RemoveStale(path string) error {
	if _, err := os.Lstat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if conn, err := net.DialTimeout("unix", path, probeTimeout); err == nil {
		conn.Close()
		return fmt.Errorf("%w: %s", ErrSocketInUse, path)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove stale socket %s: %w", path, err)
	}
	return nil
}

// Listen binds a Unix stream socket at path with the given permissions and
// listen backlog. net.Listen always uses the system maximum backlog, so the
// socket is created and bound with raw syscalls and then handed to net.
func Listen(path string, mode os.FileMode, backlog int) (*net.UnixListener, error) {
	if err := RemoveStale(path); err != nil {
		return nil, err
	}

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	f := os.NewFile(uintptr(fd), "unix:"+path)
	defer f.Close() // net.FileListener dups the descriptor

	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		return nil, fmt.Errorf("bind %s: %w", path, err)
	}
	if err := os.Chmod(path, mode); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("listen %s: %w", path, err)
	}

	ln, err := net.FileListener(f)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("wrap listener: %w", err)
	}
	return ln.(*net.UnixListener), nil
}
