//go:build unix

package nanohttp

import (
	"syscall"

	"golang.org/x/sys/unix"
)

func setReuseAddr(_, _ string, c syscall.RawConn) error {
	var err error
	if errc := c.Control(func(fd uintptr) {
		err = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	}); errc != nil {
		return errc
	}
	return err
}
