//go:build !unix

package nanohttp

import "syscall"

func setReuseAddr(_, _ string, _ syscall.RawConn) error {
	return nil
}
