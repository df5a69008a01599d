//go:build !(linux || darwin || dragonfly || freebsd || netbsd || openbsd)

package nanohttp

import (
	"context"
	"net"

	"github.com/pkg/errors"
)

// ReusePortSocketFactory is not available on this platform.
type ReusePortSocketFactory struct {
	DeferAccept bool
	FastOpen    bool
}

func (f *ReusePortSocketFactory) Listen(context.Context, string, string, int) (net.Listener, error) {
	return nil, errors.New("SO_REUSEPORT listeners are not supported on this platform")
}
