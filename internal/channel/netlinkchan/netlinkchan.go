// Package netlinkchan carries frames over a Linux generic netlink socket. It
// is the requester's transport against a loaded kernel module; registration
// happens in the kernel, so it does not implement channel.Registrar.
package netlinkchan

import (
	"fmt"

	"github.com/danmuck/genlecho/internal/channel"
)

type Options struct {
	MaxMessageSize int
}

func DefaultOptions() Options {
	return Options{MaxMessageSize: 8192}
}

// checkDestination accepts only requests to the kernel. Userspace cannot
// multicast or reach another port through the generic family.
func checkDestination(to channel.Addr) error {
	if to.Group != 0 {
		return fmt.Errorf("%w: multicast send to group %d", channel.ErrUnsupported, to.Group)
	}
	if to.Port != channel.ResponderPort {
		return fmt.Errorf("%w: unicast send to port %d", channel.ErrUnsupported, to.Port)
	}
	return nil
}
