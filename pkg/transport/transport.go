// Package transport moves serialized scoreboard updates between the master
// and its slaves, either over one multicast group or over one stream per
// slave.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Broadcaster fans one serialized update out to every peer. Broadcast
// must return without waiting on the network.
type Broadcaster interface {
	Broadcast(msg []byte)
}

// Receiver delivers every message from the master to handle, in arrival
// order, until ctx is done (nil error) or the link fails (*Error). opened,
// when not nil, is called once the socket is open or the group joined and
// before the first message. Receive may be called again after it returns.
type Receiver interface {
	Receive(ctx context.Context, opened func(), handle func(msg []byte)) error
}

// Error is a socket open/accept/send/receive failure. It is never fatal to
// the process: the failing peer is dropped or retried.
type Error struct {
	Op   string
	Addr string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
