package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/ipv4"
)

// maxDatagram is the largest UDP payload we will read.
const maxDatagram = 64 * 1024

// MulticastConfig describes the group the master sends to and slaves join
type MulticastConfig struct {
	Group        string // ip:port
	Interface    string // optional interface name
	TTL          int
	Loopback     bool // deliver to receivers on the sending host
	QueueSize    int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func resolveGroup(cfg MulticastConfig) (*net.UDPAddr, *net.Interface, error) {
	group, err := net.ResolveUDPAddr("udp4", cfg.Group)
	if err != nil {
		return nil, nil, &Error{Op: "resolve", Addr: cfg.Group, Err: err}
	}
	if !group.IP.IsMulticast() {
		return nil, nil, &Error{Op: "resolve", Addr: cfg.Group, Err: fmt.Errorf("%s is not a multicast address", group.IP)}
	}

	var ifi *net.Interface
	if cfg.Interface != "" {
		ifi, err = net.InterfaceByName(cfg.Interface)
		if err != nil {
			return nil, nil, &Error{Op: "interface", Addr: cfg.Interface, Err: err}
		}
	}
	return group, ifi, nil
}

// MulticastSender writes every update to the multicast group. It keeps no
// per-peer state; lost datagrams are healed by the next full snapshot.
type MulticastSender struct {
	conn         net.Conn
	addr         string
	queue        chan []byte
	writeTimeout time.Duration
	logger       *zap.Logger
}

// NewMulticastSender opens the send socket for the configured group.
func NewMulticastSender(cfg MulticastConfig, logger *zap.Logger) (*MulticastSender, error) {
	group, ifi, err := resolveGroup(cfg)
	if err != nil {
		return nil, err
	}

	conn, err := net.DialUDP("udp4", nil, group)
	if err != nil {
		return nil, &Error{Op: "dial", Addr: cfg.Group, Err: err}
	}

	pc := ipv4.NewPacketConn(conn)
	if err := pc.SetMulticastTTL(cfg.TTL); err != nil {
		conn.Close()
		return nil, &Error{Op: "set ttl", Addr: cfg.Group, Err: err}
	}
	if err := pc.SetMulticastLoopback(cfg.Loopback); err != nil {
		conn.Close()
		return nil, &Error{Op: "set loopback", Addr: cfg.Group, Err: err}
	}
	if ifi != nil {
		if err := pc.SetMulticastInterface(ifi); err != nil {
			conn.Close()
			return nil, &Error{Op: "set interface", Addr: cfg.Interface, Err: err}
		}
	}

	logger.Info("multicast sender ready",
		zap.String("group", cfg.Group),
		zap.Int("ttl", cfg.TTL),
	)
	return newMulticastSender(conn, cfg, logger), nil
}

func newMulticastSender(conn net.Conn, cfg MulticastConfig, logger *zap.Logger) *MulticastSender {
	size := cfg.QueueSize
	if size <= 0 {
		size = 16
	}
	return &MulticastSender{
		conn:         conn,
		addr:         conn.RemoteAddr().String(),
		queue:        make(chan []byte, size),
		writeTimeout: cfg.WriteTimeout,
		logger:       logger,
	}
}

// Addr returns the group address updates are sent to.
func (s *MulticastSender) Addr() string {
	return s.addr
}

// Broadcast queues msg for the send worker. When the queue is full the
// message is dropped.
func (s *MulticastSender) Broadcast(msg []byte) {
	select {
	case s.queue <- msg:
	default:
		s.logger.Warn("multicast queue full, dropping update", zap.String("group", s.addr))
	}
}

// Run writes queued messages until ctx is done. A failed write is logged
// and the sender moves on to the next message.
func (s *MulticastSender) Run(ctx context.Context) error {
	defer s.conn.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-s.queue:
			if s.writeTimeout > 0 {
				s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			}
			if _, err := s.conn.Write(msg); err != nil {
				s.logger.Warn("multicast send failed",
					zap.Error(&Error{Op: "send", Addr: s.addr, Err: err}))
			}
		}
	}
}

// MulticastReceiver is a receive-only member of the multicast group. The
// group socket is closed whenever Receive returns and joined again by the
// next call. Receive must not be called concurrently.
type MulticastReceiver struct {
	conn        net.PacketConn // joined socket for the next Receive, if any
	open        func() (net.PacketConn, error)
	addr        string
	readTimeout time.Duration
	logger      *zap.Logger
}

// NewMulticastReceiver binds the group port and joins the group. A join
// failure here is reported to the caller; later rejoins are retried by
// the caller of Receive.
func NewMulticastReceiver(cfg MulticastConfig, logger *zap.Logger) (*MulticastReceiver, error) {
	group, ifi, err := resolveGroup(cfg)
	if err != nil {
		return nil, err
	}

	join := func() (net.PacketConn, error) {
		conn, err := net.ListenPacket("udp4", fmt.Sprintf("0.0.0.0:%d", group.Port))
		if err != nil {
			return nil, &Error{Op: "listen", Addr: cfg.Group, Err: err}
		}

		pc := ipv4.NewPacketConn(conn)
		if err := pc.JoinGroup(ifi, &net.UDPAddr{IP: group.IP}); err != nil {
			conn.Close()
			return nil, &Error{Op: "join", Addr: cfg.Group, Err: err}
		}

		logger.Info("joined multicast group", zap.String("group", cfg.Group))
		return conn, nil
	}

	conn, err := join()
	if err != nil {
		return nil, err
	}

	r := newMulticastReceiver(join, cfg, logger)
	r.conn = conn
	return r, nil
}

func newMulticastReceiver(open func() (net.PacketConn, error), cfg MulticastConfig, logger *zap.Logger) *MulticastReceiver {
	timeout := cfg.ReadTimeout
	if timeout <= 0 {
		timeout = time.Second
	}
	return &MulticastReceiver{
		open:        open,
		addr:        cfg.Group,
		readTimeout: timeout,
		logger:      logger,
	}
}

// Receive joins the group if needed and reads datagrams until ctx is done.
// Reads time out periodically so the loop never blocks shutdown.
func (r *MulticastReceiver) Receive(ctx context.Context, opened func(), handle func(msg []byte)) error {
	conn := r.conn
	r.conn = nil
	if conn == nil {
		var err error
		if conn, err = r.open(); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	defer stop()

	if opened != nil {
		opened()
	}

	buf := make([]byte, maxDatagram)
	for {
		if ctx.Err() != nil {
			return nil
		}

		conn.SetReadDeadline(time.Now().Add(r.readTimeout))
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if isTimeout(err) {
				continue
			}
			return &Error{Op: "receive", Addr: r.addr, Err: err}
		}

		r.logger.Debug("multicast datagram", zap.Stringer("from", from), zap.Int("bytes", n))

		msg := make([]byte, n)
		copy(msg, buf[:n])
		handle(msg)
	}
}
