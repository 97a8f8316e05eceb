package transport

import (
	"context"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// StreamConfig configures a slave's stream connection to the master
type StreamConfig struct {
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	MaxMessageSize   int64
}

// StreamReceiver dials the master's unicast listener and reads updates off
// one websocket stream.
type StreamReceiver struct {
	url    string
	dialer *websocket.Dialer
	config StreamConfig
	logger *zap.Logger
}

// StreamURL returns the websocket URL of a master listening on hostport.
func StreamURL(hostport string) string {
	u := url.URL{Scheme: "ws", Host: hostport, Path: "/ws"}
	return u.String()
}

// NewStreamReceiver creates a receiver for the master at url.
func NewStreamReceiver(url string, config StreamConfig, logger *zap.Logger) *StreamReceiver {
	return &StreamReceiver{
		url: url,
		dialer: &websocket.Dialer{
			HandshakeTimeout: config.HandshakeTimeout,
		},
		config: config,
		logger: logger,
	}
}

// Receive connects and delivers messages until ctx is done or the stream
// breaks. The master pushes a full snapshot as the first message.
func (r *StreamReceiver) Receive(ctx context.Context, opened func(), handle func(msg []byte)) error {
	conn, _, err := r.dialer.DialContext(ctx, r.url, nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return &Error{Op: "dial", Addr: r.url, Err: err}
	}
	defer conn.Close()

	r.logger.Info("connected to master", zap.String("url", r.url))
	if opened != nil {
		opened()
	}

	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	defer stop()

	extend := func() {
		conn.SetReadDeadline(time.Now().Add(r.config.ReadTimeout))
	}

	if r.config.MaxMessageSize > 0 {
		conn.SetReadLimit(r.config.MaxMessageSize)
	}
	extend()
	conn.SetPingHandler(func(data string) error {
		extend()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(r.config.WriteTimeout))
	})

	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return &Error{Op: "receive", Addr: r.url, Err: err}
		}
		extend()

		// We only handle text
		if msgType != websocket.TextMessage {
			continue
		}
		handle(msg)
	}
}
