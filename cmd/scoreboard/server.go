package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tecu23/scoreboard/pkg/config"
	"github.com/tecu23/scoreboard/pkg/game"
	"github.com/tecu23/scoreboard/pkg/manager"
	"github.com/tecu23/scoreboard/pkg/messages"
	"github.com/tecu23/scoreboard/pkg/server"
	"github.com/tecu23/scoreboard/pkg/transport"
)

// run starts the sync engine for the configured role and blocks until ctx
// is done or a component fails.
func (app *application) run(ctx context.Context) error {
	if app.Config.Role == config.RoleSlave {
		return app.runSlave(ctx)
	}
	return app.runMaster(ctx)
}

func (app *application) multicastConfig() (transport.MulticastConfig, error) {
	group, err := app.Config.GroupAddr()
	if err != nil {
		return transport.MulticastConfig{}, err
	}
	return transport.MulticastConfig{
		Group:        group,
		Interface:    app.Config.MulticastInterface,
		TTL:          app.Config.MulticastTTL,
		Loopback:     app.Config.MulticastLoopback,
		QueueSize:    app.Config.SendBuffer,
		ReadTimeout:  app.Config.ReadTimeout,
		WriteTimeout: app.Config.WriteTimeout,
	}, nil
}

func (app *application) listen(addr string) (net.Listener, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, &config.ConfigurationError{
			Field:  "port",
			Value:  addr,
			Reason: "cannot listen",
			Err:    &transport.Error{Op: "listen", Addr: addr, Err: err},
		}
	}
	return l, nil
}

func (app *application) runMaster(ctx context.Context) error {
	cfg := app.Config
	clock := clockwork.NewRealClock()
	timer := game.NewTimer(app.State, cfg.TickInterval, clock, app.Logger)

	g, ctx := errgroup.WithContext(ctx)

	var (
		out      transport.Broadcaster
		listener net.Listener
		addr     string
		err      error
	)
	switch cfg.Transport {
	case config.TransportUnicast:
		app.Hub = server.NewHub(server.Config{
			ReadTimeout:    cfg.ReadTimeout,
			WriteTimeout:   cfg.WriteTimeout,
			PingInterval:   cfg.PingInterval,
			MaxMessageSize: 4096,
			SendBuffer:     cfg.SendBuffer,
			MaxMissedSends: cfg.MaxMissedSends,
			ReapInterval:   cfg.BroadcastInterval,
		}, func() ([]byte, error) {
			return app.Master.FullSnapshot()
		}, app.Publisher, app.Logger)
		out = app.Hub

		if listener, err = app.listen(cfg.ListenAddr()); err != nil {
			return err
		}
		addr = listener.Addr().String()

	case config.TransportMulticast:
		mc, err := app.multicastConfig()
		if err != nil {
			return err
		}
		sender, err := transport.NewMulticastSender(mc, app.Logger)
		if err != nil {
			return &config.ConfigurationError{Field: "multicast_addr", Value: mc.Group, Reason: "cannot open group", Err: err}
		}
		out = sender
		addr = sender.Addr()
		g.Go(func() error { return sender.Run(ctx) })

		if cfg.StatusAddr != "" {
			if listener, err = app.listen(cfg.StatusAddr); err != nil {
				return err
			}
		}
	}

	app.Master = manager.NewMaster(app.State, timer, out, app.Publisher, manager.MasterConfig{
		BroadcastInterval: cfg.BroadcastInterval,
		MaxUpdateRate:     cfg.MaxUpdateRate,
		UpdateBurst:       cfg.SendBuffer,
	}, clock, app.Logger)

	if app.Hub != nil {
		g.Go(func() error { return app.Hub.Run(ctx) })
	}
	if listener != nil {
		g.Go(func() error { return app.serve(ctx, listener) })
	}

	app.Master.ListenerReady(addr)
	g.Go(func() error { return app.Master.Run(ctx) })
	g.Go(func() error {
		<-ctx.Done()
		timer.Stop()
		return nil
	})

	return g.Wait()
}

func (app *application) runSlave(ctx context.Context) error {
	cfg := app.Config
	clock := clockwork.NewRealClock()

	app.Replica = manager.NewReplica(
		app.State,
		messages.NewDecoder(cfg.Limits, app.Logger),
		app.Publisher,
		manager.ReplicaConfig{
			StaleTimeout:   cfg.StaleTimeout(),
			ReconnectDelay: cfg.ReconnectDelay,
			Extrapolate:    cfg.Extrapolate,
			TickInterval:   cfg.TickInterval,
		},
		clock,
		app.Logger,
	)

	var receiver transport.Receiver
	switch cfg.Transport {
	case config.TransportUnicast:
		receiver = transport.NewStreamReceiver(transport.StreamURL(cfg.Addr()), transport.StreamConfig{
			HandshakeTimeout: cfg.WriteTimeout,
			ReadTimeout:      cfg.ReadTimeout,
			WriteTimeout:     cfg.WriteTimeout,
			MaxMessageSize:   1 << 16,
		}, app.Logger)

	case config.TransportMulticast:
		mc, err := app.multicastConfig()
		if err != nil {
			return err
		}
		r, err := transport.NewMulticastReceiver(mc, app.Logger)
		if err != nil {
			return &config.ConfigurationError{Field: "multicast_addr", Value: mc.Group, Reason: "cannot join group", Err: err}
		}
		receiver = r
	}

	g, ctx := errgroup.WithContext(ctx)
	if cfg.StatusAddr != "" {
		listener, err := app.listen(cfg.StatusAddr)
		if err != nil {
			return err
		}
		g.Go(func() error { return app.serve(ctx, listener) })
	}
	g.Go(func() error { return app.Replica.Run(ctx, receiver) })

	return g.Wait()
}

// serve runs the http server on l and shuts it down gracefully once ctx is
// done.
func (app *application) serve(ctx context.Context, l net.Listener) error {
	app.Server = &http.Server{
		Handler:      app.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- app.Server.Serve(l)
	}()

	app.Logger.Info("Starting server", zap.String("address", l.Addr().String()))

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return &transport.Error{Op: "accept", Addr: l.Addr().String(), Err: err}

	case <-ctx.Done():
		app.Logger.Info("Shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		err := multierr.Append(app.Server.Shutdown(shutdownCtx), ignoreClosed(<-serveErr))
		if err != nil {
			app.Logger.Error("Server forced to shutdown", zap.Error(err))
			return err
		}
		app.Logger.Info("Server stopped gracefully")
		return nil
	}
}

func ignoreClosed(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
