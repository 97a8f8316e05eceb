// Package main is the entry point of the application
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tecu23/scoreboard/pkg/config"
	"github.com/tecu23/scoreboard/pkg/events"
	"github.com/tecu23/scoreboard/pkg/game"
	"github.com/tecu23/scoreboard/pkg/manager"
	"github.com/tecu23/scoreboard/pkg/render"
	"github.com/tecu23/scoreboard/pkg/server"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

var CLI struct {
	Debug      bool   `help:"Enable debug logging."`
	ConfigFile string `help:"YAML configuration file." name:"config" short:"c" type:"existingfile"`
	EnvFile    string `help:"File of SCOREBOARD_* variables to load." name:"env-file" default:".env"`

	Transport     string `help:"How updates travel: unicast or multicast."`
	Host          string `help:"Master host slaves connect to."`
	Port          int    `help:"Unicast port, or the multicast group port."`
	MulticastAddr string `help:"Multicast group address." name:"multicast-addr"`
	Renderer      string `help:"Display: log or none."`

	Master struct{} `cmd:"" help:"Run the authoritative scoreboard."`
	Slave  struct{} `cmd:"" help:"Mirror a master scoreboard."`
	Dump   struct{} `cmd:"" name:"config" help:"Print the effective configuration as YAML and exit."`
}

// application encapsulates global dependencies
type application struct {
	Logger    *zap.Logger
	Config    *config.Config
	Publisher *events.Publisher
	State     *game.State
	Hub       *server.Hub      // unicast masters only
	Master    *manager.Master  // masters only
	Replica   *manager.Replica // slaves only
	Server    *http.Server

	StartTime time.Time
}

func writeError(err error) {
	fmt.Fprintf(os.Stderr, "%s\n", err)
	os.Exit(1)
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("scoreboard"),
		kong.Description("a networked scoreboard with master/slave sync"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}))

	cfg, err := config.Load(CLI.ConfigFile, CLI.EnvFile)
	if err != nil {
		writeError(err)
	}
	applyFlags(cfg)

	switch ctx.Command() {
	case "master":
		cfg.Role = config.RoleMaster
	case "slave":
		cfg.Role = config.RoleSlave
	case "config":
		if err := cfg.Dump(os.Stdout); err != nil {
			writeError(err)
		}
		return
	}

	if err := cfg.Validate(); err != nil {
		writeError(err)
	}

	// Initialize logger
	logger := initLogger(cfg.Debug)
	defer logger.Sync()

	app, err := newApplication(cfg, logger)
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.run(sigCtx); err != nil {
		logger.Fatal("scoreboard stopped with error", zap.Error(err))
	}
	logger.Info("scoreboard stopped")
}

// applyFlags lets command line flags override file and environment.
func applyFlags(cfg *config.Config) {
	if CLI.Debug {
		cfg.Debug = true
	}
	if CLI.Transport != "" {
		cfg.Transport = config.Transport(CLI.Transport)
	}
	if CLI.Host != "" {
		cfg.Host = CLI.Host
	}
	if CLI.Port != 0 {
		cfg.Port = CLI.Port
	}
	if CLI.MulticastAddr != "" {
		cfg.MulticastAddr = CLI.MulticastAddr
	}
	if CLI.Renderer != "" {
		cfg.Renderer = CLI.Renderer
	}
}

func initLogger(debug bool) *zap.Logger {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	logger, err := cfg.Build()
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	return logger
}

// newApplication wires the state to the display. The sync engine is built
// by run once the role is known.
func newApplication(cfg *config.Config, logger *zap.Logger) (*application, error) {
	publisher := events.NewPublisher()

	renderer, err := render.New(cfg.Renderer, logger)
	if err != nil {
		return nil, &config.ConfigurationError{Field: "renderer", Value: cfg.Renderer, Reason: "unknown renderer", Err: err}
	}
	render.Bind(publisher, renderer, logger)

	state := game.NewState(cfg.Limits, publisher, logger)
	render.Draw(renderer, state.Snapshot())

	return &application{
		Logger:    logger.With(zap.String("role", string(cfg.Role))),
		Config:    cfg,
		Publisher: publisher,
		State:     state,
		StartTime: time.Now(),
	}, nil
}
