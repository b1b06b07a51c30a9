// killfeed - SCUM server log ingestion, killfeed and player stats
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ernie/killfeed/internal/api"
	"github.com/ernie/killfeed/internal/auth"
	"github.com/ernie/killfeed/internal/collector"
	"github.com/ernie/killfeed/internal/config"
	"github.com/ernie/killfeed/internal/cursor"
	"github.com/ernie/killfeed/internal/dispatch"
	"github.com/ernie/killfeed/internal/domain"
	"github.com/ernie/killfeed/internal/notify"
	"github.com/ernie/killfeed/internal/storage"
	flag "github.com/spf13/pflag"
)

var version = "dev"

const defaultConfigPath = "/etc/killfeed/config.yml"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "sweep":
		cmdSweep(os.Args[2:])
	case "server":
		cmdServer(os.Args[2:])
	case "operator":
		cmdOperator(os.Args[2:])
	case "classify":
		cmdClassify(os.Args[2:])
	case "leaderboard":
		cmdLeaderboard(os.Args[2:])
	case "token":
		cmdToken(os.Args[2:])
	case "version":
		fmt.Printf("killfeed %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: killfeed <command> [options] [args]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                               Run the sweeper and the operator API")
	fmt.Println("  sweep [--once]                      Run the sweeper without the API")
	fmt.Println("  server list                         Show registered game servers")
	fmt.Println("  server add <name> --endpoint DIR [--log-path P] [--death-log-dir D]")
	fmt.Println("                                      Register a game server")
	fmt.Println("  server remove <name>                Deregister a game server")
	fmt.Println("  server channels <name> [--log C] [--killfeed C]")
	fmt.Println("                                      Change notification channels")
	fmt.Println("  operator add [--admin] <username>   Add an operator (prompts for password)")
	fmt.Println("  operator remove <username>          Remove an operator")
	fmt.Println("  operator list                       List operators")
	fmt.Println("  operator reset <username>           Reset an operator's password")
	fmt.Println("  operator admin <username>           Toggle admin status")
	fmt.Println("  classify [--deathlog] [file]        Print classified events of a log file (or stdin)")
	fmt.Println("  leaderboard [--category C] [--top N]")
	fmt.Println("                                      Show top players (kills, deaths, currency, kd_ratio)")
	fmt.Println("  token [--admin] <operator>          Mint an API token")
	fmt.Println("  version                             Show version")
	fmt.Println("  help                                Show this help")
	fmt.Println()
	fmt.Println("Global Options:")
	fmt.Println("  --config <path>    Path to configuration file (default /etc/killfeed/config.yml)")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  killfeed serve --config /etc/killfeed/config.yml")
	fmt.Println("  killfeed server add island --endpoint /srv/scum/island --death-log-dir Logs --log-path Logs/SCUM.log")
	fmt.Println("  killfeed classify --deathlog kill_20250410000000.log")
	fmt.Println("  killfeed operator add --admin ops")
}

// fatal logs err and exits
func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}

// newLogger builds the slog handler selected by the log config
func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// resolveConfigPath returns the explicit path or the default when it exists
func resolveConfigPath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	if _, err := os.Stat(defaultConfigPath); err != nil {
		return "", fmt.Errorf("no config file found at %s, use --config to specify one", defaultConfigPath)
	}
	return defaultConfigPath, nil
}

// loadConfig resolves and loads the config file
func loadConfig(path string) (*config.Config, error) {
	cfgPath, err := resolveConfigPath(path)
	if err != nil {
		return nil, err
	}
	return config.Load(cfgPath)
}

// pipeline is everything the sweeper needs, shared by serve and sweep
type pipeline struct {
	store    *storage.Store
	cursors  *cursor.Store
	sweeper  *collector.Sweeper
	embedded *notify.EmbeddedServer
	nats     *notify.NATSPublisher
	logger   *slog.Logger
}

// newPipeline opens storage, seeds configured servers and connects the
// notification sinks. extra sinks receive every notification too.
func newPipeline(ctx context.Context, cfg *config.Config, logger *slog.Logger, extra ...dispatch.Notifier) (*pipeline, error) {
	store, err := storage.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing database: %w", err)
	}
	p := &pipeline{store: store, cursors: cursor.New(store), logger: logger}
	logger.Info("database initialized", "path", cfg.Database.Path)

	if err := seedServers(ctx, store, cfg.Servers, logger); err != nil {
		p.Close()
		return nil, err
	}

	sinks := notify.Fanout(extra)
	if cfg.NATS.Enabled() {
		url := cfg.NATS.URL
		if cfg.NATS.Embedded {
			p.embedded, err = notify.StartEmbeddedServer(cfg.NATS.Host, cfg.NATS.Port, logger)
			if err != nil {
				p.Close()
				return nil, err
			}
			url = p.embedded.ClientURL()
		}
		p.nats, err = notify.NewNATSPublisher(url, cfg.NATS.SubjectPrefix, logger)
		if err != nil {
			p.Close()
			return nil, err
		}
		sinks = append(sinks, p.nats)
		logger.Info("publishing notifications to nats", "url", url, "subject_prefix", cfg.NATS.SubjectPrefix)
	}

	var notifier dispatch.Notifier = sinks
	if len(sinks) == 0 {
		logger.Warn("no notification sink configured, notifications are discarded")
		notifier = notify.Discard{}
	}

	dispatcher := dispatch.New(notifier, store, store,
		dispatch.WithKillReward(cfg.Sweep.KillReward),
		dispatch.WithLogger(logger.With("component", "dispatch")))
	p.sweeper = collector.NewSweeper(cfg.Sweep, store, collector.NewFileReader(), p.cursors, dispatcher,
		logger.With("component", "sweeper"))
	return p, nil
}

// Close releases the sinks and the database in dependency order
func (p *pipeline) Close() {
	if p.sweeper != nil {
		p.sweeper.Stop()
	}
	if p.nats != nil {
		p.nats.Close()
	}
	if p.embedded != nil {
		p.embedded.Shutdown()
	}
	if err := p.store.Close(); err != nil {
		p.logger.Warn("closing database", "error", err)
	}
}

// seedServers upserts the servers listed in the config file by name
func seedServers(ctx context.Context, store *storage.Store, servers []config.GameServer, logger *slog.Logger) error {
	for _, gs := range servers {
		srv := &domain.Server{
			Name:            gs.Name,
			Endpoint:        gs.Endpoint,
			LogPath:         gs.LogPath,
			DeathLogDir:     gs.DeathLogDir,
			LogChannel:      gs.LogChannel,
			KillfeedChannel: gs.KillfeedChannel,
		}
		if err := store.UpsertServerByName(ctx, srv); err != nil {
			return fmt.Errorf("seeding server %q: %w", gs.Name, err)
		}
		logger.Info("server registered from config", "server", srv.Name, "server_id", srv.ID)
	}
	return nil
}

// cmdServe runs the sweeper and the operator API until signalled
func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal(slog.Default(), "failed to load config", err)
	}
	logger := newLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)
	logger.Info("killfeed starting", "version", version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := api.NewWebSocketHub(logger.With("component", "websocket"))
	go hub.Run(ctx)

	p, err := newPipeline(ctx, cfg, logger, hub)
	if err != nil {
		fatal(logger, "failed to start pipeline", err)
	}
	defer p.Close()

	cleaner := storage.NewRetentionCleaner(p.store, cfg.Database.EventRetention, logger)
	if cleaner != nil {
		defer cleaner.Stop()
	}

	p.sweeper.Start(ctx)

	if cfg.Server.Disabled {
		logger.Info("http server disabled")
		<-ctx.Done()
		logger.Info("shutting down")
		return
	}

	authService := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.TokenDuration)
	if cfg.Auth.JWTSecret == "" {
		logger.Warn("no jwt secret configured, admin routes accept tokens signed with an empty secret")
	}
	router := api.NewRouter(p.store, p.cursors, hub, authService, logger.With("component", "api"))

	addr := fmt.Sprintf("%s:%d", cfg.Server.ListenAddr, cfg.Server.HTTPPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", addr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("received signal, shutting down")
	case err := <-serverErr:
		logger.Error("http server error", "error", err)
	}

	// Sequential shutdown: stop taking requests, then stop sweeping
	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer httpCancel()
	if err := server.Shutdown(httpCtx); err != nil {
		logger.Warn("http server shutdown error", "error", err)
	}
	p.sweeper.Stop()
	logger.Info("shutdown complete")
}

// cmdSweep runs the sweeper headless, or a single pass with --once
func cmdSweep(args []string) {
	fs := flag.NewFlagSet("sweep", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	once := fs.Bool("once", false, "run one pass of both sweeps and exit")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal(slog.Default(), "failed to load config", err)
	}
	logger := newLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, err := newPipeline(ctx, cfg, logger)
	if err != nil {
		fatal(logger, "failed to start pipeline", err)
	}
	defer p.Close()

	if *once {
		if err := p.sweeper.SweepDeathLogs(ctx); err != nil {
			logger.Error("death log sweep failed", "error", err)
		}
		if err := p.sweeper.SweepServerLogs(ctx); err != nil {
			logger.Error("server log sweep failed", "error", err)
		}
		return
	}

	p.sweeper.Start(ctx)
	<-ctx.Done()
	logger.Info("received signal, shutting down")
}
