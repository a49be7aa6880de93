// Command mapsync runs the sync engine headless and serves the rendered
// marker set and the command intents over HTTP.
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
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/nodemc/mapsync/internal/api"
	"github.com/nodemc/mapsync/internal/config"
	"github.com/nodemc/mapsync/internal/handlers"
	"github.com/nodemc/mapsync/internal/influx"
	"github.com/nodemc/mapsync/internal/logging"
	"github.com/nodemc/mapsync/internal/mirror"
	"github.com/nodemc/mapsync/internal/monitor"
	intOtel "github.com/nodemc/mapsync/internal/otel"
	"github.com/nodemc/mapsync/internal/poller"
	"github.com/nodemc/mapsync/internal/render"
	"github.com/nodemc/mapsync/internal/session"
	"github.com/nodemc/mapsync/internal/status"
	"github.com/nodemc/mapsync/internal/storage"
	"github.com/nodemc/mapsync/internal/transport/websocket"
)

// Version and BuildDate can be set at build time via ldflags.
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
)

const appName = "mapsync"

// engine is what both channel managers provide to the daemon.
type engine interface {
	handlers.Engine
	Run(ctx context.Context) error
	Board() *status.Board
}

func main() {
	configDir := pflag.StringP("config", "c", ".", "directory containing "+config.FileName)
	pflag.String("endpoint", "", "server endpoint (ws, wss, http or https)")
	pflag.String("mode", "", "push or poll")
	pflag.String("listen", "", "control surface listen address")
	pflag.Parse()

	_ = viper.BindPFlag("endpoint", pflag.Lookup("endpoint"))
	_ = viper.BindPFlag("mode", pflag.Lookup("mode"))
	_ = viper.BindPFlag("http.listen", pflag.Lookup("listen"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configDir); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configDir string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sessionStart := time.Now()
	cfgErr := config.Load(configDir)

	logsDir := config.GetString("logsDir")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("creating logs dir: %w", err)
	}
	logPath := logging.LogFilePath(logsDir, appName, sessionStart)
	logFile := logging.NewRotatingFile(logPath)
	defer logFile.Close()

	level := config.GetString("logLevel")
	board := status.NewBoard()
	slogManager := logging.NewSlogManager()
	logOpts := logging.Options{
		File:    logFile,
		Console: true,
		Level:   level,
		Context: logging.StatusContext(board),
	}
	slogManager.Setup(logOpts)
	logger := slogManager.Logger()

	if cfgErr != nil {
		logger.Warn("Failed to load config, using defaults!", "error", cfgErr)
	} else {
		logger.Info("Loaded config", "dir", configDir)
	}

	otelProvider, err := setupOTel(logFile)
	if err != nil {
		logger.Error("Failed to initialize OTel provider", "error", err)
	}
	if otelProvider != nil {
		defer func() {
			flushCtx, cancelFlush := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelFlush()
			_ = slogManager.Flush(flushCtx)
			_ = otelProvider.Shutdown(flushCtx)
		}()
		logOpts.Provider = otelProvider.LoggerProvider()
	}

	if gl := config.GetGraylogConfig(); gl.Enabled {
		w, err := logging.DialGraylog(gl.Address)
		if err != nil {
			logger.Error("Failed to connect to Graylog", "address", gl.Address, "error", err)
		} else {
			defer w.Close()
			logOpts.Graylog = w
		}
	}
	if logOpts.Provider != nil || logOpts.Graylog != nil {
		slogManager.Setup(logOpts)
		logger = slogManager.Logger()
	}
	logger.Info("Starting", "version", Version, "buildDate", BuildDate, "logFile", logPath)

	zl := logging.NewZerolog(logFile, level)

	sessCfg := config.GetSessionConfig()
	if sessCfg.ClientID == "" {
		sessCfg.ClientID = uuid.NewString()
		logger.Info("Generated client id", "clientId", sessCfg.ClientID)
	}

	journal, err := createStorageBackend(config.GetStorageConfig(), logsDir, sessionStart, logger, zl)
	if err != nil {
		return err
	}
	if err := journal.Init(); err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	defer func() {
		if err := journal.Close(); err != nil {
			logger.Error("Failed to close storage backend", "error", err)
		}
	}()

	recorder := render.NewRecorder()
	surface := render.LogSurface{Logger: logger.With("component", "surface"), Next: recorder}
	projector, err := render.NewProjector(surface, renderConfig(config.GetRenderConfig()))
	if err != nil {
		return fmt.Errorf("render config: %w", err)
	}

	eng, err := newEngine(sessCfg, projector, journal, board, logger, zl)
	if err != nil {
		return err
	}

	var statusWriter monitor.StatusWriter
	if influxCfg := config.GetInfluxConfig(); influxCfg.Enabled {
		backupPath := filepath.Join(logsDir, fmt.Sprintf("influx_backup.%s.log.gz", sessionStart.Format("20060102_150405")))
		im := influx.NewManager(zl, influxCfg, backupPath)
		if err := im.Connect(ctx); err != nil {
			logger.Error("Failed to set up InfluxDB", "error", err)
		} else {
			statusWriter = im
		}
		defer im.Close()
	}

	mon := monitor.NewService(monitor.Dependencies{
		Board:    board,
		Journal:  journal,
		Influx:   statusWriter,
		ClientID: sessCfg.ClientID,
		Dir:      logsDir,
		Interval: config.GetMonitorConfig().Interval,
		Logger:   logger,
	})
	mon.Start(ctx)
	defer mon.Stop()

	srv := &http.Server{
		Addr: config.GetHTTPConfig().Listen,
		Handler: handlers.NewService(handlers.Dependencies{
			Engine:  eng,
			Markers: recorder,
			Logger:  logger,
		}).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	srvErr := make(chan error, 1)
	go func() {
		logger.Info("Control surface listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
		close(srvErr)
	}()

	runErr := make(chan error, 1)
	go func() { runErr <- eng.Run(ctx) }()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case err := <-srvErr:
		if err != nil {
			logger.Error("Control surface failed", "error", err)
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Control surface shutdown", "error", err)
	}
	cancel()
	if err := <-runErr; err != nil {
		return err
	}
	logger.Info("Stopped", "revision", board.Get().Revision)
	return nil
}

// newEngine builds the channel manager selected by mode.
func newEngine(
	sessCfg config.SessionConfig,
	projector *render.Projector,
	journal storage.Recorder,
	board *status.Board,
	logger *slog.Logger,
	zl zerolog.Logger,
) (engine, error) {
	if sessCfg.Mode == poller.ModePoll {
		pollCfg := config.GetPollConfig()
		logger.Info("Polling snapshots", "url", pollCfg.URL, "interval", pollCfg.Interval)
		p, err := poller.New(poller.Options{
			Fetcher:   api.New(pollCfg.URL),
			URL:       pollCfg.URL,
			Interval:  pollCfg.Interval,
			ClientID:  sessCfg.ClientID,
			Projector: projector,
			Journal:   journal,
			Board:     board,
			Logger:    logger,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	}

	logger.Info("Opening push channel", "endpoint", sessCfg.Endpoint, "channel", sessCfg.Channel)
	m, err := session.New(session.Options{
		Endpoint:             sessCfg.Endpoint,
		ClientID:             sessCfg.ClientID,
		RoomCode:             sessCfg.RoomCode,
		Channel:              sessCfg.Channel,
		ReconnectDelay:       sessCfg.ReconnectDelay,
		MaxReconnectAttempts: sessCfg.MaxReconnectAttempts,
		KeepaliveInterval:    sessCfg.KeepaliveInterval,
		ResyncCooldown:       config.GetSyncConfig().ResyncCooldown,
		AckTimeout:           config.GetCommandConfig().AckTimeout,
		Dialer:               &websocket.Dialer{Logger: logger},
		Projector:            projector,
		Journal:              journal,
		Board:                board,
		Logger:               logger,
		RouterLogger:         logging.NewDispatcherLogger(zl),
		ConnectOnStart:       true,
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func setupOTel(logFile io.Writer) (*intOtel.Provider, error) {
	otelCfg := config.GetOTelConfig()
	if !otelCfg.Enabled {
		return nil, nil
	}
	return intOtel.New(intOtel.Config{
		Enabled:        true,
		ServiceName:    otelCfg.ServiceName,
		BatchTimeout:   otelCfg.BatchTimeout,
		MetricInterval: otelCfg.MetricInterval,
		LogWriter:      logFile,
		Endpoint:       otelCfg.Endpoint,
		Insecure:       otelCfg.Insecure,
	})
}

// renderConfig converts the file-level render settings.
func renderConfig(rc config.RenderConfig) render.Config {
	cfg := render.Config{
		TargetDimension:  rc.TargetDimension,
		ShowCoords:       rc.ShowCoords,
		AutoTeamFromName: rc.AutoTeamFromName,
		FriendlyTags:     rc.FriendlyTags,
		EnemyTags:        rc.EnemyTags,
		Sizes: render.Sizes{
			Player:   rc.Sizes.Player,
			Entity:   rc.Sizes.Entity,
			Waypoint: rc.Sizes.Waypoint,
		},
		Projection: rc.Projection,
		Scale:      rc.Scale,
	}
	for _, s := range rc.Scopes {
		cfg.Scopes = append(cfg.Scopes, mirror.Scope(s))
	}
	return cfg
}
