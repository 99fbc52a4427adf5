package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"cancelobject/pkg/auth"
	"cancelobject/pkg/config"
	"cancelobject/pkg/history"
	"cancelobject/pkg/log"
	"cancelobject/pkg/metrics"
	"cancelobject/pkg/plugin"
	"cancelobject/pkg/printer"
	"cancelobject/pkg/server"
	"cancelobject/pkg/storage"
)

const shutdownTimeout = 10 * time.Second

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP host",
		Long: `Run the HTTP host: file uploads with object-comment normalization, print
job control, the operator cancel/skip API, job history, metrics and the
websocket message feed. Forwarded commands go to the configured machine
output.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			logger := rootOpts.logger(cmd.ErrOrStderr())
			closeLog, err := attachLogFile(logger, cfg.Server, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, logger, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func runServe(ctx context.Context, cfg config.Config, logger *log.Logger, stdout io.Writer) error {
	logger.WithFields(log.Fields{
		"addr":    cfg.Server.Addr,
		"uploads": cfg.Server.UploadDir,
		"reptag":  cfg.Plugin.RepTag,
	}).Info("starting cancelobject host")

	var store *history.Store
	if cfg.Server.HistoryDB != "" {
		s, err := history.Open(cfg.Server.HistoryDB)
		if err != nil {
			return err
		}
		defer s.Close()
		store = s
	}

	files, err := storage.NewFileManager(cfg.Server.UploadDir, logger.WithPrefix("storage"))
	if err != nil {
		return err
	}

	out, closeOut, err := openMachineOutput(cfg.Server.MachineOutput, stdout)
	if err != nil {
		return err
	}
	defer closeOut()

	m := metrics.NewCancelMetrics()
	hub := server.NewHub(logger.WithPrefix("hub"))
	p, err := plugin.New(plugin.Config{
		Settings: cfg.Plugin,
		Sink:     hub,
		History:  store,
		Metrics:  m,
		Logger:   logger.WithPrefix(plugin.Identifier),
	})
	if err != nil {
		return err
	}
	jobs := printer.NewController(p, files, out, logger.WithPrefix("printer"))

	authn := auth.NewAuthenticator(cfg.Server.JWTSecret)
	if !authn.Enabled() {
		logger.Warn("no jwt secret configured: every caller is anonymous and cannot cancel objects")
	}

	srv := server.New(server.Config{
		Addr:    cfg.Server.Addr,
		Plugin:  p,
		Files:   files,
		Jobs:    jobs,
		History: store,
		Auth:    authn,
		Metrics: m,
		Hub:     hub,
		Logger:  logger.WithPrefix("server"),
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	if err := jobs.Cancel(); err == nil {
		logger.Info("cancelled running print")
	}
	jobs.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

// attachLogFile tees logger output into a rotated server.log_file next to
// stderr. Colors are turned off so the file stays plain text.
func attachLogFile(logger *log.Logger, cfg config.ServerSettings, stderr io.Writer) (func(), error) {
	if cfg.LogFile == "" {
		return func() {}, nil
	}
	rw, err := log.NewRotatingFileWriter(log.RotationConfig{
		Filename:   cfg.LogFile,
		MaxSize:    cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		Compress:   cfg.LogCompress,
	})
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	logger.SetWriter(io.MultiWriter(stderr, rw))
	logger.SetColorize(false)
	return func() {
		logger.SetWriter(stderr)
		rw.Close()
	}, nil
}

// openMachineOutput opens the forwarded-command sink. "-" is stdout.
func openMachineOutput(target string, stdout io.Writer) (io.Writer, func(), error) {
	if target == "-" {
		return stdout, func() {}, nil
	}
	f, err := os.OpenFile(target, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open machine output: %w", err)
	}
	return f, func() { f.Close() }, nil
}
