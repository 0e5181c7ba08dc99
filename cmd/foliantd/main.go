// foliantd serves one foliant database over TCP.
//
// Usage:
//
//	foliantd [flags]
//
// Flags override the config file:
//
//	-c, --config <file>     JSONC config file
//	-l, --listen <addr>     TCP listen address
//	-d, --db <path>         Database log path (empty = ephemeral)
//	--log-level <level>     debug|info|warn|error
//	--log-format <format>   text|json
//	--compact-on-start      Rewrite the log once after it loads
//
// SIGINT and SIGTERM stop the accept loop, drain open connections, and
// close the database within the configured close_timeout. A second signal
// kills the process.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/foliantdb/foliant/internal/config"
	"github.com/foliantdb/foliant/internal/logging"
	"github.com/foliantdb/foliant/internal/server"
	"github.com/foliantdb/foliant/pkg/engine"
	"github.com/foliantdb/foliant/pkg/foliant"
)

func main() {
	err := run(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flagSet := flag.NewFlagSet("foliantd", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	configPath := flagSet.StringP("config", "c", "", "JSONC config file")
	listen := flagSet.StringP("listen", "l", "", "TCP listen address")
	dbPath := flagSet.StringP("db", "d", "", "database log path (empty = ephemeral)")
	logLevel := flagSet.String("log-level", "", "log level: debug|info|warn|error")
	logFormat := flagSet.String("log-format", "", "log format: text|json")
	compactOnStart := flagSet.Bool("compact-on-start", false, "rewrite the log once after it loads")

	err := flagSet.Parse(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			printUsage(os.Stdout, flagSet)

			return nil
		}

		printUsage(os.Stderr, flagSet)

		return err
	}

	if flagSet.NArg() > 0 {
		printUsage(os.Stderr, flagSet)

		return fmt.Errorf("unexpected argument: %s", flagSet.Arg(0))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	// Flags win over the file, including an explicit --db "" forcing an
	// ephemeral instance.
	if flagSet.Changed("listen") {
		cfg.Listen = *listen
	}

	if flagSet.Changed("db") {
		cfg.DatabasePath = *dbPath
	}

	if flagSet.Changed("log-level") {
		cfg.LogLevel = *logLevel
	}

	if flagSet.Changed("log-format") {
		cfg.LogFormat = *logFormat
	}

	if flagSet.Changed("compact-on-start") {
		cfg.CompactOnStart = *compactOnStart
	}

	err = cfg.Validate()
	if err != nil {
		return err
	}

	log, err := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	return serve(cfg, log)
}

func printUsage(w io.Writer, flagSet *flag.FlagSet) {
	fmt.Fprintf(w, "Usage: foliantd [flags]\n\n")
	fmt.Fprintf(w, "Serve a foliant database over TCP.\n\n")
	fmt.Fprintf(w, "Flags (override the config file):\n")
	flagSet.SetOutput(w)
	flagSet.PrintDefaults()
}

func serve(cfg config.Config, log *slog.Logger) error {
	db, err := openDatabase(cfg, log)
	if err != nil {
		return err
	}

	if cfg.CompactOnStart {
		performed, compactErr := db.Compact(context.Background())
		if compactErr != nil {
			_ = db.Close(time.Duration(cfg.CloseTimeout))

			return fmt.Errorf("compact on start: %w", compactErr)
		}

		log.Info("startup compaction finished", "performed", performed)
	}

	srv := server.New(db, server.Options{
		Logger:       log,
		ConnTimeout:  time.Duration(cfg.ConnTimeout),
		CloseTimeout: time.Duration(cfg.CloseTimeout),
	})

	serveErr := make(chan error, 1)

	go func() {
		serveErr <- srv.ListenAndServe(cfg.Listen)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err = <-serveErr:
		// The listener never came up or died. Still shut down so the
		// database releases its lock cleanly.
		shutdownErr := shutdown(srv, cfg)
		if err != nil {
			return err
		}

		return shutdownErr

	case sig := <-sigCh:
		log.Info("signal received", "signal", sig.String())
		// Restore default handling so a second signal kills us even if
		// the drain hangs.
		signal.Reset(os.Interrupt, syscall.SIGTERM)
	}

	err = shutdown(srv, cfg)
	if err != nil {
		return err
	}

	return <-serveErr
}

func openDatabase(cfg config.Config, log *slog.Logger) (*foliant.DB, error) {
	opts := foliant.Options{
		Engine:     engine.New(),
		Classifier: engine.Classifier{},
		Validator:  engine.Validator{},
		Codec:      engine.Codec{},
		Logger:     log,
	}

	if cfg.DatabasePath == "" {
		log.Info("no database path configured, running ephemeral")

		db, err := foliant.New(opts)
		if err != nil {
			return nil, fmt.Errorf("create ephemeral database: %w", err)
		}

		return db, nil
	}

	db, err := foliant.Open(cfg.DatabasePath, opts)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.DatabasePath, err)
	}

	log.Info("database open", "path", cfg.DatabasePath)

	return db, nil
}

// shutdown gives open connections the close budget to finish their current
// request, then Shutdown drains the database on its own budget.
func shutdown(srv *server.Server, cfg config.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.CloseTimeout))
	defer cancel()

	return srv.Shutdown(ctx)
}
