// Command kvstored runs the key-value store server: it recovers state from
// an append-only log, then accepts TCP connections speaking kvstored's
// length-prefixed binary protocol until it receives SIGINT or SIGTERM.
//
// Usage:
//
//	kvstored [flags] [port] [aol_path]
//
// port defaults to 7878, aol_path defaults to "store.aol" in the current
// directory. Flags:
//
//	--shards   number of map shards, must be a power of two (default 256)
//	--workers  size of the connection worker pool (default runtime.NumCPU())
//	--fsync    fsync the AOL after every record (default false)
//	--listen   listen address, overrides the derived ":port" (default "")
//
// Exit codes: 0 on clean shutdown via signal, 1 on any fatal startup or
// runtime error.
package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/dreamware/kvstored/internal/aol"
	"github.com/dreamware/kvstored/internal/server"
	"github.com/dreamware/kvstored/internal/store"
)

const (
	defaultPort    = 7878
	defaultAOLPath = "store.aol"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run contains main's logic without calling os.Exit, so it can be exercised
// directly from tests without terminating the test process.
func run(args []string) int {
	flags := pflag.NewFlagSet("kvstored", pflag.ContinueOnError)
	shards := flags.Int("shards", store.DefaultShardCount, "number of map shards (must be a power of two)")
	workers := flags.Int("workers", 0, "connection worker pool size (default: runtime.NumCPU())")
	fsync := flags.Bool("fsync", false, "fsync the append-only log after every record")
	listen := flags.String("listen", "", "listen address, overrides the derived :port")

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "kvstored: failed to init logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	port, aolPath, err := positionalArgs(flags.Args())
	if err != nil {
		logger.Error("bad arguments", zap.Error(err))
		return 1
	}

	if *shards <= 0 || *shards&(*shards-1) != 0 {
		logger.Error("invalid --shards: must be a power of two", zap.Int("shards", *shards))
		return 1
	}

	addr := *listen
	if addr == "" {
		addr = fmt.Sprintf(":%d", port)
	}

	m := store.NewMap(*shards)

	logger.Info("recovering from append-only log", zap.String("path", aolPath))
	if err := aol.Recover(aolPath, m); err != nil {
		logger.Error("failed to recover append-only log", zap.Error(err), zap.String("path", aolPath))
		return 1
	}
	logger.Info("recovery complete", zap.Int("keys", m.Len()))

	writer, err := aol.NewWriter(aolPath, aol.WriterOptions{Fsync: *fsync, Log: logger})
	if err != nil {
		logger.Error("failed to open append-only log for writing", zap.Error(err))
		return 1
	}
	defer writer.Close()

	srv := server.New(addr, m, writer, server.Options{
		Workers: *workers,
		Log:     logger,
	})
	if err := srv.Start(); err != nil {
		logger.Error("failed to start server", zap.Error(err))
		return 1
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutdown signal received, draining connections")
	if err := srv.Stop(); err != nil {
		logger.Error("error during shutdown", zap.Error(err))
		return 1
	}
	return 0
}

// positionalArgs parses the optional [port] [aol_path] positional
// arguments, applying defaults for anything omitted.
func positionalArgs(args []string) (int, string, error) {
	port := defaultPort
	aolPath := defaultAOLPath

	if len(args) > 0 {
		p, err := strconv.Atoi(args[0])
		if err != nil {
			return 0, "", fmt.Errorf("invalid port %q: %w", args[0], err)
		}
		port = p
	}
	if len(args) > 1 {
		aolPath = args[1]
	}
	if len(args) > 2 {
		return 0, "", fmt.Errorf("unexpected extra arguments: %v", args[2:])
	}
	return port, aolPath, nil
}
