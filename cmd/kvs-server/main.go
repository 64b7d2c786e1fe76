// Command kvs-server runs the kvs network server against the current
// working directory as the database root.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/epokhe/kvs/internal/bboltengine"
	"github.com/epokhe/kvs/internal/pool"
	"github.com/epokhe/kvs/internal/server"
	"github.com/epokhe/kvs/internal/storage"
	"go.uber.org/zap"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage:\n")
	fmt.Fprintf(os.Stderr, "  kvs-server --listen-addr <host:port> [--engine kvs|bbolt] [--pool naive|shared-queue|stealing]\n")
	os.Exit(1)
}

func main() {
	var (
		listenAddr = flag.String("listen-addr", "", "address to listen on (required)")
		engineName = flag.String("engine", "kvs", "storage engine: kvs or bbolt")
		poolKind   = flag.String("pool", "shared-queue", "worker pool: naive, shared-queue, or stealing")
		numWorkers = flag.Int("workers", 8, "worker count for shared-queue and stealing pools")
	)
	flag.Parse()

	if *listenAddr == "" {
		usage()
	}

	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck
	sugar := log.Sugar()

	root, err := os.Getwd()
	if err != nil {
		sugar.Fatalf("could not determine working directory: %v", err)
	}

	engine, closeEngine, err := openEngine(*engineName, root, sugar)
	if err != nil {
		sugar.Fatalf("could not open engine %q: %v", *engineName, err)
	}
	defer closeEngine() //nolint:errcheck

	p, err := pool.New(pool.Kind(*poolKind), *numWorkers)
	if err != nil {
		sugar.Fatalf("could not build worker pool: %v", err)
	}

	srv := server.New(engine, p, server.WithLogger(sugar))
	if err := srv.Listen(*listenAddr); err != nil {
		sugar.Fatalf("could not bind %q: %v", *listenAddr, err)
	}
	sugar.Infof("kvs-server listening on %s (engine=%s, pool=%s)", srv.Addr(), *engineName, *poolKind)

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(*listenAddr) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		sugar.Infof("received %v, shutting down", sig)
	case err := <-serveErr:
		if err != nil {
			sugar.Errorf("serve error: %v", err)
		}
	}

	if err := srv.Close(); err != nil {
		sugar.Errorf("close server: %v", err)
	}
}

func openEngine(name, root string, log *zap.SugaredLogger) (server.Engine, func() error, error) {
	switch name {
	case "kvs", "":
		e, err := storage.Open(root, storage.WithLogger(log))
		if err != nil {
			return nil, nil, err
		}
		return e, e.Close, nil
	case "bbolt":
		e, err := bboltengine.Open(root)
		if err != nil {
			return nil, nil, err
		}
		return e, e.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown engine %q", name)
	}
}
