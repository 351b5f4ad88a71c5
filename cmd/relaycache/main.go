package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	relaycache "github.com/relaycache/relaycache"
	"github.com/relaycache/relaycache/cache"
	"github.com/relaycache/relaycache/journal"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var (
	// CLI flags
	portFlag           int
	backendFlag        string
	cacheDirFlag       string
	ttlFlag            int
	clearFlag          bool
	adminAddrFlag      string
	journalDbFlag      string
	verbosityTraceFlag bool
)

func main() {
	flags := flag.NewFlagSet("relaycache", flag.ContinueOnError)
	flags.IntVar(&portFlag, "port", 3000, "Port to listen on")
	flags.StringVar(&backendFlag, "backend", "", "Backend URL to proxy to (required)")
	flags.StringVar(&cacheDirFlag, "cache-dir", "/tmp/proxy_cache", "Directory for cached responses")
	flags.IntVar(&ttlFlag, "ttl", 300, "Cache TTL in seconds")
	flags.BoolVar(&clearFlag, "clear", false, "Clear the cache directory and exit")
	flags.StringVar(&adminAddrFlag, "admin-addr", "", "Address for the admin endpoint (disabled if empty)")
	flags.StringVar(&journalDbFlag, "journal-db", "", "Request journal DB file (in-memory if empty)")
	flags.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	if err := flags.Parse(os.Args[1:]); err != nil {
		os.Exit(1)
	}

	// set log level
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}
	log.Logger = log.Level(logLevel).Output(zerolog.ConsoleWriter{Out: os.Stdout})

	store, err := cache.NewFileCache(cacheDirFlag)
	if err != nil {
		log.Error().Err(err).Str("dir", cacheDirFlag).Msg("Could not set up cache directory")
		os.Exit(1)
	}

	if clearFlag {
		if err := store.Clear(); err != nil {
			log.Error().Err(err).Msg("Could not clear cache")
			os.Exit(1)
		}
		fmt.Println("Cache cleared.")
		os.Exit(0)
	}

	if backendFlag == "" {
		fmt.Fprintln(os.Stderr, "Error: --backend is required")
		os.Exit(1)
	}

	jnl, err := journal.Open(journalDbFlag)
	if err != nil {
		log.Error().Err(err).Msg("Could not open request journal")
		os.Exit(1)
	}
	defer jnl.Close()

	relay := relaycache.New(relaycache.Config{
		Cache:   store,
		Backend: backendFlag,
		TTL:     time.Duration(ttlFlag) * time.Second,
		Logger:  &log.Logger,
		Journal: jnl,
	})
	server := relaycache.NewServer(relay, fmt.Sprintf(":%d", portFlag))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Msgf("Starting proxy on port %d, backend: %s", portFlag, backendFlag)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return server.ListenAndServe(ctx)
	})
	if adminAddrFlag != "" {
		admin := &http.Server{Addr: adminAddrFlag, Handler: relaycache.AdminHandler(jnl)}
		group.Go(func() error {
			log.Info().Str("addr", adminAddrFlag).Msg("Admin endpoint listening")
			if err := admin.ListenAndServe(); err != http.ErrServerClosed {
				return err
			}
			return nil
		})
		group.Go(func() error {
			<-ctx.Done()
			return admin.Close()
		})
	}

	if err := group.Wait(); err != nil {
		log.Error().Err(err).Msg("Proxy exited with error")
		os.Exit(1)
	}
	log.Info().Msg("Shutting down")
}
