package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/semihalev/zlog/v2"

	"github.com/sexfrance/Authorative-DNS-server/api"
	"github.com/sexfrance/Authorative-DNS-server/config"
	"github.com/sexfrance/Authorative-DNS-server/redirect"
	"github.com/sexfrance/Authorative-DNS-server/registry"
	"github.com/sexfrance/Authorative-DNS-server/remote"
	"github.com/sexfrance/Authorative-DNS-server/resolver"
	"github.com/sexfrance/Authorative-DNS-server/server"
	"github.com/sexfrance/Authorative-DNS-server/store"
	"github.com/sexfrance/Authorative-DNS-server/syncer"
)

const version = "1.0.0"

var (
	flagcfgpath  string
	flagdaemon   bool
	flagprintver = flag.Bool("v", false, "show version information")

	cfg *config.Config
)

func init() {
	runtime.GOMAXPROCS(runtime.NumCPU())

	flag.StringVar(&flagcfgpath, "config", "config/dns.toml", "location of the config file, if config file not found, a config will generate")
	flag.StringVar(&flagcfgpath, "c", "config/dns.toml", "location of the config file (shorthand)")
	flag.BoolVar(&flagdaemon, "daemon", false, "run in the background (informational, the process does not fork)")
	flag.BoolVar(&flagdaemon, "d", false, "run in the background (shorthand)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "Options:")
		flag.PrintDefaults()
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Example:")
		fmt.Fprintf(os.Stderr, "%s -config=config/dns.toml\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "")
	}
}

func setup() {
	logger := zlog.NewStructured()
	logger.SetWriter(zlog.StdoutTerminal())
	zlog.SetDefault(logger)

	var err error

	if cfg, err = config.Load(flagcfgpath, version); err != nil {
		fatal("Config loading failed", "error", err.Error())
	}

	switch cfg.LogLevel {
	case "debug":
		logger.SetLevel(zlog.LevelDebug)
	case "warn":
		logger.SetLevel(zlog.LevelWarn)
	case "error":
		logger.SetLevel(zlog.LevelError)
	default:
		logger.SetLevel(zlog.LevelInfo)
	}
}

func run(ctx context.Context) {
	st, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		fatal("Database connection failed", "error", err.Error())
	}

	rc := remote.New(cfg.RemoteURL, cfg.RemoteKey)
	lk := resolver.New(5 * time.Second)

	reg := registry.New(cfg, st, lk)
	sync := syncer.New(cfg, st, rc, reg)

	if rc.Configured() {
		if err := sync.Pull(ctx); err != nil {
			zlog.Error("Initial sync from record-of-truth failed", "error", err.Error())
		}
	}

	if err := reg.LoadFromStore(ctx); err != nil {
		fatal("Loading domains failed", "error", err.Error())
	}

	srv := server.New(cfg, reg)
	srv.Run()

	if cfg.HTTPRedirectEnabled {
		redirect.New(cfg, reg).Run(ctx)
	}

	api.New(cfg, reg, sync).Run(ctx)

	go verifyLoop(ctx, reg)

	if rc.Configured() {
		go sync.Run(ctx)

		if cfg.AutoDiscoveryEnabled {
			go discoveryLoop(ctx, sync)
		}
	}
}

func verifyLoop(ctx context.Context, reg *registry.Registry) {
	zlog.Info("Starting verification loop", "interval", cfg.VerificationInterval().String())

	ticker := time.NewTicker(cfg.VerificationInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reg.VerifyAll(ctx)
		}
	}
}

func discoveryLoop(ctx context.Context, sync *syncer.Syncer) {
	ticker := time.NewTicker(cfg.VerificationInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sync.DiscoverPending(ctx); err != nil {
				zlog.Error("Discovery run failed", "error", err.Error())
			}
		}
	}
}

func fatal(msg string, args ...any) {
	zlog.Error(msg, args...)
	os.Exit(1)
}

func main() {
	flag.Parse()

	if *flagprintver {
		println("Authoritative DNS server v" + version)
		os.Exit(0)
	}

	setup()

	zlog.Info("Starting authoritative DNS server...", "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	run(ctx)

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)

	<-c

	zlog.Info("Stopping server...")
}
