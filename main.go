package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"

	"fidgetfighter/config"
	"fidgetfighter/logging"
	"fidgetfighter/relay"
	"fidgetfighter/session"
)

// FidgetFighter 入口：-mode client 运行无界面客户端，-mode relay 运行本地匹配中继
func main() {
	var (
		cfgPath string
		mode    string
		url     string
		addr    string
	)
	flag.StringVar(&cfgPath, "config", "", "path to a YAML config file")
	flag.StringVar(&mode, "mode", "", "client or relay (overrides config)")
	flag.StringVar(&url, "url", "", "client endpoint, e.g. ws://127.0.0.1:3000 (overrides config)")
	flag.StringVar(&addr, "addr", "", "relay listen address, e.g. :3000 (overrides config)")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err == nil {
		err = applyFlags(&cfg, mode, url, addr)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	if err := logging.Init(cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(2)
	}
	defer logging.Sync()

	// 优雅退出（Ctrl+C）
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cfg.Mode {
	case "relay":
		err = runRelay(ctx, cfg)
	default:
		err = runClient(ctx, cfg)
	}
	if err != nil {
		logging.Log.Errorw("exit", "err", err)
		logging.Sync()
		os.Exit(1)
	}
	logging.Log.Info("Shutting down...")
}

func applyFlags(cfg *config.Config, mode, url, addr string) error {
	if mode != "" {
		cfg.Mode = mode
	}
	if url != "" {
		cfg.Client.URL = url
	}
	if addr != "" {
		cfg.Relay.Addr = addr
	}
	return cfg.Validate()
}

func runClient(ctx context.Context, cfg config.Config) error {
	opts, err := session.OptionsFromConfig(cfg.Client)
	if err != nil {
		return err
	}
	opts.Logger = logging.Log.Named("session")
	s := session.New(opts)

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	loopDone := make(chan error, 1)
	go func() { loopDone <- s.Run(loopCtx) }()

	if cfg.AdminAddr != "" {
		srv := &http.Server{Addr: cfg.AdminAddr, Handler: cors.Default().Handler(session.StatusHandler(s))}
		go serve(srv, "status")
		defer shutdown(srv)
	}

	err = session.RunBot(ctx, s, cfg.Client.Bot, logging.Log.Named("bot"))
	cancel()
	<-loopDone
	return err
}

func runRelay(ctx context.Context, cfg config.Config) error {
	opts := relay.OptionsFromConfig(cfg.Relay)
	opts.Logger = logging.Log.Named("relay")
	hub := relay.NewHub(opts)

	hubDone := make(chan error, 1)
	go func() { hubDone <- hub.Run(ctx) }()

	srv := &http.Server{Addr: cfg.Relay.Addr, Handler: hub.Handler()}
	go serve(srv, "relay")

	var admin *http.Server
	if cfg.AdminAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/stats", hub.HandleStats)
		admin = &http.Server{Addr: cfg.AdminAddr, Handler: cors.Default().Handler(mux)}
		go serve(admin, "admin")
	}

	<-ctx.Done()
	shutdown(srv)
	if admin != nil {
		shutdown(admin)
	}
	return <-hubDone
}

func serve(srv *http.Server, name string) {
	logging.Log.Infof("%s listening on %s", name, srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logging.Log.Errorw("listen", "server", name, "err", err)
	}
}

func shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
