package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dropDatabas3/cartsync/internal/config"
	"github.com/dropDatabas3/cartsync/internal/devserver"
	"github.com/dropDatabas3/cartsync/internal/metrics"
	"github.com/dropDatabas3/cartsync/internal/observability/logger"
)

func main() {
	var (
		flagConfigPath = flag.String("config", os.Getenv("CARTSYNC_CONFIG"), "ruta a cartsync.yaml (env CARTSYNC_CONFIG)")
		flagEnvFile    = flag.String("env-file", ".env", "ruta a .env (si existe, se carga)")
		flagAddr       = flag.String("addr", "", "pisa devserver.addr")
	)
	flag.Parse()

	if *flagEnvFile != "" {
		if _, err := os.Stat(*flagEnvFile); err == nil {
			_ = godotenv.Load(*flagEnvFile)
		}
	}

	cfg, err := config.Load(*flagConfigPath)
	if err != nil {
		logger.L().Fatal("config", logger.Err(err))
	}
	logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level, ServiceName: "devserver"})
	defer func() { _ = logger.Sync() }()
	log := logger.L()

	addr := cfg.Devserver.Addr
	if *flagAddr != "" {
		addr = *flagAddr
	}

	srv, err := devserver.New(options(cfg))
	if err != nil {
		log.Fatal("devserver", logger.Err(err))
	}
	if err := metrics.Register(nil); err != nil {
		log.Fatal("metrics", logger.Err(err))
	}

	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.Mount("/", srv.Handler())

	hs := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = hs.Shutdown(shutdownCtx)
	}()

	log.Info("devserver up", logger.String("addr", addr), logger.Int("variants", len(cfg.Devserver.Catalog)))
	if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("http", logger.Err(err))
	}
}

// options traduce la config; sin catálogo ni usuarios se usan los de demo.
func options(cfg *config.Config) devserver.Options {
	opts := devserver.Options{
		Secret:   []byte(cfg.Devserver.Secret),
		TokenTTL: cfg.Devserver.TokenTTL,
	}
	for _, v := range cfg.Devserver.Catalog {
		opts.Variants = append(opts.Variants, devserver.Variant{ID: v.ID, Price: v.Price, Stock: v.Stock, Active: v.IsActive()})
	}
	if len(opts.Variants) == 0 {
		opts.Variants = devserver.DefaultCatalog()
	}
	for _, u := range cfg.Devserver.Users {
		opts.Users = append(opts.Users, devserver.UserSeed{ID: u.ID, Email: u.Email, Password: u.Password})
	}
	if len(opts.Users) == 0 {
		opts.Users = []devserver.UserSeed{{ID: "u-demo", Email: "demo@example.com", Password: "correct horse battery staple"}}
	}
	return opts
}
