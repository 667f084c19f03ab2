// Package app arma el engine completo (storage, identidad, gateway, state machine y
// coordinator) detrás de la API que consume la UI.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/dropDatabas3/cartsync/internal/cartstate"
	"github.com/dropDatabas3/cartsync/internal/config"
	"github.com/dropDatabas3/cartsync/internal/coordinator"
	"github.com/dropDatabas3/cartsync/internal/credential"
	"github.com/dropDatabas3/cartsync/internal/gateway"
	"github.com/dropDatabas3/cartsync/internal/guest"
	"github.com/dropDatabas3/cartsync/internal/identity"
	"github.com/dropDatabas3/cartsync/internal/kv"
	"github.com/dropDatabas3/cartsync/internal/metrics"
	"github.com/dropDatabas3/cartsync/internal/observability/logger"
	"github.com/prometheus/client_golang/prometheus"
)

// Options permite reemplazar piezas al armar la app (tests, embedding).
type Options struct {
	// Store reemplaza el kv que sale de la config.
	Store kv.Store
	// HTTPClient reemplaza el cliente HTTP del gateway.
	HTTPClient *http.Client
	// Registerer donde se registran las métricas. nil = no registrar.
	Registerer prometheus.Registerer
}

// App es el engine armado.
type App struct {
	Store       kv.Store
	Credentials *credential.Store
	Sessions    *guest.Provider
	Resolver    *identity.Resolver
	Gateway     *gateway.CartGateway
	Auth        *gateway.AuthClient
	Machine     *cartstate.Machine
	Coordinator *coordinator.Coordinator

	ownsStore bool
}

// New arma la app desde la config.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	log := logger.From(ctx).With(logger.Component("app"))

	if opts.Registerer != nil {
		if err := metrics.Register(opts.Registerer); err != nil {
			return nil, fmt.Errorf("app: register metrics: %w", err)
		}
	}

	a := &App{Store: opts.Store}
	if a.Store == nil {
		s, err := kv.New(kv.Config{
			Driver: cfg.Storage.Driver,
			Path:   cfg.Storage.Path,
			Addr:   cfg.Storage.Redis.Addr,
			DB:     cfg.Storage.Redis.DB,
			Prefix: cfg.Storage.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("app: open storage: %w", err)
		}
		a.Store = s
		a.ownsStore = true
	}

	gwCfg := gateway.Config{
		BaseURL:      cfg.Backend.BaseURL,
		HTTPClient:   opts.HTTPClient,
		Timeout:      cfg.Backend.Timeout,
		ReadRetries:  cfg.Backend.ReadRetries,
		RetryBackoff: cfg.Backend.RetryBackoff,
		UserAgent:    cfg.Backend.UserAgent,
	}

	a.Credentials = credential.NewStore(a.Store)
	a.Sessions = guest.NewProvider(a.Store)
	a.Resolver = &identity.Resolver{Credentials: a.Credentials, Sessions: a.Sessions}
	a.Gateway = gateway.NewCartGateway(gwCfg)
	a.Auth = gateway.NewAuthClient(gwCfg)

	policy := cartstate.Queue
	if cfg.Cart.BusyPolicy == "reject" {
		policy = cartstate.Reject
	}
	a.Machine = cartstate.New(cartstate.Deps{
		Gateway:  a.Gateway,
		Identity: a.Resolver,
		Policy:   policy,
	})
	a.Coordinator = coordinator.New(ctx, coordinator.Deps{
		Credentials: a.Credentials,
		Sessions:    a.Sessions,
		Converter:   a.Gateway,
		Machine:     a.Machine,
		Auth:        a.Auth,
	})
	a.Machine.SetAuthRejectedHandler(a.Coordinator.HandleAuthRejected)

	log.Debug("engine wired",
		logger.String("storage", cfg.Storage.Driver),
		logger.String("backend", cfg.Backend.BaseURL),
		logger.String("identity", a.Coordinator.Status().String()),
	)
	return a, nil
}

// CurrentState devuelve el estado del carrito sin tocar la red.
func (a *App) CurrentState() cartstate.State { return a.Machine.State() }

// Load hace la lectura lazy si hace falta (primer acceso, después de logout).
func (a *App) Load(ctx context.Context) (cartstate.State, error) {
	return a.Machine.EnsureLoaded(ctx)
}

func (a *App) AddItem(ctx context.Context, variantID string, quantity int) (cartstate.State, error) {
	return a.Machine.AddItem(ctx, variantID, quantity)
}

func (a *App) UpdateQuantity(ctx context.Context, itemID string, quantity int) (cartstate.State, error) {
	return a.Machine.UpdateQuantity(ctx, itemID, quantity)
}

func (a *App) RemoveItem(ctx context.Context, itemID string) (cartstate.State, error) {
	return a.Machine.RemoveItem(ctx, itemID)
}

func (a *App) Clear(ctx context.Context) (cartstate.State, error) {
	return a.Machine.Clear(ctx)
}

func (a *App) Refresh(ctx context.Context) (cartstate.State, error) {
	return a.Machine.Refresh(ctx)
}

// OnIdentityChange recibe login/logout hechos por fuera del engine.
func (a *App) OnIdentityChange(ctx context.Context, id identity.Identity) (coordinator.Transition, error) {
	return a.Coordinator.OnIdentityChange(ctx, id)
}

// Login con email y password contra /auth/login.
func (a *App) Login(ctx context.Context, email, password string) (coordinator.Transition, error) {
	return a.Coordinator.LoginWithPassword(ctx, email, password)
}

// Logout vacía el carrito en el acto y vuelve a la sesión guest anterior.
func (a *App) Logout(ctx context.Context) (coordinator.Transition, error) {
	return a.Coordinator.Logout(ctx)
}

// RefreshToken rota la credencial actual.
func (a *App) RefreshToken(ctx context.Context) error {
	return a.Coordinator.Refresh(ctx)
}

// Identity devuelve la identidad activa. Como guest puede crear el session id.
func (a *App) Identity(ctx context.Context) (identity.Identity, error) {
	return a.Resolver.Current(ctx)
}

func (a *App) Subscribe(fn func(cartstate.State)) (cancel func()) {
	return a.Machine.Subscribe(fn)
}

// Close cierra el storage si lo abrió la app.
func (a *App) Close() error {
	if !a.ownsStore || a.Store == nil {
		return nil
	}
	err := a.Store.Close()
	a.Store = nil
	return err
}
