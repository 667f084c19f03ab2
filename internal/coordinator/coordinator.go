// Package coordinator maneja las transiciones Anonymous <-> Authenticated y el merge
// del carrito guest en el del usuario.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dropDatabas3/cartsync/internal/cart"
	"github.com/dropDatabas3/cartsync/internal/cartstate"
	"github.com/dropDatabas3/cartsync/internal/identity"
	"github.com/dropDatabas3/cartsync/internal/metrics"
	"github.com/dropDatabas3/cartsync/internal/observability/logger"
	"go.uber.org/zap"
)

// Status de la identidad.
type Status int

const (
	Anonymous Status = iota
	Authenticated
)

func (s Status) String() string {
	if s == Authenticated {
		return "authenticated"
	}
	return "anonymous"
}

var (
	ErrEmptyCredential = errors.New("coordinator: credential without token")
	ErrNoAuthClient    = errors.New("coordinator: auth client not configured")
	ErrNotLoggedIn     = errors.New("coordinator: not logged in")
)

// Credentials es lo que se usa del credential store.
type Credentials interface {
	Get(ctx context.Context) (identity.Credential, bool)
	Set(ctx context.Context, cred identity.Credential) error
	Clear(ctx context.Context) error
}

// Sessions es lo que se usa del guest provider. Peek nunca crea un id.
type Sessions interface {
	Peek(ctx context.Context) (string, bool, error)
}

// Converter hace el merge guest→user en el backend.
type Converter interface {
	ConvertGuestToUser(ctx context.Context, id identity.Identity, guestSessionID string) (cart.Result[cart.Snapshot], error)
}

// Machine es lo que se usa de la cart state machine.
type Machine interface {
	Reset() cartstate.State
	IdentityChanged()
	Refresh(ctx context.Context) (cartstate.State, error)
	LoadWith(ctx context.Context, op string, load cartstate.Loader) (cartstate.State, error)
}

// AuthClient habla con /auth/*. Opcional: sin él solo funciona Login con credencial ya emitida.
type AuthClient interface {
	Login(ctx context.Context, email, password string) (identity.Credential, error)
	Refresh(ctx context.Context, cred identity.Credential) (identity.Credential, error)
	Logout(ctx context.Context, cred identity.Credential) error
}

// Deps del coordinator.
type Deps struct {
	Credentials Credentials
	Sessions    Sessions
	Converter   Converter
	Machine     Machine
	Auth        AuthClient
}

// Transition es el resultado de un cambio de identidad.
type Transition struct {
	From Status
	To   Status
	// Converted es true si el carrito guest se mergeó en el del usuario.
	Converted bool
	// Warning no vacío = el merge falló; el login igual quedó hecho.
	Warning string
	Cart    cartstate.State
}

// Coordinator serializa los cambios de identidad entre sí.
type Coordinator struct {
	d Deps

	mu     sync.Mutex // una transición a la vez
	stMu   sync.RWMutex
	status Status
}

// New arranca en Authenticated si el store ya tiene una credencial.
func New(ctx context.Context, d Deps) *Coordinator {
	c := &Coordinator{d: d, status: Anonymous}
	if _, ok := d.Credentials.Get(ctx); ok {
		c.status = Authenticated
	}
	return c
}

// Status devuelve el estado de identidad actual.
func (c *Coordinator) Status() Status {
	c.stMu.RLock()
	defer c.stMu.RUnlock()
	return c.status
}

func (c *Coordinator) setStatus(s Status) Status {
	c.stMu.Lock()
	defer c.stMu.Unlock()
	prev := c.status
	c.status = s
	return prev
}

func (c *Coordinator) log(ctx context.Context, op string) *zap.Logger {
	return logger.From(ctx).With(logger.Layer("identity"), logger.Component("coordinator"), logger.Op(op))
}

// Login guarda la credencial y migra el carrito guest.
//
// Orden: peek del guest id, persistir la credencial (si falla no hay login),
// invalidar lo que esté en vuelo y recargar vía conversión. Un fallo de conversión
// no revierte el login; queda en Transition.Warning.
func (c *Coordinator) Login(ctx context.Context, cred identity.Credential) (Transition, error) {
	if strings.TrimSpace(cred.Token) == "" {
		return Transition{}, ErrEmptyCredential
	}
	cred = cred.WithClaims()
	log := c.log(ctx, "Login").With(logger.UserID(cred.UserID))

	c.mu.Lock()
	defer c.mu.Unlock()

	guestID, hasGuest, err := c.d.Sessions.Peek(ctx)
	if err != nil {
		// sin guest id legible no hay nada que convertir; el login sigue
		log.Warn("guest session unreadable, skipping conversion", logger.Err(err))
		hasGuest = false
	}

	if err := c.d.Credentials.Set(ctx, cred); err != nil {
		log.Error("persist credential failed", logger.Err(err))
		return Transition{}, fmt.Errorf("coordinator: login: %w", err)
	}
	from := c.setStatus(Authenticated)
	metrics.IdentityTransitions.WithLabelValues(Authenticated.String(), "login").Inc()
	c.d.Machine.IdentityChanged()

	tr := Transition{From: from, To: Authenticated}
	if !hasGuest {
		st, err := c.d.Machine.Refresh(ctx)
		tr.Cart = st
		tr.To = c.Status()
		if err != nil {
			return tr, err
		}
		log.Info("logged in without guest session")
		return tr, nil
	}

	st, err := c.d.Machine.LoadWith(ctx, "ConvertGuestToUser", func(ctx context.Context, id identity.Identity) (cart.Result[cart.Snapshot], error) {
		return c.d.Converter.ConvertGuestToUser(ctx, id, guestID)
	})
	tr.Cart = st
	switch {
	case cart.IsAuth(err):
		// la credencial nueva fue rechazada; HandleAuthRejected ya deslogueó
		tr.To = c.Status()
		return tr, err
	case err == nil:
		tr.Converted = true
		log.Info("guest cart merged", logger.SessionID(guestID), logger.Int("items", len(st.Cart.Items)))
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return tr, err
	default:
		metrics.MergeFailures.Inc()
		tr.Warning = mergeWarning(err)
		log.Warn("guest cart merge failed", logger.SessionID(guestID), logger.Err(err))
	}
	return tr, nil
}

func mergeWarning(err error) string {
	var be *cart.BusinessError
	if errors.As(err, &be) && be.Kind == cart.KindConversionNotApplicable {
		return "your guest cart could not be merged: " + be.Error()
	}
	if cart.IsTransport(err) {
		return "your guest cart could not be merged right now; showing your saved cart"
	}
	return "your guest cart could not be merged: " + err.Error()
}

// LoginWithPassword pide el token al backend y hace Login.
func (c *Coordinator) LoginWithPassword(ctx context.Context, email, password string) (Transition, error) {
	if c.d.Auth == nil {
		return Transition{}, ErrNoAuthClient
	}
	cred, err := c.d.Auth.Login(ctx, email, password)
	if err != nil {
		return Transition{}, err
	}
	return c.Login(ctx, cred)
}

// Logout vacía el carrito en el acto, borra la credencial y avisa al backend.
// El guest id anterior se reusa.
func (c *Coordinator) Logout(ctx context.Context) (Transition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.signOut(ctx, "logout", true)
}

// HandleAuthRejected es el camino de credencial rechazada: igual que Logout pero sin
// llamar al backend con un token que ya no sirve.
// No toma el lock de transición: la machine lo invoca también en medio de un Login.
func (c *Coordinator) HandleAuthRejected(ctx context.Context) {
	if _, err := c.signOut(ctx, "auth_rejected", false); err != nil {
		c.log(ctx, "HandleAuthRejected").Error("clear credential failed", logger.Err(err))
	}
}

func (c *Coordinator) signOut(ctx context.Context, cause string, remote bool) (Transition, error) {
	log := c.log(ctx, "Logout").With(logger.String("cause", cause))
	cred, hadCred := c.d.Credentials.Get(ctx)

	c.d.Machine.Reset()
	clearErr := c.d.Credentials.Clear(ctx)
	from := c.setStatus(Anonymous)
	// Un intent que entró entre el primer Reset y Clear todavía resolvió User:
	// el segundo Reset lo descarta o borra lo que haya dejado.
	st := c.d.Machine.Reset()
	metrics.IdentityTransitions.WithLabelValues(Anonymous.String(), cause).Inc()
	tr := Transition{From: from, To: Anonymous, Cart: st}
	if clearErr != nil {
		log.Error("clear credential failed", logger.Err(clearErr))
		return tr, fmt.Errorf("coordinator: logout: %w", clearErr)
	}

	if remote && hadCred && c.d.Auth != nil {
		if err := c.d.Auth.Logout(ctx, cred); err != nil {
			log.Warn("remote logout failed", logger.Err(err))
		}
	}
	log.Info("signed out")
	return tr, nil
}

// Refresh rota el token. Un rechazo del backend dispara el camino de auth rechazada.
func (c *Coordinator) Refresh(ctx context.Context) error {
	if c.d.Auth == nil {
		return ErrNoAuthClient
	}
	cred, ok := c.d.Credentials.Get(ctx)
	if !ok {
		return ErrNotLoggedIn
	}
	next, err := c.d.Auth.Refresh(ctx, cred)
	if cart.IsAuth(err) {
		c.HandleAuthRejected(ctx)
		return err
	}
	if err != nil {
		return err
	}
	if next.UserID == "" {
		next.UserID = cred.UserID
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.d.Credentials.Get(ctx); !ok || cur.Token != cred.Token {
		// hubo logout o login en el medio
		return nil
	}
	if err := c.d.Credentials.Set(ctx, next); err != nil {
		return fmt.Errorf("coordinator: refresh: %w", err)
	}
	c.log(ctx, "Refresh").Debug("credential rotated", logger.UserID(next.UserID))
	return nil
}

// OnIdentityChange recibe la identidad nueva desde la UI: User ⇒ Login, Guest ⇒ Logout.
// El session id de un Guest se ignora; el provider sigue siendo el dueño del id.
func (c *Coordinator) OnIdentityChange(ctx context.Context, id identity.Identity) (Transition, error) {
	if id.IsUser() {
		if err := id.Validate(); err != nil {
			return Transition{}, err
		}
		return c.Login(ctx, identity.Credential{Token: id.Token, UserID: id.UserID})
	}
	if c.Status() == Anonymous {
		return Transition{From: Anonymous, To: Anonymous}, nil
	}
	return c.Logout(ctx)
}
