// Package guest genera y persiste el session id del carrito anónimo.
package guest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/dropDatabas3/cartsync/internal/kv"
	"github.com/dropDatabas3/cartsync/internal/observability/logger"
	"github.com/google/uuid"
)

// StorageKey es la key del kv donde vive el guest session id.
const StorageKey = "guest.session_id"

// Prefix distingue un session id de un token en logs y en el backend.
const Prefix = "g_"

// Provider entrega un session id estable. Una vez persistido no se regenera nunca:
// regenerarlo dejaría huérfano el carrito guest del backend.
type Provider struct {
	kv  kv.Store
	gen func() (string, error)

	mu  sync.Mutex
	sid string
}

// NewProvider crea el provider sobre el storage persistente.
func NewProvider(s kv.Store) *Provider {
	return &Provider{kv: s, gen: newSessionID}
}

// newSessionID: UUIDv7 = timestamp en ms + bits aleatorios.
func newSessionID() (string, error) {
	u, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return Prefix + u.String(), nil
}

// SessionID devuelve el id persistido o crea uno nuevo y lo persiste antes de devolverlo.
// Un error de lectura del storage se devuelve tal cual: crear un id nuevo ahí podría
// pisar uno existente.
func (p *Provider) SessionID(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sid != "" {
		return p.sid, nil
	}

	sid, found, err := p.read(ctx)
	if err != nil {
		return "", err
	}
	if found {
		p.sid = sid
		return sid, nil
	}

	sid, err = p.gen()
	if err != nil {
		return "", fmt.Errorf("guest: generate session id: %w", err)
	}
	if err := p.kv.Set(ctx, StorageKey, sid); err != nil {
		return "", fmt.Errorf("guest: persist session id: %w", err)
	}
	p.sid = sid

	logger.From(ctx).Debug("guest session created",
		logger.Component("guest.provider"),
		logger.SessionID(sid),
	)
	return sid, nil
}

// Peek devuelve el id si ya existe, sin crearlo.
func (p *Provider) Peek(ctx context.Context) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sid != "" {
		return p.sid, true, nil
	}
	sid, found, err := p.read(ctx)
	if err != nil || !found {
		return "", false, err
	}
	p.sid = sid
	return sid, true, nil
}

func (p *Provider) read(ctx context.Context) (string, bool, error) {
	v, err := p.kv.Get(ctx, StorageKey)
	switch {
	case kv.IsNotFound(err):
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("guest: read session id: %w", err)
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return "", false, nil
	}
	return v, true, nil
}
