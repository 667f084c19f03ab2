// Package credential persiste y cachea el bearer token de la identidad User.
package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/dropDatabas3/cartsync/internal/identity"
	"github.com/dropDatabas3/cartsync/internal/kv"
	"github.com/dropDatabas3/cartsync/internal/observability/logger"
	"golang.org/x/sync/singleflight"
)

// StorageKey es la key del kv donde vive la credencial.
const StorageKey = "auth.credential"

// Store es el dueño exclusivo de la credencial.
//
// Get nunca falla: un error de storage se trata como "sin credencial" (fail open a guest).
// Set y Clear sí reportan errores de storage.
type Store struct {
	kv kv.Store

	mu     sync.RWMutex
	cached *identity.Credential // nil = no cargado todavía
	loaded bool                 // true si cached refleja el storage (incluye "ausente")
	epoch  uint64               // sube en cada Set/Clear

	sf singleflight.Group
}

// NewStore crea el store. Se construye una vez por proceso.
func NewStore(s kv.Store) *Store {
	return &Store{kv: s}
}

// Get devuelve la credencial cacheada o la lee del storage.
func (s *Store) Get(ctx context.Context) (identity.Credential, bool) {
	s.mu.RLock()
	if s.loaded {
		c := s.cached
		s.mu.RUnlock()
		if c == nil {
			return identity.Credential{}, false
		}
		return *c, true
	}
	epoch := s.epoch
	s.mu.RUnlock()

	v, _, _ := s.sf.Do("load", func() (any, error) {
		return s.load(ctx), nil
	})
	c, _ := v.(*identity.Credential)

	s.mu.Lock()
	// un Set/Clear concurrente gana sobre esta lectura
	switch {
	case s.loaded:
		c = s.cached
	case s.epoch == epoch:
		s.cached = c
		s.loaded = true
	}
	s.mu.Unlock()

	if c == nil {
		return identity.Credential{}, false
	}
	return *c, true
}

func (s *Store) load(ctx context.Context) *identity.Credential {
	log := logger.From(ctx).With(logger.Component("credential.store"), logger.Op("load"))

	raw, err := s.kv.Get(ctx, StorageKey)
	if err != nil {
		if !kv.IsNotFound(err) {
			log.Warn("credential read failed, continuing as guest", logger.Err(err))
		}
		return nil
	}
	var c identity.Credential
	if err := json.Unmarshal([]byte(raw), &c); err != nil || strings.TrimSpace(c.Token) == "" {
		log.Warn("stored credential unreadable, continuing as guest", logger.Err(err))
		return nil
	}
	c = c.WithClaims()
	return &c
}

// Set persiste la credencial y luego actualiza el cache.
// Ningún Get posterior al retorno de Set observa el valor anterior.
func (s *Store) Set(ctx context.Context, c identity.Credential) error {
	if strings.TrimSpace(c.Token) == "" {
		return fmt.Errorf("credential: empty token")
	}
	c = c.WithClaims()
	b, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("credential: encode: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++

	if err := s.kv.Set(ctx, StorageKey, string(b)); err != nil {
		return fmt.Errorf("credential: persist: %w", err)
	}
	s.cached = &c
	s.loaded = true
	return nil
}

// Clear borra storage y cache.
// Si el storage falla el cache igual se descarta y el error se reporta.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++

	s.cached = nil
	s.loaded = true

	if err := s.kv.Remove(ctx, StorageKey); err != nil {
		return fmt.Errorf("credential: remove: %w", err)
	}
	return nil
}
