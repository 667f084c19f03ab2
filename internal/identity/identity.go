// Package identity modela el principal (guest o user) con el que se direcciona el backend.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

// Kind discrimina la identidad activa.
type Kind int

const (
	KindGuest Kind = iota + 1
	KindUser
)

func (k Kind) String() string {
	switch k {
	case KindGuest:
		return "guest"
	case KindUser:
		return "user"
	default:
		return "unknown"
	}
}

// Identity es Guest(sessionID) o User(token, userID). Nunca ambos.
type Identity struct {
	Kind      Kind
	SessionID string
	Token     string
	UserID    string
}

// Guest construye una identidad anónima.
func Guest(sessionID string) Identity {
	return Identity{Kind: KindGuest, SessionID: sessionID}
}

// User construye una identidad autenticada.
func User(token, userID string) Identity {
	return Identity{Kind: KindUser, Token: token, UserID: userID}
}

func (id Identity) IsGuest() bool { return id.Kind == KindGuest }
func (id Identity) IsUser() bool  { return id.Kind == KindUser }

// Key es el tag estable usado para logs y para descartar respuestas viejas.
// No incluye el token.
func (id Identity) Key() string {
	switch id.Kind {
	case KindGuest:
		return "guest:" + id.SessionID
	case KindUser:
		if id.UserID != "" {
			return "user:" + id.UserID
		}
		// sin userID el token es la única forma de distinguir usuarios
		return "user:anon-" + shortHash(id.Token)
	default:
		return ""
	}
}

// Validate garantiza exclusividad: una identidad lleva exactamente una forma de direccionamiento.
func (id Identity) Validate() error {
	switch id.Kind {
	case KindGuest:
		if strings.TrimSpace(id.SessionID) == "" || id.Token != "" {
			return ErrInvalidIdentity
		}
	case KindUser:
		if strings.TrimSpace(id.Token) == "" || id.SessionID != "" {
			return ErrInvalidIdentity
		}
	default:
		return ErrInvalidIdentity
	}
	return nil
}

var ErrInvalidIdentity = errors.New("identity: exactly one of guest session or user token must be set")

// Credential es el bearer token de una identidad User.
type Credential struct {
	Token     string    `json:"token"`
	UserID    string    `json:"userId,omitempty"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}

// Identity devuelve la identidad User que representa la credencial.
func (c Credential) Identity() Identity {
	return User(c.Token, c.UserID)
}

// Expired reporta si la credencial tiene exp conocido y ya pasó.
func (c Credential) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// WithClaims completa UserID/ExpiresAt desde los claims del JWT cuando faltan.
// El cliente no tiene la clave de firma: parse sin verificar, solo para direccionamiento.
// Un token opaco (no JWT) se devuelve tal cual.
func (c Credential) WithClaims() Credential {
	if c.UserID != "" && !c.ExpiresAt.IsZero() {
		return c
	}
	claims := jwtv5.RegisteredClaims{}
	if _, _, err := jwtv5.NewParser().ParseUnverified(c.Token, &claims); err != nil {
		return c
	}
	if c.UserID == "" {
		c.UserID = claims.Subject
	}
	if c.ExpiresAt.IsZero() && claims.ExpiresAt != nil {
		c.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
	return c
}

// CredentialSource es lo que el resolver necesita del credential store.
type CredentialSource interface {
	Get(ctx context.Context) (Credential, bool)
}

// SessionSource es lo que el resolver necesita del guest provider.
type SessionSource interface {
	SessionID(ctx context.Context) (string, error)
}

// Resolver decide la identidad activa en cada llamada. No cachea.
type Resolver struct {
	Credentials CredentialSource
	Sessions    SessionSource
}

// Current: User si hay credencial, si no Guest(sessionID).
func (r *Resolver) Current(ctx context.Context) (Identity, error) {
	if cred, ok := r.Credentials.Get(ctx); ok {
		return cred.Identity(), nil
	}
	sid, err := r.Sessions.SessionID(ctx)
	if err != nil {
		return Identity{}, fmt.Errorf("identity: resolve guest session: %w", err)
	}
	return Guest(sid), nil
}
