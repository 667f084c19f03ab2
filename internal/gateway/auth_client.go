package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dropDatabas3/cartsync/internal/cart"
	"github.com/dropDatabas3/cartsync/internal/identity"
)

// Errores de auth
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrMissingFields      = errors.New("missing required fields")
)

// AuthClient habla con /auth/*. El formulario de login es externo; esto solo
// intercambia credenciales por un token.
type AuthClient struct {
	c client
}

// NewAuthClient crea el cliente de auth.
func NewAuthClient(cfg Config) *AuthClient {
	return &AuthClient{c: newClient(cfg)}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenPayload struct {
	Token     string    `json:"token"`
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (p tokenPayload) credential(op string, status int) (identity.Credential, error) {
	if strings.TrimSpace(p.Token) == "" {
		return identity.Credential{}, &cart.TransportError{Op: op, Status: status, Err: errors.New("malformed data: empty token")}
	}
	return identity.Credential{Token: p.Token, UserID: p.UserID, ExpiresAt: p.ExpiresAt}.WithClaims(), nil
}

// Login intercambia email/password por una credencial.
func (a *AuthClient) Login(ctx context.Context, email, password string) (identity.Credential, error) {
	const op = "Login"
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return identity.Credential{}, ErrMissingFields
	}
	rep, err := a.c.do(ctx, op, http.MethodPost, "/auth/login", "", loginRequest{Email: email, Password: password})
	if cart.IsAuth(err) {
		return identity.Credential{}, ErrInvalidCredentials
	}
	if err != nil {
		return identity.Credential{}, err
	}
	if !rep.ok {
		return identity.Credential{}, fmt.Errorf("%w: %s", ErrInvalidCredentials, rep.msg)
	}
	var p tokenPayload
	if err := decodeData(op, rep, &p); err != nil {
		return identity.Credential{}, err
	}
	return p.credential(op, rep.status)
}

// Refresh pide un token nuevo para la credencial actual.
// Un rechazo vuelve como *cart.AuthError para que el caller haga logout.
func (a *AuthClient) Refresh(ctx context.Context, cred identity.Credential) (identity.Credential, error) {
	const op = "Refresh"
	rep, err := a.c.do(ctx, op, http.MethodPost, "/auth/refresh", cred.Token, nil)
	if err != nil {
		return identity.Credential{}, err
	}
	if !rep.ok {
		return identity.Credential{}, &cart.AuthError{Op: op, Status: rep.status}
	}
	var p tokenPayload
	if err := decodeData(op, rep, &p); err != nil {
		return identity.Credential{}, err
	}
	return p.credential(op, rep.status)
}

// Logout invalida el token en el backend. Best-effort: el caller ya limpió lo local.
func (a *AuthClient) Logout(ctx context.Context, cred identity.Credential) error {
	_, err := a.c.do(ctx, "Logout", http.MethodPost, "/auth/logout", cred.Token, nil)
	if cart.IsAuth(err) {
		// token ya inválido: nada que cerrar
		return nil
	}
	return err
}
