package devserver

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type ctxKey int

const (
	ownerKey ctxKey = iota
	claimsKey
)

// owner identifica a quién pertenece un carrito: un usuario o una guest session.
type owner struct {
	user bool
	id   string
}

func ownerFrom(ctx context.Context) owner {
	o, _ := ctx.Value(ownerKey).(owner)
	return o
}

type tokenResponse struct {
	Token     string    `json:"token"`
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (s *Server) issueToken(userID string) (tokenResponse, error) {
	now := s.now()
	exp := now.Add(s.tokenTTL)
	tok, err := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, jwtv5.RegisteredClaims{
		Subject:   userID,
		ID:        uuid.NewString(),
		IssuedAt:  jwtv5.NewNumericDate(now),
		ExpiresAt: jwtv5.NewNumericDate(exp),
	}).SignedString(s.secret)
	if err != nil {
		return tokenResponse{}, err
	}
	return tokenResponse{Token: tok, UserID: userID, ExpiresAt: exp.UTC().Truncate(time.Second)}, nil
}

var errTokenRevoked = errors.New("token revoked")

// parseToken valida firma, expiración y revocación. Llamar con s.mu tomado.
func (s *Server) parseToken(raw string) (*jwtv5.RegisteredClaims, error) {
	claims := &jwtv5.RegisteredClaims{}
	_, err := jwtv5.ParseWithClaims(raw, claims, func(t *jwtv5.Token) (any, error) {
		return s.secret, nil
	}, jwtv5.WithValidMethods([]string{jwtv5.SigningMethodHS256.Alg()}), jwtv5.WithTimeFunc(s.now))
	if err != nil {
		return nil, err
	}
	if s.revoked[claims.ID] {
		return nil, errTokenRevoked
	}
	return claims, nil
}

func bearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

// requireUser exige un bearer válido y deja el owner user en el contexto.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearer(r)
		if raw == "" {
			writeFail(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		s.mu.Lock()
		claims, err := s.parseToken(raw)
		s.mu.Unlock()
		if err != nil {
			writeFail(w, http.StatusUnauthorized, "unauthorized", "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), ownerKey, owner{user: true, id: claims.Subject})
		ctx = context.WithValue(ctx, claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireGuest toma el session id del path. Un Authorization en una ruta guest es un error
// del cliente: mezclaría direccionamiento guest y user.
func requireGuest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			writeFail(w, http.StatusBadRequest, "mixed_identity", "guest routes do not accept credentials")
			return
		}
		sid := strings.TrimSpace(chiParam(r, "sessionId"))
		if sid == "" {
			writeFail(w, http.StatusBadRequest, "bad_request", "missing session id")
			return
		}
		ctx := context.WithValue(r.Context(), ownerKey, owner{id: sid})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !readJSON(w, r, &in) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.popFault(w, RouteLogin) {
		return
	}

	u, ok := s.users[normalizeEmail(in.Email)]
	if !ok || bcrypt.CompareHashAndPassword(u.hash, []byte(in.Password)) != nil {
		writeFail(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		return
	}
	out, err := s.issueToken(u.id)
	if err != nil {
		writeFail(w, http.StatusInternalServerError, "internal", "failed to issue token")
		return
	}
	writeOK(w, http.StatusOK, out)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.popFault(w, RouteRefresh) {
		return
	}

	claims, err := s.parseToken(bearer(r))
	if err != nil {
		writeFail(w, http.StatusUnauthorized, "unauthorized", "invalid token")
		return
	}
	out, err := s.issueToken(claims.Subject)
	if err != nil {
		writeFail(w, http.StatusInternalServerError, "internal", "failed to issue token")
		return
	}
	// rotación: el token viejo deja de servir
	s.revoked[claims.ID] = true
	writeOK(w, http.StatusOK, out)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.popFault(w, RouteLogout) {
		return
	}

	claims, err := s.parseToken(bearer(r))
	if err != nil {
		writeFail(w, http.StatusUnauthorized, "unauthorized", "invalid token")
		return
	}
	s.revoked[claims.ID] = true
	writeOK(w, http.StatusOK, map[string]any{})
}
