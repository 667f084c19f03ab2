// Package devservertest levanta el backend de referencia sobre httptest para tests.
package devservertest

import (
	"net/http/httptest"
	"testing"

	"github.com/dropDatabas3/cartsync/internal/devserver"
)

// Demo user sembrado por Start.
const (
	UserID   = "u-demo"
	Email    = "demo@example.com"
	Password = "correct horse battery staple"
)

// Start crea un backend con el catálogo default y un usuario demo.
// El server se cierra con t.Cleanup.
func Start(t testing.TB) (*devserver.Server, *httptest.Server) {
	t.Helper()
	return StartWith(t, devserver.Options{
		Variants: devserver.DefaultCatalog(),
		Users:    []devserver.UserSeed{{ID: UserID, Email: Email, Password: Password}},
	})
}

// StartWith crea un backend con las opciones dadas.
func StartWith(t testing.TB, opts devserver.Options) (*devserver.Server, *httptest.Server) {
	t.Helper()
	srv, err := devserver.New(opts)
	if err != nil {
		t.Fatalf("devserver: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}
