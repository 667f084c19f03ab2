package devserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rawEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *errorBody      `json:"error"`
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s, err := New(Options{
		Variants: []Variant{
			{ID: "A", Price: 100, Stock: 10, Active: true},
			{ID: "B", Price: 50, Stock: 10, Active: true},
			{ID: "OFF", Price: 1, Stock: 10, Active: false},
		},
		Users: []UserSeed{{ID: "u1", Email: "ana@example.com", Password: "pw"}},
	})
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func call(t *testing.T, ts *httptest.Server, method, path, token string, body any) (int, rawEnvelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var env rawEnvelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func login(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	status, env := call(t, ts, http.MethodPost, "/auth/login", "", map[string]string{"email": "ANA@example.com ", "password": "pw"})
	require.Equal(t, http.StatusOK, status)
	var out tokenResponse
	require.NoError(t, json.Unmarshal(env.Data, &out))
	require.Equal(t, "u1", out.UserID)
	return out.Token
}

func TestLogin_RejectsBadPassword(t *testing.T) {
	_, ts := newTestServer(t)
	status, env := call(t, ts, http.MethodPost, "/auth/login", "", map[string]string{"email": "ana@example.com", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.False(t, env.Success)
}

func TestGuestCart_AddAndRead(t *testing.T) {
	s, ts := newTestServer(t)

	status, env := call(t, ts, http.MethodGet, "/guest-cart/g1", "", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "cart_not_found", env.Error.Code)

	status, _ = call(t, ts, http.MethodPost, "/guest-cart/g1/items", "", map[string]any{"variantId": "A", "quantity": 2})
	assert.Equal(t, http.StatusCreated, status)
	status, _ = call(t, ts, http.MethodPost, "/guest-cart/g1/items", "", map[string]any{"variantId": "A", "quantity": 1})
	assert.Equal(t, http.StatusOK, status)

	snap := s.GuestCart("g1")
	require.Len(t, snap.Items, 1)
	assert.Equal(t, 3, snap.Items[0].Quantity)
	assert.EqualValues(t, 300, snap.Summary.Subtotal)
}

func TestGuestCart_BusinessFailures(t *testing.T) {
	_, ts := newTestServer(t)

	_, env := call(t, ts, http.MethodPost, "/guest-cart/g1/items", "", map[string]any{"variantId": "A", "quantity": 11})
	assert.Equal(t, "insufficient_stock", env.Error.Code)

	_, env = call(t, ts, http.MethodPost, "/guest-cart/g1/items", "", map[string]any{"variantId": "OFF", "quantity": 1})
	assert.Equal(t, "variant_inactive", env.Error.Code)

	_, env = call(t, ts, http.MethodPost, "/guest-cart/g1/items", "", map[string]any{"variantId": "nope", "quantity": 1})
	assert.Equal(t, "variant_not_found", env.Error.Code)

	_, env = call(t, ts, http.MethodDelete, "/guest-cart/g1/items/missing", "", nil)
	assert.Equal(t, "item_not_found", env.Error.Code)
}

func TestGuestRoutes_RejectCredentials(t *testing.T) {
	_, ts := newTestServer(t)
	status, env := call(t, ts, http.MethodGet, "/guest-cart/g1", "some-token", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "mixed_identity", env.Error.Code)
}

func TestUserCart_RequiresValidToken(t *testing.T) {
	_, ts := newTestServer(t)
	status, _ := call(t, ts, http.MethodGet, "/cart", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	status, _ = call(t, ts, http.MethodGet, "/cart", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestLogout_RevokesToken(t *testing.T) {
	_, ts := newTestServer(t)
	tok := login(t, ts)

	status, _ := call(t, ts, http.MethodPost, "/auth/logout", tok, nil)
	require.Equal(t, http.StatusOK, status)
	status, _ = call(t, ts, http.MethodGet, "/cart", tok, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestRefresh_RotatesToken(t *testing.T) {
	_, ts := newTestServer(t)
	tok := login(t, ts)

	status, env := call(t, ts, http.MethodPost, "/auth/refresh", tok, nil)
	require.Equal(t, http.StatusOK, status)
	var out tokenResponse
	require.NoError(t, json.Unmarshal(env.Data, &out))

	status, _ = call(t, ts, http.MethodGet, "/cart", tok, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	status, _ = call(t, ts, http.MethodGet, "/cart", out.Token, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestExpiredToken(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s, err := New(Options{
		Users:    []UserSeed{{ID: "u1", Email: "ana@example.com", Password: "pw"}},
		TokenTTL: time.Minute,
		Now:      func() time.Time { return now },
	})
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	tok := login(t, ts)
	now = now.Add(2 * time.Minute)
	status, _ := call(t, ts, http.MethodGet, "/cart", tok, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestConvert_MergesOnceAndEmptiesGuest(t *testing.T) {
	s, ts := newTestServer(t)
	tok := login(t, ts)

	call(t, ts, http.MethodPost, "/guest-cart/g1/items", "", map[string]any{"variantId": "A", "quantity": 2})
	call(t, ts, http.MethodPost, "/cart/items", tok, map[string]any{"variantId": "A", "quantity": 1})
	call(t, ts, http.MethodPost, "/cart/items", tok, map[string]any{"variantId": "B", "quantity": 3})

	status, _ := call(t, ts, http.MethodPost, "/cart/convert", tok, map[string]string{"sessionId": "g1"})
	require.Equal(t, http.StatusOK, status)

	snap := s.UserCart("u1")
	got := map[string]int{}
	for _, it := range snap.Items {
		got[it.VariantID] = it.Quantity
	}
	assert.Equal(t, map[string]int{"A": 3, "B": 3}, got)
	assert.True(t, s.GuestCart("g1").IsEmpty())

	// segunda conversión: no duplica
	status, _ = call(t, ts, http.MethodPost, "/cart/convert", tok, map[string]string{"sessionId": "g1"})
	require.Equal(t, http.StatusOK, status)
	again := s.UserCart("u1")
	assert.Equal(t, snap.Summary, again.Summary)
}

func TestConvert_CapsAtStock(t *testing.T) {
	s, ts := newTestServer(t)
	s.SetVariant(Variant{ID: "A", Price: 100, Stock: 2, Active: true})
	tok := login(t, ts)

	call(t, ts, http.MethodPost, "/guest-cart/g1/items", "", map[string]any{"variantId": "A", "quantity": 2})
	call(t, ts, http.MethodPost, "/cart/items", tok, map[string]any{"variantId": "A", "quantity": 1})
	call(t, ts, http.MethodPost, "/cart/convert", tok, map[string]string{"sessionId": "g1"})

	snap := s.UserCart("u1")
	require.Len(t, snap.Items, 1)
	assert.Equal(t, 2, snap.Items[0].Quantity)
}

func TestInjectFault(t *testing.T) {
	s, ts := newTestServer(t)
	s.InjectFault(RouteRead, Fault{Status: http.StatusOK, Body: `{"data":{}}`})

	status, env := call(t, ts, http.MethodGet, "/guest-cart/g1", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.False(t, env.Success)

	// consumida: la siguiente vuelve al comportamiento normal
	status, _ = call(t, ts, http.MethodGet, "/guest-cart/g1", "", nil)
	assert.Equal(t, http.StatusNotFound, status)
}
