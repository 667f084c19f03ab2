package coordinator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/dropDatabas3/cartsync/internal/cart"
	"github.com/dropDatabas3/cartsync/internal/cartstate"
	"github.com/dropDatabas3/cartsync/internal/credential"
	"github.com/dropDatabas3/cartsync/internal/devserver"
	"github.com/dropDatabas3/cartsync/internal/devserver/devservertest"
	"github.com/dropDatabas3/cartsync/internal/gateway"
	"github.com/dropDatabas3/cartsync/internal/guest"
	"github.com/dropDatabas3/cartsync/internal/identity"
	"github.com/dropDatabas3/cartsync/internal/kv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingKV hace fallar Set cuando failSet está prendido.
type failingKV struct {
	kv.Store
	failSet atomic.Bool
}

func (f *failingKV) Set(ctx context.Context, key, value string) error {
	if f.failSet.Load() {
		return errors.New("disk full")
	}
	return f.Store.Set(ctx, key, value)
}

type harness struct {
	srv      *devserver.Server
	store    *failingKV
	creds    *credential.Store
	sessions *guest.Provider
	gw       *gateway.CartGateway
	auth     *gateway.AuthClient
	machine  *cartstate.Machine
	coord    *Coordinator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	srv, ts := devservertest.Start(t)
	h := &harness{srv: srv, store: &failingKV{Store: kv.NewMemory("")}}
	h.wire(t, ts.URL)
	return h
}

// wire arma todo sobre el mismo kv, como un proceso nuevo.
func (h *harness) wire(t *testing.T, baseURL string) {
	t.Helper()
	cfg := gateway.Config{BaseURL: baseURL}
	h.creds = credential.NewStore(h.store)
	h.sessions = guest.NewProvider(h.store)
	h.gw = gateway.NewCartGateway(cfg)
	h.auth = gateway.NewAuthClient(cfg)
	h.machine = cartstate.New(cartstate.Deps{
		Gateway:  h.gw,
		Identity: &identity.Resolver{Credentials: h.creds, Sessions: h.sessions},
	})
	h.coord = New(context.Background(), Deps{
		Credentials: h.creds,
		Sessions:    h.sessions,
		Converter:   h.gw,
		Machine:     h.machine,
		Auth:        h.auth,
	})
	h.machine.SetAuthRejectedHandler(h.coord.HandleAuthRejected)
}

func (h *harness) add(t *testing.T, variantID string, qty int) cartstate.State {
	t.Helper()
	st, err := h.machine.AddItem(context.Background(), variantID, qty)
	require.NoError(t, err)
	require.Equal(t, cartstate.Idle, st.Status, st.Err)
	return st
}

func quantities(s cart.Snapshot) map[string]int {
	out := map[string]int{}
	for _, it := range s.Items {
		out[it.VariantID] = it.Quantity
	}
	return out
}

func TestLogin_MergesGuestCart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.add(t, "tee-black-m", 2)
	sid, ok, err := h.sessions.Peek(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	tr, err := h.coord.LoginWithPassword(ctx, devservertest.Email, devservertest.Password)
	require.NoError(t, err)
	assert.Equal(t, Anonymous, tr.From)
	assert.Equal(t, Authenticated, tr.To)
	assert.True(t, tr.Converted)
	assert.Empty(t, tr.Warning)
	assert.Equal(t, map[string]int{"tee-black-m": 2}, quantities(tr.Cart.Cart))
	assert.Equal(t, "user:"+devservertest.UserID, tr.Cart.Owner)
	assert.Equal(t, Authenticated, h.coord.Status())

	assert.True(t, h.srv.GuestCart(sid).IsEmpty())
	assert.Equal(t, map[string]int{"tee-black-m": 2}, quantities(h.srv.UserCart(devservertest.UserID)))
}

func TestLogin_MergeCapsAtStock(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// carrito previo del usuario
	_, err := h.coord.LoginWithPassword(ctx, devservertest.Email, devservertest.Password)
	require.NoError(t, err)
	h.add(t, "tee-black-l", 1)
	h.add(t, "tee-black-m", 1)
	_, err = h.coord.Logout(ctx)
	require.NoError(t, err)

	h.add(t, "tee-black-l", 2)
	h.add(t, "hoodie-grey-m", 1)

	tr, err := h.coord.LoginWithPassword(ctx, devservertest.Email, devservertest.Password)
	require.NoError(t, err)
	require.Empty(t, tr.Warning)
	assert.Equal(t, map[string]int{"tee-black-l": 2, "tee-black-m": 1, "hoodie-grey-m": 1}, quantities(tr.Cart.Cart))
	// líneas del usuario primero, después las que solo tenía el guest
	require.Len(t, tr.Cart.Cart.Items, 3)
	assert.Equal(t, "tee-black-l", tr.Cart.Cart.Items[0].VariantID)
	assert.Equal(t, "hoodie-grey-m", tr.Cart.Cart.Items[2].VariantID)
}

func TestLogin_ConvertFailureIsWarning(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.add(t, "tee-black-m", 1)
	h.srv.InjectFault(devserver.RouteConvert, devserver.Fault{Status: 500, Body: `{"success":false,"error":{"code":"internal","message":"boom"}}`})

	tr, err := h.coord.LoginWithPassword(ctx, devservertest.Email, devservertest.Password)
	require.NoError(t, err)
	assert.Equal(t, Authenticated, tr.To)
	assert.False(t, tr.Converted)
	assert.NotEmpty(t, tr.Warning)
	assert.Equal(t, cartstate.Idle, tr.Cart.Status)
	assert.True(t, tr.Cart.Cart.IsEmpty(), "falls back to the user's own cart")
	assert.Equal(t, tr.Warning != "", h.machine.State().Warning != "")

	cred, ok := h.creds.Get(ctx)
	require.True(t, ok)
	assert.Equal(t, devservertest.UserID, cred.UserID)
}

func TestLogin_WithoutGuestSessionSkipsConvert(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tr, err := h.coord.LoginWithPassword(ctx, devservertest.Email, devservertest.Password)
	require.NoError(t, err)
	assert.False(t, tr.Converted)
	assert.Empty(t, tr.Warning)
	assert.Equal(t, "user:"+devservertest.UserID, tr.Cart.Owner)

	_, ok, err := h.sessions.Peek(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "login must not mint a guest id")
}

func TestLogin_SecondConvertDoesNotDoubleCount(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.add(t, "tee-black-m", 2)

	_, err := h.coord.LoginWithPassword(ctx, devservertest.Email, devservertest.Password)
	require.NoError(t, err)
	// mismo guest id, segunda vez
	tr, err := h.coord.LoginWithPassword(ctx, devservertest.Email, devservertest.Password)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"tee-black-m": 2}, quantities(tr.Cart.Cart))
}

func TestLogin_PersistFailureAborts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.add(t, "tee-black-m", 1)
	cred, err := h.auth.Login(ctx, devservertest.Email, devservertest.Password)
	require.NoError(t, err)

	h.store.failSet.Store(true)
	_, err = h.coord.Login(ctx, cred)
	require.Error(t, err)
	assert.Equal(t, Anonymous, h.coord.Status())
	_, ok := h.creds.Get(ctx)
	assert.False(t, ok)
	assert.Equal(t, map[string]int{"tee-black-m": 1}, quantities(h.machine.State().Cart))
}

func TestLogin_EmptyCredential(t *testing.T) {
	h := newHarness(t)
	_, err := h.coord.Login(context.Background(), identity.Credential{UserID: "u1"})
	assert.ErrorIs(t, err, ErrEmptyCredential)
}

func TestLogout_ClearsImmediatelyAndReusesGuestID(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.add(t, "tee-black-m", 1)
	sid, _, err := h.sessions.Peek(ctx)
	require.NoError(t, err)

	_, err = h.coord.LoginWithPassword(ctx, devservertest.Email, devservertest.Password)
	require.NoError(t, err)
	h.add(t, "hoodie-grey-m", 1)
	cred, ok := h.creds.Get(ctx)
	require.True(t, ok)

	tr, err := h.coord.Logout(ctx)
	require.NoError(t, err)
	assert.Equal(t, Authenticated, tr.From)
	assert.Equal(t, Anonymous, tr.To)
	assert.True(t, tr.Cart.Cart.IsEmpty())
	assert.True(t, h.machine.State().Cart.IsEmpty())

	_, ok = h.creds.Get(ctx)
	assert.False(t, ok)
	again, err := h.sessions.SessionID(ctx)
	require.NoError(t, err)
	assert.Equal(t, sid, again)

	// el token quedó revocado en el backend
	_, err = h.gw.Read(ctx, cred.Identity())
	assert.True(t, cart.IsAuth(err))

	// la carga lazy es bajo la identidad guest
	st, err := h.machine.EnsureLoaded(ctx)
	require.NoError(t, err)
	assert.Equal(t, "guest:"+sid, st.Owner)
	assert.True(t, st.Cart.IsEmpty())
}

// racyMachine mete un Refresh justo después del Reset, como un intent de la UI
// que llega mientras la credencial todavía está en cache.
type racyMachine struct {
	*cartstate.Machine
	armed    atomic.Bool
	injected cartstate.State
}

func (r *racyMachine) Reset() cartstate.State {
	st := r.Machine.Reset()
	if r.armed.CompareAndSwap(true, false) {
		r.injected, _ = r.Machine.Refresh(context.Background())
	}
	return st
}

func TestLogout_IntentBetweenResetAndClearDoesNotLeakUserCart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.coord.LoginWithPassword(ctx, devservertest.Email, devservertest.Password)
	require.NoError(t, err)
	h.add(t, "tee-black-m", 1)

	racy := &racyMachine{Machine: h.machine}
	coord := New(ctx, Deps{
		Credentials: h.creds,
		Sessions:    h.sessions,
		Converter:   h.gw,
		Machine:     racy,
		Auth:        h.auth,
	})
	racy.armed.Store(true)

	tr, err := coord.Logout(ctx)
	require.NoError(t, err)
	// el intent sí alcanzó a leer el carrito del usuario
	require.Equal(t, "user:"+devservertest.UserID, racy.injected.Owner)

	for _, st := range []cartstate.State{tr.Cart, h.machine.State()} {
		assert.True(t, st.Cart.IsEmpty(), "items=%v", st.Cart.Items)
		assert.NotEqual(t, "user:"+devservertest.UserID, st.Owner)
	}
	assert.Equal(t, Anonymous, coord.Status())
}

func TestAuthRejected_SignsOut(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.coord.LoginWithPassword(ctx, devservertest.Email, devservertest.Password)
	require.NoError(t, err)
	h.add(t, "tee-black-m", 1)

	cred, _ := h.creds.Get(ctx)
	require.NoError(t, h.auth.Logout(ctx, cred)) // revocado por fuera

	st, err := h.machine.Refresh(ctx)
	require.NoError(t, err)
	assert.True(t, st.Cart.IsEmpty())
	assert.Equal(t, cartstate.Idle, st.Status)
	assert.Equal(t, Anonymous, h.coord.Status())
	_, ok := h.creds.Get(ctx)
	assert.False(t, ok)
}

func TestRefresh_RotatesCredential(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.coord.LoginWithPassword(ctx, devservertest.Email, devservertest.Password)
	require.NoError(t, err)
	before, _ := h.creds.Get(ctx)

	require.NoError(t, h.coord.Refresh(ctx))
	after, ok := h.creds.Get(ctx)
	require.True(t, ok)
	assert.NotEqual(t, before.Token, after.Token)
	assert.Equal(t, devservertest.UserID, after.UserID)

	st, err := h.machine.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, cartstate.Idle, st.Status)
}

func TestRefresh_RejectedSignsOut(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.coord.LoginWithPassword(ctx, devservertest.Email, devservertest.Password)
	require.NoError(t, err)
	cred, _ := h.creds.Get(ctx)
	require.NoError(t, h.auth.Logout(ctx, cred))

	err = h.coord.Refresh(ctx)
	assert.True(t, cart.IsAuth(err))
	assert.Equal(t, Anonymous, h.coord.Status())
}

func TestRefresh_NotLoggedIn(t *testing.T) {
	h := newHarness(t)
	assert.ErrorIs(t, h.coord.Refresh(context.Background()), ErrNotLoggedIn)
}

func TestOnIdentityChange(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tr, err := h.coord.OnIdentityChange(ctx, identity.Guest("ignored"))
	require.NoError(t, err)
	assert.Equal(t, Anonymous, tr.To)

	cred, err := h.auth.Login(ctx, devservertest.Email, devservertest.Password)
	require.NoError(t, err)
	tr, err = h.coord.OnIdentityChange(ctx, cred.Identity())
	require.NoError(t, err)
	assert.Equal(t, Authenticated, tr.To)
	assert.Equal(t, "user:"+devservertest.UserID, h.machine.State().Owner)

	tr, err = h.coord.OnIdentityChange(ctx, identity.Identity{Kind: identity.KindGuest})
	require.NoError(t, err)
	assert.Equal(t, Anonymous, tr.To)

	_, err = h.coord.OnIdentityChange(ctx, identity.Identity{Kind: identity.KindUser})
	assert.ErrorIs(t, err, identity.ErrInvalidIdentity)
}

func TestNew_BootstrapsFromStoredCredential(t *testing.T) {
	srv, ts := devservertest.Start(t)
	h := &harness{srv: srv, store: &failingKV{Store: kv.NewMemory("")}}
	h.wire(t, ts.URL)
	ctx := context.Background()
	_, err := h.coord.LoginWithPassword(ctx, devservertest.Email, devservertest.Password)
	require.NoError(t, err)

	// proceso nuevo sobre el mismo storage
	h.wire(t, ts.URL)
	assert.Equal(t, Authenticated, h.coord.Status())
	st, err := h.machine.EnsureLoaded(ctx)
	require.NoError(t, err)
	assert.Equal(t, "user:"+devservertest.UserID, st.Owner)
}
