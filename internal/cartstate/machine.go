package cartstate

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dropDatabas3/cartsync/internal/cart"
	"github.com/dropDatabas3/cartsync/internal/identity"
	"github.com/dropDatabas3/cartsync/internal/metrics"
	"github.com/dropDatabas3/cartsync/internal/observability/logger"
	"go.uber.org/zap"
)

// Gateway es lo que la machine usa del cart gateway.
type Gateway interface {
	Read(ctx context.Context, id identity.Identity) (cart.Result[cart.Snapshot], error)
	AddItem(ctx context.Context, id identity.Identity, variantID string, quantity int) (cart.Result[cart.Ack], error)
	UpdateItemQuantity(ctx context.Context, id identity.Identity, itemID string, quantity int) (cart.Result[cart.Ack], error)
	RemoveItem(ctx context.Context, id identity.Identity, itemID string) (cart.Result[cart.Ack], error)
	Clear(ctx context.Context, id identity.Identity) (cart.Result[cart.Ack], error)
}

// IdentitySource resuelve la identidad activa en cada operación.
type IdentitySource interface {
	Current(ctx context.Context) (identity.Identity, error)
}

// Loader es una fuente alternativa de snapshot (ej: conversión guest→user).
type Loader func(ctx context.Context, id identity.Identity) (cart.Result[cart.Snapshot], error)

// BusyPolicy decide qué pasa con un intent mientras otro está en vuelo.
type BusyPolicy int

const (
	// Queue espera detrás del intent en vuelo.
	Queue BusyPolicy = iota
	// Reject devuelve ErrBusy.
	Reject
)

// ErrBusy: hay otro intent en vuelo y la política es Reject.
var ErrBusy = errors.New("cartstate: another cart operation is in flight")

// Deps contiene las dependencias de la machine.
type Deps struct {
	Gateway  Gateway
	Identity IdentitySource
	Policy   BusyPolicy
	// OnAuthRejected se invoca cuando el backend rechaza la credencial (fuera del lock).
	OnAuthRejected func(ctx context.Context)
}

// Machine es la cart state machine.
type Machine struct {
	gw     Gateway
	ids    IdentitySource
	policy BusyPolicy

	// sem serializa las interacciones con el gateway
	sem chan struct{}

	mu             sync.Mutex
	state          State
	gen            uint64
	needsLoad      bool
	onAuthRejected func(ctx context.Context)
	subs           map[int]func(State)
	nextSub        int
}

// New crea la machine en Idle con carrito vacío y pendiente de carga.
func New(d Deps) *Machine {
	return &Machine{
		gw:             d.Gateway,
		ids:            d.Identity,
		policy:         d.Policy,
		sem:            make(chan struct{}, 1),
		state:          emptyState(),
		needsLoad:      true,
		onAuthRejected: d.OnAuthRejected,
		subs:           map[int]func(State){},
	}
}

// SetAuthRejectedHandler conecta el coordinator después de construir ambos.
func (m *Machine) SetAuthRejectedHandler(fn func(ctx context.Context)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onAuthRejected = fn
}

// State devuelve una copia del estado actual. Nunca bloquea por la red.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

// Subscribe registra un listener que recibe cada transición. cancel lo da de baja.
func (m *Machine) Subscribe(fn func(State)) (cancel func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// Reset deja el carrito vacío en Idle de inmediato e invalida todo lo que esté en vuelo.
// No espera al intent en curso: la UI nunca debe ver el carrito de otra identidad.
func (m *Machine) Reset() State {
	m.mu.Lock()
	m.gen++
	m.needsLoad = true
	st := m.setLocked(emptyState())
	subs := m.subscribersLocked()
	m.mu.Unlock()

	notify(subs, st)
	return st
}

// IdentityChanged invalida lo que esté en vuelo sin vaciar el carrito (login: misma persona).
func (m *Machine) IdentityChanged() {
	m.mu.Lock()
	m.gen++
	m.needsLoad = true
	if m.state.Status != Loading {
		m.mu.Unlock()
		return
	}
	next := m.state
	next.Status = Idle
	st := m.setLocked(next)
	subs := m.subscribersLocked()
	m.mu.Unlock()

	notify(subs, st)
}

// Refresh hace un Read y reemplaza el estado con el snapshot.
func (m *Machine) Refresh(ctx context.Context) (State, error) {
	return m.run(ctx, "Refresh", nil)
}

// EnsureLoaded hace Refresh solo si el carrito no se cargó desde el último Reset/cambio de identidad.
func (m *Machine) EnsureLoaded(ctx context.Context) (State, error) {
	m.mu.Lock()
	needs := m.needsLoad
	m.mu.Unlock()
	if !needs {
		return m.State(), nil
	}
	return m.Refresh(ctx)
}

// AddItem agrega un variant y reconcilia.
func (m *Machine) AddItem(ctx context.Context, variantID string, quantity int) (State, error) {
	return m.run(ctx, "AddItem", func(ctx context.Context, id identity.Identity) (cart.Result[cart.Ack], error) {
		return m.gw.AddItem(ctx, id, variantID, quantity)
	})
}

// UpdateQuantity cambia la cantidad de una línea. quantity <= 0 se traduce a RemoveItem.
func (m *Machine) UpdateQuantity(ctx context.Context, itemID string, quantity int) (State, error) {
	if quantity <= 0 {
		return m.RemoveItem(ctx, itemID)
	}
	return m.run(ctx, "UpdateQuantity", func(ctx context.Context, id identity.Identity) (cart.Result[cart.Ack], error) {
		return m.gw.UpdateItemQuantity(ctx, id, itemID, quantity)
	})
}

// RemoveItem borra una línea y reconcilia.
func (m *Machine) RemoveItem(ctx context.Context, itemID string) (State, error) {
	return m.run(ctx, "RemoveItem", func(ctx context.Context, id identity.Identity) (cart.Result[cart.Ack], error) {
		return m.gw.RemoveItem(ctx, id, itemID)
	})
}

// Clear vacía el carrito y reconcilia.
func (m *Machine) Clear(ctx context.Context) (State, error) {
	return m.run(ctx, "Clear", func(ctx context.Context, id identity.Identity) (cart.Result[cart.Ack], error) {
		return m.gw.Clear(ctx, id)
	})
}

// LoadWith carga el estado desde load en lugar de un Read.
// Si load falla (negocio o transporte) el fallo se devuelve como error, el estado no pasa
// a Error y se cae a un Read normal; el fallo queda en State.Warning.
// Un AuthError sigue el camino normal de credencial rechazada.
// Siempre espera turno, aun con política Reject: lo usan las transiciones de identidad.
func (m *Machine) LoadWith(ctx context.Context, op string, load Loader) (State, error) {
	if err := m.acquire(ctx, Queue); err != nil {
		return m.State(), err
	}
	t, id, ok := m.start(ctx, op)
	if !ok {
		m.release()
		return m.finish(ctx, t)
	}

	res, err := load(ctx, id)
	switch {
	case err == nil && res.OK:
		m.applySnapshot(ctx, t, res.Data, "")
		m.release()
		return m.finish(ctx, t)
	case cart.IsAuth(err):
		m.fail(ctx, t, err)
		m.release()
		st, _ := m.finish(ctx, t)
		return st, err
	}

	failure := err
	if failure == nil {
		failure = res.Err()
	}
	t.log.Warn("alternate load failed, falling back to read", logger.Err(failure))
	m.reconcile(ctx, t, id, failure.Error())
	m.release()
	st, _ := m.finish(ctx, t)
	return st, failure
}

// tag identifica una operación en vuelo.
type tag struct {
	op           string
	gen          uint64
	owner        string
	authRejected bool
	log          *zap.Logger
}

// mutation es una llamada mutante al gateway; nil = solo Read.
type mutation func(ctx context.Context, id identity.Identity) (cart.Result[cart.Ack], error)

func (m *Machine) run(ctx context.Context, op string, mutate mutation) (State, error) {
	if err := m.acquire(ctx, m.policy); err != nil {
		return m.State(), err
	}
	t, id, ok := m.start(ctx, op)
	if !ok {
		m.release()
		return m.finish(ctx, t)
	}

	if mutate != nil {
		res, err := mutate(ctx, id)
		switch {
		case err != nil:
			m.fail(ctx, t, err)
		case !res.OK:
			m.failBusiness(ctx, t, res.Kind, res.Message)
		default:
			t.log.Debug("mutation accepted, reconciling")
			m.reconcile(ctx, t, id, "")
		}
	} else {
		m.reconcile(ctx, t, id, "")
	}

	m.release()
	return m.finish(ctx, t)
}

func (m *Machine) acquire(ctx context.Context, policy BusyPolicy) error {
	if policy == Reject {
		select {
		case m.sem <- struct{}{}:
			return nil
		default:
			return ErrBusy
		}
	}
	select {
	case m.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Machine) release() { <-m.sem }

// start pasa a Loading, resuelve la identidad una vez y etiqueta la operación.
func (m *Machine) start(ctx context.Context, op string) (*tag, identity.Identity, bool) {
	m.mu.Lock()
	t := &tag{op: op, gen: m.gen}
	next := m.state
	next.Status = Loading
	next.Warning = ""
	st := m.setLocked(next)
	subs := m.subscribersLocked()
	m.mu.Unlock()
	notify(subs, st)

	t.log = logger.From(ctx).With(
		logger.Layer("state"),
		logger.Component("cart.machine"),
		logger.Op(op),
		logger.Generation(t.gen),
	)

	id, err := m.ids.Current(ctx)
	if err != nil {
		m.fail(ctx, t, err)
		return t, identity.Identity{}, false
	}
	t.owner = id.Key()
	t.log = t.log.With(logger.Identity(t.owner))
	return t, id, true
}

func (m *Machine) reconcile(ctx context.Context, t *tag, id identity.Identity, warning string) {
	res, err := m.gw.Read(ctx, id)
	switch {
	case err != nil:
		m.fail(ctx, t, err)
	case !res.OK:
		m.failBusiness(ctx, t, res.Kind, res.Message)
	default:
		m.applySnapshot(ctx, t, res.Data, warning)
	}
}

// commit aplica next solo si la operación sigue vigente: misma generación y misma
// identidad que cuando salió.
func (m *Machine) commit(ctx context.Context, t *tag, mutate func(*State), clearNeedsLoad bool) bool {
	if t.owner != "" {
		if cur, err := m.ids.Current(ctx); err == nil && cur.Key() != t.owner {
			metrics.StaleResults.Inc()
			t.log.Debug("dropping result for previous identity", logger.String("current_identity", cur.Key()))
			m.invalidate(t)
			return false
		}
	}

	m.mu.Lock()
	if t.gen != m.gen {
		current := m.gen
		m.mu.Unlock()
		metrics.StaleResults.Inc()
		t.log.Debug("dropping stale result", logger.Any("current_generation", current))
		return false
	}
	next := m.state
	mutate(&next)
	if clearNeedsLoad {
		m.needsLoad = false
	}
	st := m.setLocked(next)
	subs := m.subscribersLocked()
	m.mu.Unlock()

	notify(subs, st)
	return true
}

// invalidate: la identidad cambió sin pasar por Reset/IdentityChanged. El carrito
// mostrado es de otra identidad, así que se vacía como en Reset.
func (m *Machine) invalidate(t *tag) {
	m.mu.Lock()
	if t.gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.gen++
	m.needsLoad = true
	st := m.setLocked(emptyState())
	subs := m.subscribersLocked()
	m.mu.Unlock()

	notify(subs, st)
}

func (m *Machine) applySnapshot(ctx context.Context, t *tag, snap cart.Snapshot, warning string) {
	m.commit(ctx, t, func(s *State) {
		s.Status = Idle
		s.Cart = snap.Clone()
		s.Err = ""
		s.ErrKind = ""
		s.Warning = warning
		s.Owner = t.owner
	}, true)
}

func (m *Machine) failBusiness(ctx context.Context, t *tag, kind cart.ErrorKind, msg string) {
	t.log.Info("cart operation rejected", logger.String("kind", string(kind)), logger.String("message", msg))
	m.commit(ctx, t, func(s *State) {
		s.Status = Error
		s.Err = msg
		s.ErrKind = kind
	}, false)
}

// fail convierte errores Go (transporte, auth, identidad) en estado Error.
// Es el único punto donde esos errores se atrapan.
func (m *Machine) fail(ctx context.Context, t *tag, err error) {
	msg := err.Error()
	switch {
	case cart.IsAuth(err):
		t.authRejected = true
		msg = "session expired, please sign in again"
		t.log.Warn("credential rejected by backend", logger.Err(err))
	case cart.IsTransport(err):
		msg = fmt.Sprintf("connection problem: %v", err)
		t.log.Warn("cart transport failure", logger.Err(err))
	default:
		t.log.Error("cart operation failed", logger.Err(err))
	}
	applied := m.commit(ctx, t, func(s *State) {
		s.Status = Error
		s.Err = msg
		s.ErrKind = ""
	}, false)
	if !applied {
		t.authRejected = false
	}
}

// finish corre los efectos que no pueden ejecutarse con el gateway tomado.
func (m *Machine) finish(ctx context.Context, t *tag) (State, error) {
	if t.authRejected {
		m.mu.Lock()
		fn := m.onAuthRejected
		m.mu.Unlock()
		if fn != nil {
			fn(ctx)
		}
	}
	return m.State(), nil
}

// setLocked guarda el estado y cuenta la transición. Llamar con m.mu tomado.
func (m *Machine) setLocked(next State) State {
	next.Version = m.state.Version + 1
	if next.Cart.Items == nil {
		next.Cart.Items = []cart.Item{}
	}
	m.state = next
	metrics.CartTransitions.WithLabelValues(next.Status.String()).Inc()
	return next.clone()
}

func (m *Machine) subscribersLocked() []func(State) {
	if len(m.subs) == 0 {
		return nil
	}
	out := make([]func(State), 0, len(m.subs))
	for _, fn := range m.subs {
		out = append(out, fn)
	}
	return out
}

func notify(subs []func(State), st State) {
	for _, fn := range subs {
		fn(st.clone())
	}
}
