// Package cartstate es la cart state machine del lado UI: proyección del último carrito
// bueno del servidor más flags de loading/error.
//
// Reglas:
//   - Una sola interacción con el gateway a la vez (queue o reject).
//   - Después de cada mutación exitosa hay un Read de reconciliación; el payload de la
//     mutación nunca se usa como estado.
//   - Cada operación queda etiquetada con la generación e identidad con la que salió;
//     si cambian mientras está en vuelo el resultado se descarta.
//   - Reset (logout) vacía el carrito en el acto, sin esperar la red.
package cartstate

import (
	"github.com/dropDatabas3/cartsync/internal/cart"
)

// Status del carrito.
type Status int

const (
	Idle Status = iota
	Loading
	Error
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// State es lo que ve la UI. Loading y Error siempre llevan el último carrito bueno.
type State struct {
	Status Status
	Cart   cart.Snapshot
	// Err es el mensaje del último fallo; se limpia con el próximo Read exitoso.
	Err string
	// ErrKind es vacío para errores de transporte.
	ErrKind cart.ErrorKind
	// Warning es un aviso no fatal (ej: no se pudo mergear el carrito guest).
	Warning string
	// Owner es la key de la identidad dueña de Cart ("" = todavía no cargado).
	Owner string
	// Version sube en cada transición aplicada.
	Version uint64
}

func (s State) clone() State {
	s.Cart = s.Cart.Clone()
	return s
}

func emptyState() State {
	return State{Status: Idle, Cart: cart.EmptySnapshot()}
}
