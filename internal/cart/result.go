package cart

// ErrorKind nombra los fallos de negocio esperados.
type ErrorKind string

const (
	KindInsufficientStock       ErrorKind = "insufficient_stock"
	KindVariantInactive         ErrorKind = "variant_inactive"
	KindNotFound                ErrorKind = "not_found"
	KindConversionNotApplicable ErrorKind = "conversion_not_applicable"
	KindInvalidQuantity         ErrorKind = "invalid_quantity"
	KindAmbiguousResponse       ErrorKind = "ambiguous_response"
	KindRejected                ErrorKind = "rejected"
)

// KindFromCode traduce el code del backend. Códigos desconocidos quedan como rejected.
func KindFromCode(code string) ErrorKind {
	switch code {
	case "insufficient_stock", "out_of_stock":
		return KindInsufficientStock
	case "variant_inactive":
		return KindVariantInactive
	case "not_found", "cart_not_found", "item_not_found", "variant_not_found":
		return KindNotFound
	case "conversion_not_applicable":
		return KindConversionNotApplicable
	case "invalid_quantity":
		return KindInvalidQuantity
	default:
		return KindRejected
	}
}

// Result es el OperationResult uniforme: {ok, data} | {ok:false, kind, message}.
// Los fallos de negocio viajan acá; los de transporte y auth son errores Go.
type Result[T any] struct {
	OK      bool
	Data    T
	Kind    ErrorKind
	Message string
}

// Ok construye un resultado exitoso.
func Ok[T any](data T) Result[T] {
	return Result[T]{OK: true, Data: data}
}

// Fail construye un fallo de negocio.
func Fail[T any](kind ErrorKind, message string) Result[T] {
	if message == "" {
		message = string(kind)
	}
	return Result[T]{Kind: kind, Message: message}
}

// Ack es el payload de una mutación. Es parcial a propósito: no alcanza para
// recomputar totales y nunca se usa como estado.
type Ack struct {
	ItemID string `json:"itemId,omitempty"`
}

// Err devuelve nil si el resultado fue exitoso o un *BusinessError si no.
func (r Result[T]) Err() error {
	if r.OK {
		return nil
	}
	return &BusinessError{Kind: r.Kind, Message: r.Message}
}
