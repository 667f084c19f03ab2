package cart

import (
	"errors"
	"fmt"
)

// TransportError: sin conectividad, timeout, 5xx o respuesta malformada.
type TransportError struct {
	Op     string
	Status int // 0 si no hubo respuesta HTTP
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("cart transport %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("cart transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// AuthError: el backend rechazó la credencial. Es el único error que cambia la identidad.
type AuthError struct {
	Op     string
	Status int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("cart auth %s: credential rejected (status %d)", e.Op, e.Status)
}

// IsTransport reporta si err es (o envuelve) un TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsAuth reporta si err es (o envuelve) un AuthError.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// BusinessError es un Result fallido convertido a error, para callers que necesitan
// reportarlo (ej: warning de merge). Nunca sale del gateway como error.
type BusinessError struct {
	Kind    ErrorKind
	Message string
}

func (e *BusinessError) Error() string {
	if e.Message == "" || e.Message == string(e.Kind) {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}
