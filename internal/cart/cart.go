// Package cart define el modelo del carrito tal como lo ve el cliente: snapshot canónico,
// resultado uniforme de operaciones, taxonomía de errores y la política de merge guest→user.
package cart

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Item es una línea del carrito. Referencia un variant (SKU), no el producto.
type Item struct {
	ID        string `json:"id"`
	VariantID string `json:"variantId"`
	Quantity  int    `json:"quantity"`
	// PriceAtAdd en unidades menores (centavos), capturado al agregar.
	PriceAtAdd int64     `json:"priceAtAdd"`
	AddedAt    time.Time `json:"addedAt"`
}

// Summary son los totales calculados por el backend.
type Summary struct {
	ItemCount int   `json:"itemCount"`
	Subtotal  int64 `json:"subtotal"`
}

// Snapshot es una lectura completa y autoritativa de un carrito.
// Items respeta el orden del backend.
type Snapshot struct {
	CartID  string  `json:"cartId,omitempty"`
	Items   []Item  `json:"items"`
	Summary Summary `json:"summary"`
}

// EmptySnapshot es el carrito de una identidad que todavía no tiene carrito.
func EmptySnapshot() Snapshot {
	return Snapshot{Items: []Item{}}
}

// IsEmpty reporta si el snapshot no tiene líneas.
func (s Snapshot) IsEmpty() bool { return len(s.Items) == 0 }

// Clone devuelve una copia que no comparte el slice de items.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Items = append([]Item(nil), s.Items...)
	if out.Items == nil {
		out.Items = []Item{}
	}
	return out
}

// Find devuelve la línea con ese itemID.
func (s Snapshot) Find(itemID string) (Item, bool) {
	for _, it := range s.Items {
		if it.ID == itemID {
			return it, true
		}
	}
	return Item{}, false
}

// FindVariant devuelve la línea de ese variant.
func (s Snapshot) FindVariant(variantID string) (Item, bool) {
	for _, it := range s.Items {
		if it.VariantID == variantID {
			return it, true
		}
	}
	return Item{}, false
}

var ErrMalformedSnapshot = errors.New("cart: malformed snapshot")

// Validate chequea la forma del snapshot en el borde del gateway.
// Un snapshot inválido es un error de transporte, nunca un carrito vacío.
func (s Snapshot) Validate() error {
	seen := make(map[string]struct{}, len(s.Items))
	for i, it := range s.Items {
		switch {
		case strings.TrimSpace(it.ID) == "":
			return fmt.Errorf("%w: item %d without id", ErrMalformedSnapshot, i)
		case strings.TrimSpace(it.VariantID) == "":
			return fmt.Errorf("%w: item %s without variantId", ErrMalformedSnapshot, it.ID)
		case it.Quantity < 1:
			return fmt.Errorf("%w: item %s quantity %d", ErrMalformedSnapshot, it.ID, it.Quantity)
		case it.PriceAtAdd < 0:
			return fmt.Errorf("%w: item %s negative price", ErrMalformedSnapshot, it.ID)
		}
		if _, dup := seen[it.ID]; dup {
			return fmt.Errorf("%w: duplicated item %s", ErrMalformedSnapshot, it.ID)
		}
		seen[it.ID] = struct{}{}
	}
	if s.Summary.ItemCount < 0 || s.Summary.Subtotal < 0 {
		return fmt.Errorf("%w: negative totals", ErrMalformedSnapshot)
	}
	return nil
}

// Totals recalcula los totales desde las líneas. Lo usa el backend de referencia;
// el cliente nunca reemplaza los totales del servidor con este cálculo.
func Totals(items []Item) Summary {
	var s Summary
	for _, it := range items {
		s.ItemCount += it.Quantity
		s.Subtotal += int64(it.Quantity) * it.PriceAtAdd
	}
	return s
}
