package devserver

import (
	"net/http"
	"strings"

	"github.com/dropDatabas3/cartsync/internal/cart"
	"github.com/go-chi/chi/v5"
)

func chiParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

// doc devuelve el carrito del owner; con create=true lo crea si no existe. Llamar con s.mu tomado.
func (s *Server) doc(o owner, create bool) *cartDoc {
	m := s.guestCarts
	if o.user {
		m = s.userCarts
	}
	d := m[o.id]
	if d == nil && create {
		d = newCartDoc()
		m[o.id] = d
	}
	return d
}

func findItem(items []cart.Item, itemID string) int {
	for i, it := range items {
		if it.ID == itemID {
			return i
		}
	}
	return -1
}

func findVariant(items []cart.Item, variantID string) int {
	for i, it := range items {
		if it.VariantID == variantID {
			return i
		}
	}
	return -1
}

type itemRef struct {
	Item struct {
		ID string `json:"id"`
	} `json:"item"`
}

func ackItem(id string) itemRef {
	var ref itemRef
	ref.Item.ID = id
	return ref
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.popFault(w, RouteRead) {
		return
	}
	d := s.doc(ownerFrom(r.Context()), false)
	if d == nil {
		writeFail(w, http.StatusNotFound, "cart_not_found", "no cart for this owner")
		return
	}
	writeCart(w, d)
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	var in struct {
		VariantID string `json:"variantId"`
		Quantity  int    `json:"quantity"`
	}
	if !readJSON(w, r, &in) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.popFault(w, RouteAdd) {
		return
	}

	v, ok := s.variants[strings.TrimSpace(in.VariantID)]
	switch {
	case !ok:
		writeFail(w, http.StatusNotFound, "variant_not_found", "variant not found")
		return
	case !v.Active:
		writeFail(w, http.StatusConflict, "variant_inactive", "variant is not available")
		return
	case in.Quantity < 1:
		writeFail(w, http.StatusBadRequest, "invalid_quantity", "quantity must be at least 1")
		return
	}

	d := s.doc(ownerFrom(r.Context()), false)
	current := 0
	idx := -1
	if d != nil {
		if idx = findVariant(d.items, v.ID); idx >= 0 {
			current = d.items[idx].Quantity
		}
	}
	if current+in.Quantity > v.Stock {
		writeFail(w, http.StatusConflict, "insufficient_stock", "not enough stock")
		return
	}

	if d == nil {
		d = s.doc(ownerFrom(r.Context()), true)
	}
	if idx >= 0 {
		d.items[idx].Quantity += in.Quantity
		writeOK(w, http.StatusOK, ackItem(d.items[idx].ID))
		return
	}
	it := cart.Item{
		ID:         newItemID(),
		VariantID:  v.ID,
		Quantity:   in.Quantity,
		PriceAtAdd: v.Price,
		AddedAt:    s.now().UTC(),
	}
	d.items = append(d.items, it)
	writeOK(w, http.StatusCreated, ackItem(it.ID))
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Quantity int `json:"quantity"`
	}
	if !readJSON(w, r, &in) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.popFault(w, RouteUpdate) {
		return
	}

	itemID := chiParam(r, "itemId")
	d := s.doc(ownerFrom(r.Context()), false)
	idx := -1
	if d != nil {
		idx = findItem(d.items, itemID)
	}
	if idx < 0 {
		writeFail(w, http.StatusNotFound, "item_not_found", "item not found")
		return
	}
	if in.Quantity <= 0 {
		d.items = append(d.items[:idx], d.items[idx+1:]...)
		writeOK(w, http.StatusOK, ackItem(itemID))
		return
	}
	if stock, ok := s.stockOf(d.items[idx].VariantID); ok && in.Quantity > stock {
		writeFail(w, http.StatusConflict, "insufficient_stock", "not enough stock")
		return
	}
	d.items[idx].Quantity = in.Quantity
	writeOK(w, http.StatusOK, ackItem(itemID))
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.popFault(w, RouteRemove) {
		return
	}

	itemID := chiParam(r, "itemId")
	d := s.doc(ownerFrom(r.Context()), false)
	idx := -1
	if d != nil {
		idx = findItem(d.items, itemID)
	}
	if idx < 0 {
		writeFail(w, http.StatusNotFound, "item_not_found", "item not found")
		return
	}
	d.items = append(d.items[:idx], d.items[idx+1:]...)
	writeOK(w, http.StatusOK, ackItem(itemID))
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.popFault(w, RouteClear) {
		return
	}
	if d := s.doc(ownerFrom(r.Context()), false); d != nil {
		d.items = []cart.Item{}
	}
	writeOK(w, http.StatusOK, map[string]any{})
}

// handleConvert mergea el carrito guest en el del usuario y borra el guest.
// Una segunda conversión del mismo session id ve un guest vacío y no suma nada.
func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	var in struct {
		SessionID string `json:"sessionId"`
	}
	if !readJSON(w, r, &in) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.popFault(w, RouteConvert) {
		return
	}

	sid := strings.TrimSpace(in.SessionID)
	if sid == "" {
		writeFail(w, http.StatusBadRequest, "conversion_not_applicable", "missing guest session id")
		return
	}

	o := ownerFrom(r.Context())
	guest := s.guestCarts[sid]
	if guest == nil || len(guest.items) == 0 {
		delete(s.guestCarts, sid)
		if d := s.doc(o, false); d != nil {
			writeCart(w, d)
			return
		}
		writeOK(w, http.StatusOK, cartResponse{Cart: nil})
		return
	}

	d := s.doc(o, true)
	owned := make(map[string]bool, len(d.items))
	for _, it := range d.items {
		owned[it.ID] = true
	}
	merged := cart.Merge(guest.items, d.items, s.stockOf)
	for i := range merged {
		if !owned[merged[i].ID] {
			merged[i].ID = newItemID()
		}
	}
	d.items = merged
	delete(s.guestCarts, sid)
	writeCart(w, d)
}
