package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dropDatabas3/cartsync/internal/cart"
	"github.com/dropDatabas3/cartsync/internal/identity"
	"github.com/dropDatabas3/cartsync/internal/observability/logger"
)

// CartGateway es la interfaz uniforme al recurso remoto del carrito.
type CartGateway struct {
	c            client
	readRetries  int
	retryBackoff time.Duration
}

// NewCartGateway crea el gateway.
func NewCartGateway(cfg Config) *CartGateway {
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	return &CartGateway{
		c:            newClient(cfg),
		readRetries:  cfg.ReadRetries,
		retryBackoff: backoff,
	}
}

type cartPayload struct {
	// Cart queda crudo: "cart": null es carrito vacío, la clave ausente es una respuesta rota.
	Cart    json.RawMessage `json:"cart"`
	Summary *cart.Summary   `json:"summary"`
}

type cartBody struct {
	ID    string      `json:"id"`
	Items []cart.Item `json:"items"`
}

type addItemRequest struct {
	VariantID string `json:"variantId"`
	Quantity  int    `json:"quantity"`
}

type updateItemRequest struct {
	Quantity int `json:"quantity"`
}

type convertRequest struct {
	SessionID string `json:"sessionId"`
}

type mutationPayload struct {
	Item *struct {
		ID string `json:"id"`
	} `json:"item"`
}

// route arma el path y el bearer según la identidad. Es el único lugar que decide el direccionamiento.
func route(id identity.Identity, suffix string) (path, bearer string, err error) {
	if err := id.Validate(); err != nil {
		return "", "", err
	}
	if id.IsGuest() {
		return "/guest-cart/" + url.PathEscape(id.SessionID) + suffix, "", nil
	}
	return "/cart" + suffix, id.Token, nil
}

func itemSuffix(itemID string) string {
	return "/items/" + url.PathEscape(itemID)
}

// Read trae el carrito canónico. Sin carrito para la identidad: snapshot vacío, no error.
func (g *CartGateway) Read(ctx context.Context, id identity.Identity) (cart.Result[cart.Snapshot], error) {
	const op = "Read"
	path, bearer, err := route(id, "")
	if err != nil {
		return cart.Result[cart.Snapshot]{}, err
	}

	var rep reply
	for attempt := 0; ; attempt++ {
		rep, err = g.c.do(ctx, op, http.MethodGet, path, bearer, nil)
		if err == nil || !cart.IsTransport(err) || attempt >= g.readRetries || ctx.Err() != nil {
			break
		}
		logger.From(ctx).Debug("retrying read", logger.Op(op), logger.Int("attempt", attempt+1), logger.Err(err))
		select {
		case <-ctx.Done():
			return cart.Result[cart.Snapshot]{}, &cart.TransportError{Op: op, Err: ctx.Err()}
		case <-time.After(g.retryBackoff * time.Duration(attempt+1)):
		}
	}
	if err != nil {
		return cart.Result[cart.Snapshot]{}, err
	}
	if !rep.ok {
		if rep.code == "cart_not_found" {
			return cart.Ok(cart.EmptySnapshot()), nil
		}
		return cart.Fail[cart.Snapshot](rep.kind, rep.msg), nil
	}
	snap, err := decodeSnapshot(op, rep)
	if err != nil {
		return cart.Result[cart.Snapshot]{}, err
	}
	return cart.Ok(snap), nil
}

func decodeSnapshot(op string, rep reply) (cart.Snapshot, error) {
	var p cartPayload
	if err := decodeData(op, rep, &p); err != nil {
		return cart.Snapshot{}, err
	}
	if len(rep.data) == 0 || string(rep.data) == "null" {
		return cart.Snapshot{}, &cart.TransportError{Op: op, Status: rep.status, Err: fmt.Errorf("%w: missing data", cart.ErrMalformedSnapshot)}
	}
	if len(p.Cart) == 0 {
		return cart.Snapshot{}, &cart.TransportError{Op: op, Status: rep.status, Err: fmt.Errorf("%w: missing cart", cart.ErrMalformedSnapshot)}
	}
	if string(p.Cart) == "null" {
		return cart.EmptySnapshot(), nil
	}
	var body cartBody
	if err := json.Unmarshal(p.Cart, &body); err != nil {
		return cart.Snapshot{}, &cart.TransportError{Op: op, Status: rep.status, Err: fmt.Errorf("%w: %v", cart.ErrMalformedSnapshot, err)}
	}
	if p.Summary == nil {
		return cart.Snapshot{}, &cart.TransportError{Op: op, Status: rep.status, Err: fmt.Errorf("%w: missing summary", cart.ErrMalformedSnapshot)}
	}
	snap := cart.Snapshot{CartID: body.ID, Items: body.Items, Summary: *p.Summary}
	if snap.Items == nil {
		snap.Items = []cart.Item{}
	}
	if err := snap.Validate(); err != nil {
		return cart.Snapshot{}, &cart.TransportError{Op: op, Status: rep.status, Err: err}
	}
	return snap, nil
}

func (g *CartGateway) mutate(ctx context.Context, op, method string, id identity.Identity, suffix string, body any) (cart.Result[cart.Ack], error) {
	path, bearer, err := route(id, suffix)
	if err != nil {
		return cart.Result[cart.Ack]{}, err
	}
	rep, err := g.c.do(ctx, op, method, path, bearer, body)
	if err != nil {
		return cart.Result[cart.Ack]{}, err
	}
	if !rep.ok {
		return cart.Fail[cart.Ack](rep.kind, rep.msg), nil
	}
	var p mutationPayload
	if err := decodeData(op, rep, &p); err != nil {
		return cart.Result[cart.Ack]{}, err
	}
	ack := cart.Ack{}
	if p.Item != nil {
		ack.ItemID = p.Item.ID
	}
	return cart.Ok(ack), nil
}

// AddItem agrega un variant. No valida stock localmente: el backend decide.
func (g *CartGateway) AddItem(ctx context.Context, id identity.Identity, variantID string, quantity int) (cart.Result[cart.Ack], error) {
	if quantity < 1 {
		return cart.Fail[cart.Ack](cart.KindInvalidQuantity, "quantity must be at least 1"), nil
	}
	if strings.TrimSpace(variantID) == "" {
		return cart.Fail[cart.Ack](cart.KindNotFound, "variant id required"), nil
	}
	return g.mutate(ctx, "AddItem", http.MethodPost, id, "/items", addItemRequest{VariantID: variantID, Quantity: quantity})
}

// UpdateItemQuantity cambia la cantidad de una línea. quantity <= 0 es un remove.
func (g *CartGateway) UpdateItemQuantity(ctx context.Context, id identity.Identity, itemID string, quantity int) (cart.Result[cart.Ack], error) {
	if quantity <= 0 {
		return g.RemoveItem(ctx, id, itemID)
	}
	return g.mutate(ctx, "UpdateItemQuantity", http.MethodPatch, id, itemSuffix(itemID), updateItemRequest{Quantity: quantity})
}

// RemoveItem borra una línea.
func (g *CartGateway) RemoveItem(ctx context.Context, id identity.Identity, itemID string) (cart.Result[cart.Ack], error) {
	return g.mutate(ctx, "RemoveItem", http.MethodDelete, id, itemSuffix(itemID), nil)
}

// Clear vacía el carrito.
func (g *CartGateway) Clear(ctx context.Context, id identity.Identity) (cart.Result[cart.Ack], error) {
	return g.mutate(ctx, "Clear", http.MethodDelete, id, "", nil)
}

// ConvertGuestToUser mergea el carrito guest dentro del carrito del usuario y devuelve
// el snapshot mergeado. Solo válido con identidad User.
func (g *CartGateway) ConvertGuestToUser(ctx context.Context, id identity.Identity, guestSessionID string) (cart.Result[cart.Snapshot], error) {
	const op = "ConvertGuestToUser"
	if !id.IsUser() {
		return cart.Fail[cart.Snapshot](cart.KindConversionNotApplicable, "conversion requires an authenticated identity"), nil
	}
	if strings.TrimSpace(guestSessionID) == "" {
		return cart.Fail[cart.Snapshot](cart.KindConversionNotApplicable, "no guest session to convert"), nil
	}
	path, bearer, err := route(id, "/convert")
	if err != nil {
		return cart.Result[cart.Snapshot]{}, err
	}
	rep, err := g.c.do(ctx, op, http.MethodPost, path, bearer, convertRequest{SessionID: guestSessionID})
	if err != nil {
		return cart.Result[cart.Snapshot]{}, err
	}
	if !rep.ok {
		return cart.Fail[cart.Snapshot](rep.kind, rep.msg), nil
	}
	snap, err := decodeSnapshot(op, rep)
	if err != nil {
		return cart.Result[cart.Snapshot]{}, err
	}
	return cart.Ok(snap), nil
}
