package cart

// StockFunc devuelve el techo de stock de un variant. ok=false: desconocido, sin tope.
type StockFunc func(variantID string) (ceiling int, ok bool)

// Merge combina el carrito guest dentro del carrito user.
//
// Orden determinístico: primero las líneas del user en su orden, después las líneas
// guest-only en el orden del guest. Mismo variant en ambos: cantidades sumadas con tope
// de stock; PriceAtAdd/AddedAt de la entrada agregada más recientemente (empate: user).
// Una línea que queda en cero por stock se descarta. Los IDs de línea del user se
// conservan; las líneas guest-only mantienen su ID y el backend puede reasignarlo.
func Merge(guest, user []Item, stock StockFunc) []Item {
	if stock == nil {
		stock = func(string) (int, bool) { return 0, false }
	}
	capQty := func(variantID string, qty int) int {
		if ceiling, ok := stock(variantID); ok && qty > ceiling {
			return ceiling
		}
		return qty
	}

	guestByVariant := make(map[string]Item, len(guest))
	guestOrder := make([]string, 0, len(guest))
	for _, g := range guest {
		if prev, ok := guestByVariant[g.VariantID]; ok {
			// el backend no debería tener duplicados; si los hay se suman
			g.Quantity += prev.Quantity
			if prev.AddedAt.After(g.AddedAt) {
				g.PriceAtAdd, g.AddedAt, g.ID = prev.PriceAtAdd, prev.AddedAt, prev.ID
			}
		} else {
			guestOrder = append(guestOrder, g.VariantID)
		}
		guestByVariant[g.VariantID] = g
	}

	out := make([]Item, 0, len(user)+len(guest))
	consumed := make(map[string]bool, len(guest))
	for _, u := range user {
		line := u
		if g, ok := guestByVariant[u.VariantID]; ok && !consumed[u.VariantID] {
			consumed[u.VariantID] = true
			line.Quantity = u.Quantity + g.Quantity
			if g.AddedAt.After(u.AddedAt) {
				line.PriceAtAdd = g.PriceAtAdd
				line.AddedAt = g.AddedAt
			}
		}
		line.Quantity = capQty(line.VariantID, line.Quantity)
		if line.Quantity > 0 {
			out = append(out, line)
		}
	}
	for _, v := range guestOrder {
		if consumed[v] {
			continue
		}
		line := guestByVariant[v]
		line.Quantity = capQty(v, line.Quantity)
		if line.Quantity > 0 {
			out = append(out, line)
		}
	}
	return out
}
