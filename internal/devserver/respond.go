package devserver

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/dropDatabas3/cartsync/internal/cart"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *errorBody `json:"error,omitempty"`
}

type cartBody struct {
	ID    string      `json:"id"`
	Items []cart.Item `json:"items"`
}

type cartResponse struct {
	Cart    *cartBody    `json:"cart"`
	Summary cart.Summary `json:"summary"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func writeFail(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, envelope{Success: false, Error: &errorBody{Code: code, Message: message}})
}

func writeCart(w http.ResponseWriter, doc *cartDoc) {
	snap := snapshotOf(doc)
	writeOK(w, http.StatusOK, cartResponse{
		Cart:    &cartBody{ID: snap.CartID, Items: snap.Items},
		Summary: snap.Summary,
	})
}

// readJSON decodifica JSON de forma tolerante y limita el body a 1MB.
// Devuelve false si ya escribió error HTTP.
func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := strings.ToLower(r.Header.Get("Content-Type"))
	if !strings.Contains(ct, "application/json") {
		writeFail(w, http.StatusBadRequest, "bad_request", "content-type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && err != io.EOF {
		writeFail(w, http.StatusBadRequest, "bad_request", "invalid json")
		return false
	}
	return true
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
