package devserver

import "net/http"

// Fault reemplaza la próxima respuesta de una ruta. Sirve para probar el cliente contra
// 5xx, respuestas sin "success" o JSON roto.
type Fault struct {
	Status int
	Body   string
}

// Route names aceptados por InjectFault.
const (
	RouteRead    = "read"
	RouteAdd     = "add"
	RouteUpdate  = "update"
	RouteRemove  = "remove"
	RouteClear   = "clear"
	RouteConvert = "convert"
	RouteLogin   = "login"
	RouteRefresh = "refresh"
	RouteLogout  = "logout"
)

// InjectFault encola una falla para la ruta dada. Cada falla se consume una vez.
func (s *Server) InjectFault(route string, f Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[route] = append(s.faults[route], f)
}

// popFault escribe la falla pendiente si la hay. Llamar con s.mu tomado.
func (s *Server) popFault(w http.ResponseWriter, route string) bool {
	q := s.faults[route]
	if len(q) == 0 {
		return false
	}
	f := q[0]
	s.faults[route] = q[1:]

	status := f.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(f.Body))
	return true
}
