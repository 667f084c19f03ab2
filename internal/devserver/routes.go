package devserver

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dropDatabas3/cartsync/internal/metrics"
	"github.com/dropDatabas3/cartsync/internal/observability/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Handler arma el router con todas las rutas del backend.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, withLogging, withRecover, withMetrics)

	r.Post("/auth/login", s.handleLogin)
	r.Post("/auth/refresh", s.handleRefresh)
	r.Post("/auth/logout", s.handleLogout)

	r.Group(func(r chi.Router) {
		r.Use(s.requireUser)
		r.Get("/cart", s.handleRead)
		r.Delete("/cart", s.handleClear)
		r.Post("/cart/items", s.handleAdd)
		r.Patch("/cart/items/{itemId}", s.handleUpdate)
		r.Delete("/cart/items/{itemId}", s.handleRemove)
		r.Post("/cart/convert", s.handleConvert)
	})

	r.Group(func(r chi.Router) {
		r.Use(requireGuest)
		r.Get("/guest-cart/{sessionId}", s.handleRead)
		r.Delete("/guest-cart/{sessionId}", s.handleClear)
		r.Post("/guest-cart/{sessionId}/items", s.handleAdd)
		r.Patch("/guest-cart/{sessionId}/items/{itemId}", s.handleUpdate)
		r.Delete("/guest-cart/{sessionId}/items/{itemId}", s.handleRemove)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeFail(w, http.StatusNotFound, "not_found", "route not found")
	})
	return r
}

// withLogging inyecta un logger scoped (request_id, method, path) en el contexto y
// registra cada request al terminar. 5xx en error, 4xx en info, el resto en debug.
func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqLog := logger.L().With(
			logger.RequestID(middleware.GetReqID(r.Context())),
			logger.Method(r.Method),
			logger.Path(r.URL.Path),
		)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(logger.ToContext(r.Context(), reqLog)))

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		fields := []zap.Field{logger.Status(status), logger.Bytes(ww.BytesWritten()), logger.Duration(time.Since(start))}
		switch {
		case status >= 500:
			reqLog.Error("request completed", fields...)
		case status >= 400:
			reqLog.Info("request completed", fields...)
		default:
			reqLog.Debug("request completed", fields...)
		}
	})
}

// withRecover captura panics y devuelve un 500 en lugar de crashear.
func withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.From(r.Context()).Error("panic recovered",
					logger.Op("recover"),
					logger.Path(r.URL.Path),
					logger.Any("panic", rec),
				)
				writeFail(w, http.StatusInternalServerError, "internal", "panic recovered")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// withMetrics cuenta requests por patrón de ruta (no por path, para no explotar cardinalidad).
func withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = r.Method + " " + rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.BackendRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	})
}
