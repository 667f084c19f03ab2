// Package gateway habla con los recursos REST del carrito y de auth.
//
// Cada operación recibe la identidad resuelta por el caller para esa llamada:
// Guest se direcciona por /guest-cart/{sessionId} sin Authorization,
// User por /cart con Authorization: Bearer. Nunca ambos en un mismo request.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dropDatabas3/cartsync/internal/cart"
	"github.com/dropDatabas3/cartsync/internal/metrics"
	"github.com/dropDatabas3/cartsync/internal/observability/logger"
)

// maxBody limita lo que se lee de una respuesta.
const maxBody = 1 << 20

// Config configura el transporte HTTP.
type Config struct {
	BaseURL string
	// HTTPClient opcional; si es nil se crea uno con Timeout.
	HTTPClient *http.Client
	Timeout    time.Duration
	// ReadRetries reintenta Read ante errores de transporte. Las mutaciones nunca se reintentan.
	ReadRetries  int
	RetryBackoff time.Duration
	UserAgent    string
}

type client struct {
	base      string
	http      *http.Client
	userAgent string
}

func newClient(cfg Config) client {
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "cartsync"
	}
	return client{base: strings.TrimRight(cfg.BaseURL, "/"), http: hc, userAgent: ua}
}

// envelope es la forma común de todas las respuestas.
// Success es puntero: su ausencia es ambigua y se trata como fallo.
type envelope struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Message string `json:"message"`
}

// reply es una respuesta ya clasificada: o fallo de negocio, o data cruda.
type reply struct {
	status int
	ok     bool
	kind   cart.ErrorKind
	code   string
	msg    string
	data   json.RawMessage
}

// do ejecuta un request y clasifica la respuesta.
// Errores Go: *cart.TransportError o *cart.AuthError. Fallos de negocio: reply.ok=false.
func (c client) do(ctx context.Context, op, method, path, bearer string, body any) (reply, error) {
	start := time.Now()
	rep, err := c.roundTrip(ctx, op, method, path, bearer, body)
	metrics.GatewayLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	metrics.GatewayRequests.WithLabelValues(op, outcome(rep, err)).Inc()

	log := logger.From(ctx)
	if err != nil {
		log.Debug("backend call failed", logger.Op(op), logger.Method(method), logger.Path(path),
			logger.Duration(time.Since(start)), logger.Err(err))
	} else {
		log.Debug("backend call", logger.Op(op), logger.Method(method), logger.Path(path),
			logger.Status(rep.status), logger.Duration(time.Since(start)))
	}
	return rep, err
}

func (c client) roundTrip(ctx context.Context, op, method, path, bearer string, body any) (reply, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return reply{}, &cart.TransportError{Op: op, Err: fmt.Errorf("encode request: %w", err)}
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return reply{}, &cart.TransportError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return reply{}, &cart.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return reply{}, &cart.TransportError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return reply{status: resp.StatusCode}, &cart.AuthError{Op: op, Status: resp.StatusCode}
	case resp.StatusCode >= 500:
		return reply{status: resp.StatusCode}, &cart.TransportError{Op: op, Status: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return reply{status: resp.StatusCode}, &cart.TransportError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("malformed response: %w", err)}
	}

	rep := reply{status: resp.StatusCode, data: env.Data}
	switch {
	case env.Success == nil:
		// fail closed: sin "success" explícito no hay éxito
		rep.kind = cart.KindAmbiguousResponse
		rep.msg = "response without success flag"
	case !*env.Success:
		if env.Error != nil {
			rep.code = env.Error.Code
			rep.msg = env.Error.Message
		}
		if rep.msg == "" {
			rep.msg = env.Message
		}
		rep.kind = cart.KindFromCode(rep.code)
	case resp.StatusCode >= 300:
		rep.kind = cart.KindAmbiguousResponse
		rep.msg = fmt.Sprintf("success flag with status %d", resp.StatusCode)
	default:
		rep.ok = true
	}
	return rep, nil
}

func outcome(rep reply, err error) string {
	switch {
	case cart.IsAuth(err):
		return "auth"
	case err != nil:
		return "transport"
	case !rep.ok:
		return "business"
	default:
		return "ok"
	}
}

// decodeData decodifica data de una respuesta exitosa. Una forma inválida es error de transporte.
func decodeData(op string, rep reply, v any) error {
	if len(rep.data) == 0 || string(rep.data) == "null" {
		return nil
	}
	if err := json.Unmarshal(rep.data, v); err != nil {
		return &cart.TransportError{Op: op, Status: rep.status, Err: fmt.Errorf("malformed data: %w", err)}
	}
	return nil
}
