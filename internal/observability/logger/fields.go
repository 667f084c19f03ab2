package logger

import (
	"time"

	"go.uber.org/zap"
)

// Campos del access log del devserver (middleware withLogging).

func Method(v string) zap.Field { return zap.String("method", v) }
func Path(v string) zap.Field { return zap.String("path", v) }
func Status(v int) zap.Field { return zap.Int("status", v) }
func RequestID(v string) zap.Field { return zap.String("request_id", v) }
func Bytes(v int) zap.Field { return zap.Int("bytes", v) }
func Duration(v time.Duration) zap.Field { return zap.Duration("duration", v) }

// Identity es la key del dueño del carrito: "guest:<sid>" o "user:<id>".
// El bearer token nunca se loguea; la key no lo contiene.
func Identity(key string) zap.Field {
	return zap.String("identity", key)
}

// UserID del usuario autenticado (login, refresh, merge).
func UserID(v string) zap.Field {
	return zap.String("user_id", v)
}

// SessionID es el guest session id enmascarado con Mask: alcanza para
// correlacionar un merge sin dejar el id completo en los logs.
func SessionID(v string) zap.Field {
	return zap.String("session_id", Mask(v))
}

// VariantID de la línea que se agrega.
func VariantID(v string) zap.Field {
	return zap.String("variant_id", v)
}

// Generation de la state machine al momento de descartar o aplicar un resultado.
func Generation(v uint64) zap.Field {
	return zap.Uint64("generation", v)
}

// Component, Layer y Op ubican la línea: layer "gateway"/"state"/"identity",
// component el paquete, op la operación del carrito (AddItem, Login, ...).
func Component(v string) zap.Field { return zap.String("component", v) }
func Layer(v string) zap.Field { return zap.String("layer", v) }
func Op(v string) zap.Field { return zap.String("op", v) }

func Err(err error) zap.Field { return zap.Error(err) }
func Any(key string, v any) zap.Field { return zap.Any(key, v) }
func String(key, v string) zap.Field { return zap.String(key, v) }
func Int(key string, v int) zap.Field { return zap.Int(key, v) }

// Mask deja los 4 primeros y 4 últimos caracteres; ids cortos quedan en "***".
func Mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "…" + s[len(s)-4:]
}
