package logger

import (
	"context"

	"go.uber.org/zap"
)

type scopedKey struct{}

// ToContext guarda l en ctx. La app lo usa para que gateway, state machine y
// coordinator logueen con el campo "identity" del intent en curso.
func ToContext(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, scopedKey{}, l)
}

// From devuelve el logger guardado con ToContext, o L() si no hay ninguno.
func From(ctx context.Context) *zap.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(scopedKey{}).(*zap.Logger); ok && l != nil {
			return l
		}
	}
	return L()
}
