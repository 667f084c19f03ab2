package logger

import (
	"sync/atomic"

	"go.uber.org/zap"
)

var global atomic.Pointer[zap.Logger]

// Init instala el logger del proceso. Solo la primera llamada gana; cartctl y el
// devserver la hacen una vez al arrancar, después de leer la config.
func Init(cfg Config) {
	l := build(cfg)
	if !global.CompareAndSwap(nil, l) {
		_ = l.Sync()
	}
}

// Replace pisa el logger del proceso, haya Init o no (tests con zaptest/observer).
func Replace(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	global.Store(l)
}

// L es el logger del proceso. Sin Init previo arranca uno dev/info.
func L() *zap.Logger {
	if l := global.Load(); l != nil {
		return l
	}
	Init(Config{Env: "dev", Level: "info"})
	return global.Load()
}

// Sync vacía el buffer del logger del proceso. Se llama al salir de cada comando.
func Sync() error {
	if l := global.Load(); l != nil {
		return l.Sync()
	}
	return nil
}
