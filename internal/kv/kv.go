// Package kv provee el storage persistente clave/valor (strings) del cliente.
//
// Soporta:
//   - File (JSON en disco con escritura atómica, default del CLI)
//   - Memory (in-process, para testing)
//   - Redis (perfil compartido entre dispositivos / integración)
//
// Solo hay dos keys de negocio: la credencial y el guest session id.
package kv

import (
	"context"
	"errors"
	"fmt"
)

// Store define las operaciones del storage persistente.
type Store interface {
	// Get obtiene un valor. Retorna ErrNotFound si no existe.
	Get(ctx context.Context, key string) (string, error)

	// Set guarda un valor sin expiración.
	Set(ctx context.Context, key, value string) error

	// Remove elimina una key. No falla si no existe.
	Remove(ctx context.Context, key string) error

	// Close libera recursos del driver.
	Close() error
}

// Config configuración para crear un Store.
type Config struct {
	Driver string // "file" | "memory" | "redis"
	Path   string // driver file
	Addr   string // driver redis (host:port)
	DB     int
	Prefix string // Prefijo para todas las keys
}

// ErrNotFound se retorna cuando la key no existe.
var ErrNotFound = errors.New("kv: key not found")

// IsNotFound verifica si el error es porque la key no existe.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// New crea un Store según la configuración.
func New(cfg Config) (Store, error) {
	switch cfg.Driver {
	case "redis":
		return NewRedis(cfg)
	case "file":
		if cfg.Path == "" {
			return nil, fmt.Errorf("kv: file driver requires a path")
		}
		return NewFile(cfg.Path, cfg.Prefix)
	case "memory", "":
		return NewMemory(cfg.Prefix), nil
	default:
		return nil, fmt.Errorf("kv: unknown driver %q", cfg.Driver)
	}
}

func prefixed(prefix, k string) string {
	if prefix == "" {
		return k
	}
	return prefix + ":" + k
}
