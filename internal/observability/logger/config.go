package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config del logger de cartctl y del devserver.
type Config struct {
	// Env: "dev" (consola), "prod" (JSON por línea) o "test"/"nop" (descarta todo).
	// Default: "dev"
	Env string

	// Level mínimo: "debug", "info", "warn", "error". Default: "info"
	Level string

	// ServiceName va como campo "service" en cada línea.
	ServiceName string

	// OutputPaths reemplaza stderr; cartctl lo apunta a un archivo para no ensuciar --out json.
	OutputPaths []string
}

func build(cfg Config) *zap.Logger {
	var zcfg zap.Config
	switch strings.ToLower(strings.TrimSpace(cfg.Env)) {
	case "test", "nop":
		return zap.NewNop()
	case "prod":
		zcfg = zap.NewProductionConfig()
		zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	default:
		zcfg = zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zcfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		zcfg.DisableStacktrace = true
	}
	zcfg.Level = zap.NewAtomicLevelAt(parseLevel(cfg.Level))
	zcfg.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	if len(cfg.OutputPaths) > 0 {
		zcfg.OutputPaths = cfg.OutputPaths
	}

	// sin AddCallerSkip: el caller es quien llama a Info/Warn sobre el *zap.Logger.
	l, err := zcfg.Build(zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		l, _ = zap.NewProduction()
	}
	if cfg.ServiceName != "" {
		l = l.With(zap.String("service", cfg.ServiceName))
	}
	return l
}

func parseLevel(lvl string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
