// Package logger provee un logger Zap singleton con scoping por contexto.
//
//   - Singleton: una sola instancia global inicializada con Init().
//   - Context Scoping: cada operación de carrito puede llevar su propio logger "scoped"
//     (identity, op) sin crear un nuevo core.
//   - Environments: "dev" usa consola con colores, "prod" usa JSON, "test" descarta todo.
//
// Inicialización (una vez en main.go):
//
//	logger.Init(logger.Config{Env: cfg.Log.Env, Level: cfg.Log.Level})
//	defer logger.Sync()
//
// En servicios:
//
//	log := logger.From(ctx).With(logger.Component("cart.gateway"), logger.Op("AddItem"))
//	log.Debug("request sent", logger.VariantID(variantID))
package logger
