package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger tags the global logger with app and returns it. Call after
// logging.Configure so the writer and level are already in place.
func InitLogger(app string) zerolog.Logger {
	return initLogger(log.Logger, app)
}

func initLogger(base zerolog.Logger, app string) zerolog.Logger {
	logger := base.With().Str("app", app).Logger()
	log.Logger = logger
	return logger
}
