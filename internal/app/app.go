// Package app holds process-wide state shared by the relay binaries.
package app

import (
	"time"

	"github.com/rs/zerolog"

	"speech-relay-service/internal/config"
	"speech-relay-service/internal/observability/logging"
)

// Application holds process-wide state for a relay binary.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Config
	Role        string
}

// New initializes the global logger from cfg and returns the application.
// role names the binary ("server", "client", ...).
func New(cfg *config.Config, role string) *Application {
	logging.Init(logging.Config{
		Level:   cfg.Observability.LogLevel,
		Format:  cfg.Observability.LogFormat,
		Service: cfg.Service.Name,
	})

	a := &Application{
		Cfg:  cfg,
		Role: role,
		Logger: logging.WithComponent("application").With().
			Str("role", role).
			Logger(),
	}
	a.Logger.Info().
		Str("logLevel", zerolog.GlobalLevel().String()).
		Str("environment", cfg.Service.Env).
		Msg("Logger setup completed")
	return a
}

// Start records the startup time.
func (a *Application) Start() error {
	a.StartupTime = time.Now().UTC()
	a.Logger.Info().
		Str("method", "Start").
		Time("startupTime", a.StartupTime).
		Msg("Speech relay starting")
	return nil
}

// Uptime is the time since Start.
func (a *Application) Uptime() time.Duration {
	if a.StartupTime.IsZero() {
		return 0
	}
	return time.Since(a.StartupTime)
}

// Shutdown logs the process exit.
func (a *Application) Shutdown() {
	a.Logger.Info().
		Str("method", "Shutdown").
		Dur("uptime", a.Uptime()).
		Msg("Speech relay shutting down")
}
