// Package observability provides structured logging for the gacha server and
// an audit trail of engine events.
package observability

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cory-johannsen/gacha/internal/config"
	"github.com/cory-johannsen/gacha/internal/game/event"
)

// NewLogger creates a structured logger from the given logging configuration.
//
// Precondition: cfg.Level must be one of "debug", "info", "warn", "error".
// Precondition: cfg.Format must be "json" or "console".
// Postcondition: Returns a configured zap.Logger or a non-nil error.
func NewLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level %q: %w", cfg.Level, err)
	}

	var zapCfg zap.Config
	switch cfg.Format {
	case "json":
		zapCfg = zap.NewProductionConfig()
	case "console":
		zapCfg = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger, nil
}

// AuditEvents subscribes to bus and writes one Info line per event to the
// "audit" child of logger.
//
// Postcondition: the returned function removes the subscription.
func AuditEvents(bus *event.Bus, logger *zap.Logger) (unsubscribe func()) {
	audit := logger.Named("audit")
	return bus.Subscribe(func(e event.Event) {
		audit.Info(string(e.Kind()), eventFields(e)...)
	})
}

func eventFields(e event.Event) []zap.Field {
	switch ev := e.(type) {
	case event.PullCompleted:
		rarities := make([]string, len(ev.Items))
		for i, it := range ev.Items {
			rarities[i] = it.Template.Rarity.String()
		}
		return []zap.Field{
			zap.String("player", ev.PlayerID),
			zap.String("stream", ev.Stream),
			zap.Int("count", len(ev.Items)),
			zap.Strings("rarities", rarities),
		}
	case event.FusionCompleted:
		return []zap.Field{
			zap.String("player", ev.PlayerID),
			zap.String("source", ev.Source.Key().String()),
			zap.String("result", ev.Result.Key().String()),
			zap.String("outcome", ev.Outcome),
			zap.Int("consumed", ev.Consumed),
		}
	case event.AutoFusionCompleted:
		return []zap.Field{
			zap.String("player", ev.PlayerID),
			zap.String("type", string(ev.Type)),
			zap.Int("attempts", ev.Attempts),
			zap.Int("successes", ev.Successes),
		}
	}
	return nil
}
