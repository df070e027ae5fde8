package notifier

import (
	"context"
	"fmt"
	"log/slog"
)

// Kind names a Notifier implementation. New constructs KindRedis, KindAPI
// and KindSignal; it rejects KindComposite, which is built with NewComposite.
type Kind string

const (
	KindRedis     Kind = "redis"
	KindAPI       Kind = "api"
	KindSignal    Kind = "signal"
	KindComposite Kind = "composite"
)

// FactoryConfig is the union of configuration needed to build any Kind; only
// the field matching Type need be populated.
type FactoryConfig struct {
	Type   Kind
	Role   Role
	Redis  RedisConfig
	API    APIConfig
	Signal SignalConfig
}

// New builds a Notifier for cfg.Type, grounded on myunla's NotifierFactory.
func New(ctx context.Context, cfg FactoryConfig, logger *slog.Logger) (Notifier, error) {
	switch cfg.Type {
	case KindRedis:
		cfg.Redis.Role = cfg.Role
		return NewRedisNotifier(ctx, cfg.Redis, logger)
	case KindAPI:
		cfg.API.Role = cfg.Role
		return NewAPINotifier(cfg.API, logger)
	case KindSignal:
		cfg.Signal.Role = cfg.Role
		return NewSignalNotifier(cfg.Signal)
	default:
		return nil, &Error{Message: fmt.Sprintf("unsupported notifier type: %s", cfg.Type)}
	}
}
