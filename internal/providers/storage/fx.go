package storage

import (
	"context"
	"time"

	"github.com/smallbiznis/supplyrail/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("providers.storage",
	fx.Provide(NewFromConfig),
)

// NewFromConfig returns the MinIO store when enabled, otherwise an in-memory one.
func NewFromConfig(cfg config.Config, log *zap.Logger) (Store, error) {
	if !cfg.Storage.Enabled {
		log.Info("document storage running in memory")
		return NewMemory(), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	store, err := NewMinio(ctx, MinioConfig{
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		Bucket:    cfg.Storage.Bucket,
		UseSSL:    cfg.Storage.UseSSL,
	})
	if err != nil {
		return nil, err
	}
	log.Info("document storage ready", zap.String("bucket", cfg.Storage.Bucket))
	return store, nil
}
