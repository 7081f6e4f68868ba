// Command api-server runs the caremeds marketplace API.
package main

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"

	appkg "github.com/xenking/caremeds/internal/app"
)

func main() {
	app.Run(func(ctx context.Context, lg *zap.Logger, m *app.Telemetry) error {
		cfg, err := appkg.LoadConfig()
		if err != nil {
			return errors.Wrap(err, "config")
		}
		lg.Info("Config loaded",
			zap.String("storage", cfg.Storage.Driver),
			zap.Bool("idempotency", cfg.Redis.URL != ""),
		)
		return appkg.Run(ctx, lg, m, cfg)
	})
}
