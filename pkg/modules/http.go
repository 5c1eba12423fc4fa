package modules

import (
	"github.com/Sokol111/ecommerce-eventbus/pkg/http/health"
	"github.com/Sokol111/ecommerce-eventbus/pkg/http/server"
	"go.uber.org/fx"
)

// NewHTTPModule provides the health server with /health/ready and /health/live.
func NewHTTPModule() fx.Option {
	return fx.Options(
		server.NewHTTPServerModule(),
		health.NewHealthRoutesModule(),
	)
}
