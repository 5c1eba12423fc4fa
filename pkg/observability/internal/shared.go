package internal

import (
	"context"
	"strconv"

	appconfig "github.com/Sokol111/ecommerce-eventbus/pkg/core/config"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

// NewResource describes this node for exported telemetry.
func NewResource(ctx context.Context, appCfg appconfig.AppConfig) (*resource.Resource, error) {
	return resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(appCfg.ServiceName),
			semconv.ServiceVersionKey.String(appCfg.ServiceVersion),
			semconv.ServiceInstanceIDKey.String(strconv.FormatInt(appCfg.NodeID, 10)),
			semconv.DeploymentEnvironmentNameKey.String(appCfg.Environment),
		),
	)
}
