package cluster

import "go.uber.org/fx"

// NewClusterModule provides Config from "eventbus.cluster", a Sharder and a ShardResolver.
func NewClusterModule() fx.Option {
	return fx.Module("cluster",
		fx.Provide(
			newConfig,
			NewSharder,
			NewStaticResolver,
		),
	)
}
