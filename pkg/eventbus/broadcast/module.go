package broadcast

import (
	"context"
	"fmt"
	"time"

	"github.com/Sokol111/ecommerce-eventbus/pkg/core/config"
	"github.com/Sokol111/ecommerce-eventbus/pkg/core/health"
	"github.com/Sokol111/ecommerce-eventbus/pkg/core/worker"
	"github.com/Sokol111/ecommerce-eventbus/pkg/eventbus/cluster"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewBroadcastModule provides Config from "eventbus.broadcast", the
// Broadcaster selected by the cluster transport and the outbox Worker.
func NewBroadcastModule() fx.Option {
	return fx.Module("broadcast",
		fx.Provide(
			newConfig,
			provideBroadcaster,
			NewWorker,
			worker.Register[*Worker]("broadcast-worker",
				worker.WithTrafficReady(),
				worker.WithRestart(time.Minute),
			),
		),
		worker.Invoke(),
	)
}

type broadcasterParams struct {
	fx.In
	Lc         fx.Lifecycle
	V          *viper.Viper
	ClusterCfg cluster.Config
	AppCfg     config.AppConfig
	Components health.ComponentManager
	Log        *zap.Logger
}

func provideBroadcaster(p broadcasterParams) (Broadcaster, error) {
	switch p.ClusterCfg.Transport {
	case cluster.TransportKafka:
		return provideKafkaBroadcaster(p)
	default:
		p.Log.Info("broadcast: using local transport")
		return NewLocalBroadcaster(0), nil
	}
}

func provideKafkaBroadcaster(p broadcasterParams) (Broadcaster, error) {
	conf, err := newKafkaConfig(p.V)
	if err != nil {
		return nil, err
	}
	producer, err := NewKafkaProducer(conf)
	if err != nil {
		return nil, err
	}

	groupID := GroupID(conf.GroupPrefix, p.AppCfg.ServiceName, p.AppCfg.NodeID)
	b := newKafkaBroadcaster(conf, groupID, producer, kafkaConsumerFactory(conf), p.Log)

	markReady := p.Components.AddComponent("kafka")
	p.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := waitForBrokers(ctx, producer, conf.ReadinessTimeout, p.Log); err != nil {
				return fmt.Errorf("broadcast: %w", err)
			}
			markReady()
			return nil
		},
		OnStop: func(context.Context) error {
			b.close()
			return nil
		},
	})
	return b, nil
}
