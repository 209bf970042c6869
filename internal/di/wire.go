//go:build wireinject
// +build wireinject

package di

import (
	"SigRelay/pkg/config"
	"SigRelay/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire generates the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvidePostgres,
		ProvideRedis,
		ProvideKafkaProducer,

		// Stores and sinks
		ProvideSignalStore,
		ProvideRecipientStore,
		ProvideAuditSink,

		// Delivery pipeline
		ProvideChannel,
		ProvideAntiSpamChain,
		ProvideDeliveryEngine,
		ProvideDispatcher,

		// Periphery
		ProvideFeedHub,
		ProvideKafkaConsumer,
		ProvideQueue,
		ProvideBeat,
		ProvideAPIHandler,

		ProvideApp,
	)
	return &server.App{}, nil
}
