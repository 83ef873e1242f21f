package bootstrap

import (
	"context"
	"errors"

	"github.com/krobus00/quote-stream-service/internal/config"
	"github.com/krobus00/quote-stream-service/internal/constant"
	"github.com/krobus00/quote-stream-service/internal/entity"
	"github.com/krobus00/quote-stream-service/internal/infrastructure"
	"github.com/krobus00/quote-stream-service/internal/repository"
	"github.com/krobus00/quote-stream-service/internal/service/distribution"
	"github.com/krobus00/quote-stream-service/internal/service/feed"
	"github.com/krobus00/quote-stream-service/internal/service/group"
	"github.com/krobus00/quote-stream-service/internal/service/interest"
	"github.com/krobus00/quote-stream-service/internal/service/liveness"
	"github.com/krobus00/quote-stream-service/internal/util"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func StartFeedNode(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feedConfig := config.Env.Feed
	dbConfig := config.Env.Database[constant.DatabaseQuoteStream]

	db, err := infrastructure.NewPostgresConnection(ctx, dbConfig)
	util.ContinueOrFatal(err)
	dbHealth := infrastructure.StartPostgresHealthCheck(ctx, db, dbConfig.PingInterval)

	feedRedis, err := infrastructure.NewRedisClient(ctx, config.Env.Redis[constant.RedisFeed])
	util.ContinueOrFatal(err)

	groupRedis, err := infrastructure.NewRedisClient(ctx, config.Env.Redis[constant.RedisGroup])
	util.ContinueOrFatal(err)

	var (
		nc      *nats.Conn
		channel distribution.Channel
	)
	if config.Env.Nats.URL != "" {
		nc, err = infrastructure.NewNats(config.Env.Nats)
		util.ContinueOrFatal(err)
		channel = distribution.NewNatsChannel(nc, 0)
	} else {
		logrus.Warn("nats url is empty, using the in-process distribution channel")
		channel = distribution.NewMemoryChannel(0)
	}

	holdingRepo := repository.NewHoldingRepository(db)
	priceCacheRepo := repository.NewPriceCacheRepository(feedRedis)

	interestService := interest.NewInterestService(holdingRepo, feedConfig.SentinelSuffix)
	heartbeatStore := liveness.NewRedisStore(feedRedis, nil)
	upstreamLease := liveness.NewRedisLease(feedRedis, constant.RedisKeyUpstreamLease, feedConfig.LeaseTTL)
	groupLayer := group.NewRedisLayer(groupRedis)

	receiver := feed.NewReceiverService(feed.ReceiverConfig{
		UpstreamURL:       feedConfig.UpstreamURL,
		UpstreamToken:     feedConfig.UpstreamToken,
		ReconnectAttempts: feedConfig.ReconnectAttempts,
		ReconnectDelay:    feedConfig.ReconnectDelay,
		LeaseTTL:          feedConfig.LeaseTTL,
	}, interestService, upstreamLease, heartbeatStore, priceCacheRepo, channel)

	distributor := feed.NewDistributorService(feed.DistributorConfig{
		ReconcileInterval: feedConfig.ReconcileInterval,
	}, channel, interestService, heartbeatStore, groupLayer)

	runner := feed.NewRunner(ctx, feedConfig.TerminateTimeout)
	runner.Register(entity.ComponentFeedReceiver, receiver.Run)
	runner.Register(entity.ComponentFeedDistributor, distributor.Run)

	grpcServer := infrastructure.NewGRPCHealthServer(portAddr(config.Env.Port[constant.PortGRPC]))

	supervisor := feed.NewSupervisorService(feed.SupervisorConfig{
		Interval:           feedConfig.SupervisorInterval,
		StalenessThreshold: feedConfig.StalenessThreshold,
	}, heartbeatStore, runner).WithStatusReporter(grpcServer.Health())

	for _, component := range []entity.ComponentID{entity.ComponentFeedReceiver, entity.ComponentFeedDistributor} {
		_, err := runner.Start(component)
		util.ContinueOrFatal(err)
	}

	supervisorCtx, stopSupervisor := context.WithCancel(ctx)
	supervisorDone := make(chan struct{})
	go func() {
		defer close(supervisorDone)
		if err := supervisor.Run(supervisorCtx); err != nil {
			logrus.Errorf("supervisor stopped: %v", err)
		}
	}()

	httpServer := infrastructure.NewHTTPServerWithConfig(infrastructure.DefaultHTTPServerConfig(), infrastructure.NewHTTPMux(func() error {
		return errors.Join(feedRedis.Ping(ctx).Err(), dbHealth.Err())
	}))
	go func() {
		if err := httpServer.Start(); err != nil {
			logrus.Fatalf("http server stopped: %v", err)
		}
	}()
	go func() {
		if err := grpcServer.Start(); err != nil {
			logrus.Fatalf("grpc server stopped: %v", err)
		}
	}()

	wait := gracefulShutdown(ctx, config.Env.GracefulShutdownTimeout, map[string]operation{
		"http server": func(ctx context.Context) error {
			return httpServer.Shutdown(ctx)
		},
		"grpc server": func(ctx context.Context) error {
			grpcServer.Stop()
			return nil
		},
		"feed components": func(ctx context.Context) error {
			// components release the upstream lease on exit, so stores close last
			stopSupervisor()
			<-supervisorDone

			err := runner.Shutdown(ctx)
			cancel()

			if memoryChannel, ok := channel.(*distribution.MemoryChannel); ok {
				memoryChannel.Close()
			}

			return errors.Join(
				err,
				infrastructure.CloseNats(nc),
				groupLayer.Close(),
				groupRedis.Close(),
				feedRedis.Close(),
				db.Close(),
			)
		},
	})

	<-wait
}
