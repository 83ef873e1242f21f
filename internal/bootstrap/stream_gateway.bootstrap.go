package bootstrap

import (
	"context"
	"errors"

	"github.com/krobus00/quote-stream-service/internal/config"
	"github.com/krobus00/quote-stream-service/internal/constant"
	httpHandler "github.com/krobus00/quote-stream-service/internal/handler/stream/http"
	"github.com/krobus00/quote-stream-service/internal/infrastructure"
	"github.com/krobus00/quote-stream-service/internal/repository"
	"github.com/krobus00/quote-stream-service/internal/service/group"
	"github.com/krobus00/quote-stream-service/internal/service/session"
	"github.com/krobus00/quote-stream-service/internal/util"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func StartStreamGateway(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbConfig := config.Env.Database[constant.DatabaseQuoteStream]

	db, err := infrastructure.NewPostgresConnection(ctx, dbConfig)
	util.ContinueOrFatal(err)
	dbHealth := infrastructure.StartPostgresHealthCheck(ctx, db, dbConfig.PingInterval)

	groupRedis, err := infrastructure.NewRedisClient(ctx, config.Env.Redis[constant.RedisGroup])
	util.ContinueOrFatal(err)

	holdingRepo := repository.NewHoldingRepository(db)
	subscriptionRepo := repository.NewSubscriptionRepository(db)
	groupLayer := group.NewRedisLayer(groupRedis)

	sessionService := session.NewSessionService(subscriptionRepo, holdingRepo, groupLayer, config.Env.Stream.ClientBufferSize)
	authenticator := httpHandler.NewAPIKeyAuthenticator(config.Env.APIKeys)
	streamHandler := httpHandler.NewStreamHTTPHandler(sessionService, authenticator, config.Env.Stream)

	mux := infrastructure.NewHTTPMux(func() error {
		return errors.Join(groupRedis.Ping(ctx).Err(), dbHealth.Err())
	})
	streamHandler.Register(mux)

	httpServer := infrastructure.NewHTTPServerWithConfig(infrastructure.DefaultHTTPServerConfig(), mux)
	go func() {
		if err := httpServer.Start(); err != nil {
			logrus.Fatalf("http server stopped: %v", err)
		}
	}()

	wait := gracefulShutdown(ctx, config.Env.GracefulShutdownTimeout, map[string]operation{
		"stream gateway": func(ctx context.Context) error {
			// hijacked websocket connections are not tracked by Shutdown; closing the
			// group layer stops their updates and the stores go last
			err := httpServer.Shutdown(ctx)
			cancel()

			return errors.Join(
				err,
				groupLayer.Close(),
				groupRedis.Close(),
				db.Close(),
			)
		},
	})

	<-wait
}
