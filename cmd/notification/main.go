// 通知サービスのエントリポイント。
// SSEでユーザーへ通知をリアルタイム配信し、再接続時には取りこぼした通知を再送する。
// 接続の無いユーザーにはFCMでプッシュ通知を送る。
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/MyPicDay/piku-back-sub000/internal/config"
	"github.com/MyPicDay/piku-back-sub000/internal/notification"
	"github.com/MyPicDay/piku-back-sub000/internal/notification/dispatch"
	"github.com/MyPicDay/piku-back-sub000/internal/notification/ingest"
	"github.com/MyPicDay/piku-back-sub000/internal/notification/push"
	"github.com/MyPicDay/piku-back-sub000/internal/notification/realtime"
	"github.com/MyPicDay/piku-back-sub000/internal/notification/store"
	"github.com/MyPicDay/piku-back-sub000/pkg/httpclient"
	"github.com/MyPicDay/piku-back-sub000/pkg/logging"
	"github.com/MyPicDay/piku-back-sub000/pkg/quota"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "通知サービスの起動に失敗: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	cfg, err := config.Load(os.Getenv("PIKU_CONFIG_FILE"))
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log.Level, logging.Format(cfg.Log.Format))
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.Database.Path, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	// 再送用キャッシュ。Redisがあれば複数インスタンスで共有する
	var (
		cache   realtime.EventCache
		limiter *quota.Limiter
	)
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("Redis URLの解析に失敗: %w", err)
		}
		client := redis.NewClient(opts)
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("Redisへの接続に失敗: %w", err)
		}
		cache = realtime.NewRedisCache(client, cfg.Cache.MaxEvents, cfg.Cache.TTL)
		limiter = quota.New(client, cfg.FCM.DailyTokenLimit)
		logger.Info("Redisの再送キャッシュを使用します")
	} else {
		mem := realtime.NewMemoryCache(cfg.Cache.MaxEvents, cfg.Cache.TTL, logger)
		mem.Start(ctx, cfg.Cache.SweepInterval)
		defer mem.Stop()
		cache = mem
	}

	registry := realtime.NewRegistry()
	sequencer := realtime.NewSequencer()
	subscriber := realtime.NewSubscriber(registry, cache, sequencer, realtime.SubscriberConfig{
		Timeout:   cfg.SSE.Timeout,
		Heartbeat: cfg.SSE.Heartbeat,
		Retry:     cfg.SSE.Retry,
	}, logger)

	var opts []dispatch.Option
	peerOpts := []httpclient.Option{httpclient.WithTimeout(cfg.Peers.Timeout)}
	if cfg.Peers.ServiceToken != "" {
		peerOpts = append(peerOpts, httpclient.WithBearerToken(cfg.Peers.ServiceToken))
	}
	if cfg.Peers.UserServiceURL != "" {
		opts = append(opts, dispatch.WithReceiverLookup(
			dispatch.NewHTTPReceiverLookup(httpclient.New(cfg.Peers.UserServiceURL, peerOpts...))))
	}
	if cfg.Peers.EventStoreURL != "" {
		opts = append(opts, dispatch.WithPublisher(
			dispatch.NewEventStorePublisher(httpclient.New(cfg.Peers.EventStoreURL, peerOpts...))))
	}

	if cfg.FCM.Enabled {
		sender, err := push.NewFirebaseSender(ctx, cfg.FCM.CredentialsFile)
		if err != nil {
			return err
		}
		pusher := push.NewService(sender, st, cfg.FCM.RatePerSecond, cfg.FCM.QueueSize, logger)
		pusher.Start(ctx)
		defer pusher.Stop()
		opts = append(opts, dispatch.WithPusher(pusher))
	}

	dispatcher := dispatch.New(st, registry, cache, sequencer, logger, opts...)

	if cfg.RabbitMQ.Enabled {
		consumer, err := ingest.NewConsumer(ingest.Config{
			URL:           cfg.RabbitMQ.URL,
			Exchange:      cfg.RabbitMQ.Exchange,
			Queue:         cfg.RabbitMQ.Queue,
			RoutingKeys:   cfg.RabbitMQ.RoutingKeys,
			PrefetchCount: cfg.RabbitMQ.PrefetchCount,
			Workers:       cfg.RabbitMQ.Workers,
		}, dispatcher, logger)
		if err != nil {
			return err
		}
		if err := consumer.Start(ctx); err != nil {
			return err
		}
		defer consumer.Close()
	}

	deps := notification.Deps{
		Store:      st,
		Registry:   registry,
		Subscriber: subscriber,
		Dispatcher: dispatcher,
		Logger:     logger,
	}
	// nilの*quota.Limiterをインターフェースに入れないようにする
	if limiter != nil {
		deps.Quota = limiter
	}
	server := notification.NewServer(cfg, deps)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("通知サービスを停止します")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("グレースフルシャットダウンに失敗しました", zap.Error(err))
		return err
	}
	return nil
}
