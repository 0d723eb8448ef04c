package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/jmoiron/sqlx"
	"github.com/k-code-yt/payment-saga/internal/config"
	"github.com/k-code-yt/payment-saga/internal/payment/application"
	"github.com/k-code-yt/payment-saga/internal/payment/domain"
	"github.com/k-code-yt/payment-saga/internal/payment/handlers"
	"github.com/k-code-yt/payment-saga/internal/payment/infra/gateway"
	"github.com/k-code-yt/payment-saga/internal/payment/infra/outbox"
	"github.com/k-code-yt/payment-saga/internal/payment/infra/repo"
	grpcserver "github.com/k-code-yt/payment-saga/internal/payment/transport/grpc"
	httptransport "github.com/k-code-yt/payment-saga/internal/payment/transport/http"
	"github.com/k-code-yt/payment-saga/pkg/db/postgres"
	"github.com/k-code-yt/payment-saga/pkg/idempotency"
	pkgkafka "github.com/k-code-yt/payment-saga/pkg/kafka"
	"github.com/k-code-yt/payment-saga/pkg/logger"
	"github.com/k-code-yt/payment-saga/pkg/metrics"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type storage struct {
	repo    domain.Repository
	outbox  domain.Outbox
	backend idempotency.Backend
	purger  application.Purger
	db      *sqlx.DB
}

func newStorage(ctx context.Context, cfg *config.Config) (*storage, error) {
	if cfg.Store == config.StoreBackend_Memory {
		r := repo.NewMemoryRepo()
		return &storage{
			repo:    r,
			outbox:  r,
			backend: idempotency.NewMemoryStore(ctx),
		}, nil
	}

	db, err := postgres.NewDBConn(cfg.Postgres)
	if err != nil {
		return nil, err
	}
	r := repo.NewPaymentRepo(db)
	store := idempotency.NewPostgresStore(db)
	return &storage{
		repo:    r,
		outbox:  r.Outbox(),
		backend: store,
		purger:  store,
		db:      db,
	}, nil
}

func main() {
	envPath := flag.String("env", "cmd/payment-server/.env", "path to the .env file")
	flag.Parse()

	cfg, err := config.Load(*envPath)
	if err != nil {
		logrus.Fatalf("CONFIG:FAILED %v", err)
	}
	logger.Init(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	st, err := newStorage(ctx, cfg)
	if err != nil {
		logrus.Fatalf("STORAGE:FAILED %v", err)
	}
	if st.db != nil {
		defer st.db.Close()
	}

	coord := idempotency.NewCoordinator(st.backend, cfg.Idempotency).WithObserver(func(o idempotency.Outcome) {
		m.IdempotencyTotal.WithLabelValues(string(o)).Inc()
	})
	gw := gateway.NewResilientGateway(gateway.NewSimulatedGateway(), cfg.Gateway, m)
	svc := application.NewService(st.repo, gw, coord, m, cfg.Service)
	sweeper := application.NewSweeper(st.repo, svc, m, cfg.Sweeper)
	if st.purger != nil {
		sweeper.WithPurger(st.purger)
	}

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httptransport.NewServer(svc, 30*time.Second).Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", m.Handler())
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux, ReadHeaderTimeout: 5 * time.Second}
	grpcSrv := grpcserver.NewGRPCServer(cfg.GRPCAddr)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sweeper.Run(gctx)
		return nil
	})

	closeKafka := func() {}
	if cfg.KafkaEnabled {
		closeKafka, err = startKafka(gctx, g, cfg, st, svc, m)
		if err != nil {
			logrus.Fatalf("KAFKA:FAILED %v", err)
		}
	} else {
		logrus.Warn("KAFKA:DISABLED, outbox events stay pending")
	}

	g.Go(func() error {
		logrus.WithField("addr", cfg.HTTPAddr).Info("HTTP:LISTEN")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(grpcSrv.Listen)
	grpcSrv.SetServing(true)

	g.Go(func() error {
		<-gctx.Done()
		logrus.Info("SERVER:SHUTDOWN")
		grpcSrv.SetServing(false)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logrus.Errorf("HTTP:SHUTDOWN:FAILED %v", err)
		}
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logrus.Errorf("METRICS:SHUTDOWN:FAILED %v", err)
		}
		grpcSrv.Stop()
		return nil
	})

	if err := g.Wait(); err != nil {
		logrus.Errorf("SERVER:EXIT %v", err)
	}
	closeKafka()
}

// startKafka runs the outbox relay and the order-events consumer on g. The
// returned func flushes the producer once both have exited.
func startKafka(ctx context.Context, g *errgroup.Group, cfg *config.Config, st *storage, svc *application.Service, m *metrics.Metrics) (func(), error) {
	err := pkgkafka.EnsureTopics(ctx, cfg.Kafka, cfg.PaymentTopic, cfg.OrderTopic, cfg.DLQTopic)
	if err != nil {
		return nil, err
	}
	encoder, err := pkgkafka.NewMsgEncoder(&cfg.Kafka.Encoder)
	if err != nil {
		return nil, err
	}
	producer, err := pkgkafka.NewKafkaProducer(cfg.Kafka)
	if err != nil {
		return nil, err
	}

	relay := outbox.NewRelay(st.outbox, producer, encoder, m, cfg.Relay)

	router := handlers.NewMsgRouter(encoder, m)
	handlers.Register(router, application.NewCompensator(svc))
	consumer, err := pkgkafka.NewKafkaConsumer(cfg.Kafka, router.Route, pkgkafka.ConsumerOptions{
		Topics:   []string{cfg.OrderTopic},
		DLQTopic: cfg.DLQTopic,
		DLQ:      producer,
		OnResult: func(_ *kafka.Message, state pkgkafka.MsgState) {
			if state == pkgkafka.MsgState_DeadLettered {
				m.ConsumerHandled.WithLabelValues("DLQ", "dead_lettered").Inc()
			}
		},
	})
	if err != nil {
		producer.Close()
		return nil, err
	}

	g.Go(func() error {
		relay.Run(ctx)
		return nil
	})
	g.Go(func() error {
		return consumer.Run(ctx)
	})
	return producer.Close, nil
}
