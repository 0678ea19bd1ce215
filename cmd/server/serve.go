package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/ShopCx/PaymentService/internal/config"
	httpd "github.com/ShopCx/PaymentService/internal/delivery/http"
	"github.com/ShopCx/PaymentService/internal/events"
	"github.com/ShopCx/PaymentService/internal/health"
	"github.com/ShopCx/PaymentService/internal/idempotency"
	"github.com/ShopCx/PaymentService/internal/logging"
	"github.com/ShopCx/PaymentService/internal/metrics"
	"github.com/ShopCx/PaymentService/internal/settlement"
	"github.com/ShopCx/PaymentService/internal/token"
	"github.com/ShopCx/PaymentService/internal/usecase"
	"github.com/ShopCx/PaymentService/internal/validation"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Error("open store failed", "err", err)
		return err
	}
	defer st.Close()

	tokens, err := token.NewJWT(cfg.JWTSecret, cfg.JWTIssuer, cfg.TokenTTL)
	if err != nil {
		return err
	}

	m := metrics.New()
	checker := health.NewChecker(log, 2*time.Second)
	checker.Register("database", st)

	var publisher usecase.Publisher = events.Discard{}
	if len(cfg.KafkaBrokers) > 0 {
		writer := events.NewKafkaWriter(cfg.KafkaBrokers)
		defer writer.Close()
		publisher = events.NewPublisher(log, writer, cfg.KafkaTopic, "payment-service")
		log.Info("event publishing enabled", "topic", cfg.KafkaTopic)
	}

	var idem idempotency.Store
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		rs := idempotency.NewRedisStore(rdb, cfg.IdempotencyTTL)
		checker.Register("redis", rs)
		idem = rs
		log.Info("idempotency keys enabled", "redis", cfg.RedisAddr)
	}

	v := validation.New()
	payments := usecase.NewPaymentUsecase(usecase.PaymentDeps{
		Store:     st,
		Validator: v,
		Settler:   settlement.NewSimulator(log, cfg.SettlementDeclineLast4, cfg.SettlementLatency),
		Tokens:    tokens,
		Metrics:   m,
		Events:    publisher,
		Log:       log,
	})
	refunds := usecase.NewRefundUsecase(usecase.RefundDeps{
		Transactions: st,
		Refunds:      st,
		Validator:    v,
		Metrics:      m,
		Events:       publisher,
		Log:          log,
	})

	h := httpd.NewHandler(httpd.Deps{
		Payments:    payments,
		Refunds:     refunds,
		Tokens:      tokens,
		Metrics:     m,
		Health:      checker,
		Idempotency: idem,
		Log:         log,
	})

	srv := &http.Server{
		Addr: ":" + cfg.AppPort,
		Handler: h.Routes(httpd.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			RequestTimeout: cfg.RequestTimeout,
			Signature: httpd.SigConfig{
				Secret:        cfg.HMACSecret,
				MaxAgeSeconds: cfg.SigMaxAgeSeconds,
			},
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", srv.Addr, "version", version, "store", cfg.StoreDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Error("server failed", "err", err)
			return err
		}
	case <-ctx.Done():
	}

	return shutdown(srv, cfg.ShutdownTimeout, log)
}

func shutdown(srv *http.Server, timeout time.Duration, log *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	log.Info("shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", "err", err)
		return err
	}
	return nil
}
