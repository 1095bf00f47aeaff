package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/elastic/go-elasticsearch/v9"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dkoroteev/socialnet/pkg/db"
	"github.com/dkoroteev/socialnet/pkg/logging"
	loggingmw "github.com/dkoroteev/socialnet/pkg/middleware/logging"
	"github.com/dkoroteev/socialnet/pkg/tokens"
	"github.com/dkoroteev/socialnet/services/session/internal/audit"
	"github.com/dkoroteev/socialnet/services/session/internal/config"
	"github.com/dkoroteev/socialnet/services/session/internal/events"
	"github.com/dkoroteev/socialnet/services/session/internal/httpserver"
	"github.com/dkoroteev/socialnet/services/session/internal/metrics"
	"github.com/dkoroteev/socialnet/services/session/internal/models"
	"github.com/dkoroteev/socialnet/services/session/internal/repo"
	"github.com/dkoroteev/socialnet/services/session/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.LogLevel)
	ctx, cancel := context.WithCancel(logging.IntoContext(context.Background(), logger))
	defer cancel()

	initCtx, initCancel := context.WithTimeout(ctx, 10*time.Second)
	gdb, err := db.Open(initCtx, cfg.DatabaseURL)
	initCancel()
	if err != nil {
		log.Fatalf("db init error: %v", err)
	}
	if err := gdb.AutoMigrate(&models.User{}, &models.Session{}); err != nil {
		log.Fatalf("db migrate error: %v", err)
	}

	keys := tokens.NewKeyRegistry()
	keys.Register(tokens.AudienceUser, cfg.JWTSecret)
	keys.Register(tokens.AudienceInterService, cfg.ServiceSecret)
	codec := tokens.NewCodec(keys, cfg.TokenIssuer)

	sessions := &repo.SessionRepo{DB: gdb}
	users := &repo.UserRepo{DB: gdb}

	notifier := events.NewNotifier(cfg.KafkaAddress, cfg.NotificationsTopic)
	defer notifier.Close()

	var indexer *audit.Indexer
	if cfg.ESURL != "" {
		es, err := elasticsearch.NewClient(elasticsearch.Config{
			Addresses: []string{cfg.ESURL},
			Username:  cfg.ESUser,
			Password:  cfg.ESPassword,
		})
		if err != nil {
			log.Fatalf("elasticsearch init error: %v", err)
		}
		indexer = audit.NewIndexer(es, cfg.AuditIndex)
	}

	svc := &service.SessionService{
		Sessions:   sessions,
		Users:      users,
		Codec:      codec,
		Notifier:   notifier,
		Audit:      indexer,
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
		ProofKey:   cfg.ProofSecret,
	}

	reg := metrics.NewRegistry()
	reg.Register(prometheus.DefaultRegisterer)

	janitor := &service.Janitor{
		Sessions:    sessions,
		IdleAfter:   cfg.JanitorIdleAfter,
		RetainAfter: cfg.JanitorRetainAfter,
		PurgeAfter:  cfg.JanitorPurgeAfter,
		Interval:    cfg.JanitorInterval,
		Metrics:     reg,
	}
	go janitor.Run(ctx)

	consumer := events.NewConsumer(
		cfg.KafkaAddress,
		cfg.AuthRequestsTopic,
		cfg.AuthResponsesTopic,
		cfg.KafkaGroupID,
		svc,
		users,
		events.NewRegistry(cfg.CorrelationTTL),
	)
	defer consumer.Close()
	go consumer.Run(ctx)

	e := echo.New()
	e.HideBanner = true
	e.Server.ReadTimeout = 10 * time.Second
	e.Server.WriteTimeout = 15 * time.Second
	e.Server.ReadHeaderTimeout = 3 * time.Second
	e.Use(loggingmw.RequestLogger(logger))

	httpserver.Register(e, &httpserver.Deps{
		Session: &httpserver.SessionHTTP{Svc: svc, Janitor: janitor},
		Keys:    keys,
	})

	go func() {
		if err := e.Start(cfg.HTTPAddr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("echo start: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("echo shutdown: %v", err)
	}
}
