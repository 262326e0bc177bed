package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/drowsiness-monitor/internal/alert"
	"github.com/ukydev/drowsiness-monitor/internal/auth"
	"github.com/ukydev/drowsiness-monitor/internal/config"
	"github.com/ukydev/drowsiness-monitor/internal/db"
	"github.com/ukydev/drowsiness-monitor/internal/detectlog"
	"github.com/ukydev/drowsiness-monitor/internal/detector"
	"github.com/ukydev/drowsiness-monitor/internal/handlers"
	"github.com/ukydev/drowsiness-monitor/internal/middleware"
	"github.com/ukydev/drowsiness-monitor/internal/stats"
	"github.com/ukydev/drowsiness-monitor/internal/stream"
	"github.com/ukydev/drowsiness-monitor/internal/trip"
)

const shutdownTimeout = 15 * time.Second

// openStore connects the backend selected by STORE_DRIVER.
func openStore(ctx context.Context, cfg *config.Config) (db.Store, error) {
	switch cfg.StoreDriver {
	case "memory":
		log.Warn("Using in-memory store, data is lost on restart")
		return db.NewMemoryStore(), nil
	case "postgres":
		store, err := db.ConnectPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "mongo":
		client, err := db.ConnectMongo(cfg.MongoURI)
		if err != nil {
			return nil, err
		}
		store, err := db.NewMongoStore(ctx, client, cfg.MongoDB)
		if err != nil {
			_ = client.Disconnect(ctx)
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// loadModel loads the ONNX detector. The service keeps running without a
// model and answers detection requests with "Model not loaded".
func loadModel(cfg *config.Config) (*detector.ONNXModel, error) {
	return detector.LoadONNX(detector.ONNXConfig{
		ModelPath:   cfg.ModelPath,
		LibraryPath: cfg.ONNXLibraryPath,
		Labels:      cfg.ModelLabels,
		InputSize:   cfg.ModelInputSize,
		Confidence:  cfg.ModelConfidence,
		IOU:         cfg.ModelIOU,
		PoolSize:    cfg.ModelPoolSize,
	})
}

// app is the assembled service.
type app struct {
	handler http.Handler
	ai      *handlers.AIHandler
}

// newApp wires the HTTP surface. model and publisher may be nil.
func newApp(cfg *config.Config, store db.Store, model *detector.ONNXModel, publisher *alert.MQTTPublisher) *app {
	authService := auth.NewService(cfg.JWTSecret, cfg.JWTExpiry)
	reset := auth.NewPasswordReset(auth.NewMemoryResetCodeStore(), auth.LogSender{}, cfg.ResetCodeTTL)
	writer := detectlog.NewWriter(store, store, detectlog.ParsePolicy(cfg.OwnershipPolicy))

	var observers []stream.Observer
	if cfg.StreamLogDetections {
		observers = append(observers, detectlog.NewStreamRecorder(writer))
	}
	if publisher != nil {
		observers = append(observers, publisher)
	}

	// a nil *ONNXModel must not become a non-nil detector.Model
	var backend detector.Model
	if model != nil {
		backend = model
	}

	streamHandler := stream.NewHandler(detector.NewAdapter(backend), stream.Options{
		IdleTimeout: cfg.StreamIdleTimeout,
		MaxPixels:   cfg.StreamMaxPixels,
		Observers:   observers,
	})
	ai := handlers.NewAIHandler(streamHandler, cfg.StreamMaxFrameBytes)

	router := handlers.NewRouter(handlers.Routes{
		Auth:            handlers.NewAuthHandler(authService, store).WithPasswordReset(reset),
		Contacts:        handlers.NewContactHandler(store),
		Trips:           handlers.NewTripHandler(trip.NewManager(store), writer),
		Statistics:      handlers.NewStatisticsHandler(stats.NewService(store, store)),
		AI:              ai,
		AuthMiddleware:  middleware.NewAuthMiddleware(authService),
		RateLimiter:     middleware.NewRateLimitMiddleware(),
		RateLimitPerMin: cfg.RateLimitPerMin,
		CORSOrigins:     cfg.CORSOrigins,
		Metrics: func() map[string]interface{} {
			m := map[string]interface{}{
				"model_loaded":       model != nil,
				"log_ownership":      writer.Policy(),
				"stream_log_enabled": cfg.StreamLogDetections,
			}
			if model != nil {
				m["model_pool"] = model.Metrics()
			}
			if publisher != nil {
				m["mqtt"] = publisher.Stats()
			}
			return m
		},
	})

	return &app{handler: router, ai: ai}
}

func main() {
	cfg := config.Load()
	cfg.ConfigureLogging()
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	store, err := openStore(connectCtx, cfg)
	cancel()
	if err != nil {
		log.WithError(err).WithField("driver", cfg.StoreDriver).Fatal("Failed to open store")
	}
	log.WithField("driver", cfg.StoreDriver).Info("Store ready")

	model, err := loadModel(cfg)
	if err != nil {
		log.WithError(err).Warn("Detection model unavailable, AI endpoints will report it")
		model = nil
	}

	var publisher *alert.MQTTPublisher
	if cfg.MQTTBroker != "" {
		publisher, err = alert.Connect(alert.Options{
			Broker:      cfg.MQTTBroker,
			ClientID:    cfg.MQTTClientID,
			TopicPrefix: cfg.MQTTTopicPrefix,
		})
		if err != nil {
			log.WithError(err).Warn("MQTT alerts disabled")
			publisher = nil
		}
	}

	a := newApp(cfg, store, model, publisher)
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("addr", srv.Addr).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("HTTP shutdown failed")
	}
	a.ai.Close()
	if publisher != nil {
		publisher.Close()
	}
	if model != nil {
		model.Close()
		detector.ShutdownRuntime()
	}
	if err := store.Close(shutdownCtx); err != nil {
		log.WithError(err).Error("Failed to close store")
	}
	log.Info("Shutdown complete")
}
