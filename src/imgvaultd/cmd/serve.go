package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/q-controller/imgvault/src/imgvaultd/cmd/utils"
	"github.com/q-controller/imgvault/src/pkg/events"
	"github.com/q-controller/imgvault/src/pkg/images"
	"github.com/q-controller/imgvault/src/pkg/images/storage"
	"github.com/q-controller/imgvault/src/pkg/metrics"
	"github.com/q-controller/imgvault/src/pkg/protos"
	"github.com/spf13/cobra"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

const shutdownTimeout = 5 * time.Second

// services bundles everything the HTTP API is built from.
type services struct {
	store     storage.StorageBackend
	publisher *events.Publisher
	recorder  *metrics.Recorder
	registry  *prometheus.Registry
	health    *protos.HealthServer
}

func newHTTPHandler(svc *services) (http.Handler, error) {
	gw := runtime.NewServeMux()

	handler, handlerErr := images.CreateHandler(svc.store, svc.publisher, svc.recorder)
	if handlerErr != nil {
		return nil, handlerErr
	}
	if err := images.Register(gw, utils.PathPrefix, handler); err != nil {
		return nil, err
	}
	if err := gw.HandlePath(http.MethodGet, "/v1/events", svc.publisher.ServeWS); err != nil {
		return nil, fmt.Errorf("failed to register events endpoint: %w", err)
	}
	if err := gw.HandlePath(http.MethodGet, "/health", svc.health.ServeHTTP); err != nil {
		return nil, fmt.Errorf("failed to register health endpoint: %w", err)
	}

	doc, docErr := utils.GenerateOpenAPISpecs()
	if docErr != nil {
		return nil, docErr
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(svc.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		if _, err := w.Write([]byte(doc)); err != nil {
			slog.Warn("Failed to write OpenAPI document", "error", err)
		}
	})
	mux.Handle("/swagger/", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))
	mux.Handle("/", gw)
	return mux, nil
}

func newServices(ctx context.Context, cfg Config) (*services, func() error, error) {
	backend, backendErr := storage.NewLocalFilesystemBackend(cfg.Root, cfg.Index)
	if backendErr != nil {
		return nil, nil, fmt.Errorf("failed to open storage: %w", backendErr)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder, recorderErr := metrics.New(metrics.WithRegistry(registry))
	if recorderErr != nil {
		return nil, nil, errors.Join(recorderErr, backend.Close())
	}

	var store storage.StorageBackend = backend
	if cfg.S3.Enabled {
		slog.Info("Mirroring images to S3", "bucket", cfg.S3.Bucket, "prefix", cfg.S3.Prefix, "endpoint", cfg.S3.Endpoint)
		store = storage.NewMirroredBackend(backend, storage.NewS3Client(cfg.S3.S3Config),
			cfg.S3.Bucket, cfg.S3.Prefix, recorder.MirrorFailed)
	}

	return &services{
		store:     store,
		publisher: events.NewEventPublisher(ctx),
		recorder:  recorder,
		registry:  registry,
		health:    protos.NewHealthServer(backend.Root()),
	}, backend.Close, nil
}

func serve(ctx context.Context, cfg Config) (retErr error) {
	svc, closeStore, svcErr := newServices(ctx, cfg)
	if svcErr != nil {
		return svcErr
	}
	defer func() {
		if err := closeStore(); err != nil {
			retErr = errors.Join(retErr, fmt.Errorf("failed to close storage: %w", err))
		}
	}()

	handler, handlerErr := newHTTPHandler(svc)
	if handlerErr != nil {
		return handlerErr
	}
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lis, lisErr := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPC.Port))
	if lisErr != nil {
		return fmt.Errorf("failed to listen: %w", lisErr)
	}
	grpcServer := grpc.NewServer()
	svc.health.Register(grpcServer)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Serving HTTP", "addr", httpServer.Addr, "root", cfg.Root)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to serve HTTP: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		slog.Info("Serving gRPC health", "addr", lis.Addr().String())
		if err := grpcServer.Serve(lis); err != nil {
			return fmt.Errorf("failed to serve gRPC: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		svc.health.Run(gctx, cfg.HealthInterval)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down servers...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		done := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(done)
		}()

		httpErr := httpServer.Shutdown(shutdownCtx)

		select {
		case <-shutdownCtx.Done():
			slog.Warn("Graceful shutdown timed out, forcing stop")
			grpcServer.Stop()
		case <-done:
			slog.Info("Graceful shutdown completed")
		}
		return httpErr
	})

	return g.Wait()
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Starts the HTTP API and gRPC health service",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return serve(ctx, config)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
