package protos

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/q-controller/imgvault/src/pkg/images/secure"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const ServiceName = "imgvault.v1.ImageStore"

// HealthServer reports ServiceName as SERVING while the storage root resolves
// to a directory.
type HealthServer struct {
	*health.Server
	root string
}

func NewHealthServer(root string) *HealthServer {
	h := &HealthServer{
		Server: health.NewServer(),
		root:   root,
	}
	h.Refresh()
	return h
}

func (h *HealthServer) Refresh() healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if _, err := secure.ResolveRoot(h.root); err != nil {
		slog.Warn("Storage root unavailable", "root", h.root, "error", err)
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.SetServingStatus(ServiceName, status)
	h.SetServingStatus("", status)
	return status
}

// Run refreshes the status every interval until ctx is done, then marks all
// services NOT_SERVING.
func (h *HealthServer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.Shutdown()
			return
		case <-ticker.C:
			h.Refresh()
		}
	}
}

func (h *HealthServer) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.Server)
}

// ServeHTTP mirrors the gRPC status for plain HTTP probes.
func (h *HealthServer) ServeHTTP(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := h.Check(r.Context(), &healthpb.HealthCheckRequest{Service: ServiceName})
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if err == nil {
		status = resp.GetStatus()
	}

	w.Header().Set("Content-Type", "application/json")
	if status != healthpb.HealthCheckResponse_SERVING {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if encErr := json.NewEncoder(w).Encode(map[string]string{"status": status.String()}); encErr != nil {
		slog.Warn("Failed to encode JSON response", "error", encErr)
	}
}
