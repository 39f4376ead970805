package images

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/q-controller/imgvault/src/pkg/events"
	"github.com/q-controller/imgvault/src/pkg/images/secure"
	"github.com/q-controller/imgvault/src/pkg/images/storage"
	"github.com/q-controller/imgvault/src/pkg/metrics"
)

const (
	FormField = "file"

	// Room for multipart boundaries and part headers on top of the image itself.
	multipartOverhead = 64 << 10
)

type Handler struct {
	backend   storage.StorageBackend
	publisher *events.Publisher
	recorder  *metrics.Recorder
}

func (h *Handler) Post(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, secure.MaxBytes+multipartOverhead)

	data, readErr := readFormFile(r)
	if readErr != nil {
		var maxErr *http.MaxBytesError
		if errors.As(readErr, &maxErr) {
			err := fmt.Errorf("%w: request body exceeds %d bytes", secure.ErrTooLarge, maxErr.Limit)
			h.recorder.Upload(0, err)
			h.rejected(err)
			writeError(w, r, err)
			return
		}
		writeProblem(w, newProblem(http.StatusBadRequest, kindBadRequest, readErr.Error()))
		return
	}

	meta, storeErr := h.backend.Store(r.Context(), data)
	h.recorder.Upload(len(data), storeErr)
	if storeErr != nil {
		h.rejected(storeErr)
		writeError(w, r, storeErr)
		return
	}

	if h.publisher != nil {
		if err := h.publisher.ImageUploaded(meta); err != nil {
			slog.Debug("Failed to publish upload event", "error", err)
		}
	}
	slog.Info("Image stored", "image_id", meta.ImageID, "size", meta.Size, "content_type", meta.ContentType)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Location", r.URL.Path+"/"+meta.ImageID)
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(meta); err != nil {
		slog.Warn("Failed to encode JSON response", "error", err)
	}
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	imageId, ok := pathParams["imageId"]
	if !ok || imageId == "" {
		writeProblem(w, newProblem(http.StatusBadRequest, kindBadRequest, "missing imageId parameter"))
		return
	}

	if err := h.backend.Remove(r.Context(), imageId); err != nil {
		writeError(w, r, err)
		return
	}

	h.recorder.Removed()
	if h.publisher != nil {
		if err := h.publisher.ImageRemoved(imageId); err != nil {
			slog.Debug("Failed to publish removal event", "error", err)
		}
	}
	slog.Info("Image removed", "image_id", imageId)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	images, listErr := h.backend.List()
	if listErr != nil {
		writeError(w, r, listErr)
		return
	}
	if images == nil {
		images = []*storage.ImageMetadata{}
	}

	w.Header().Set("Content-Type", "application/json")

	response := map[string][]*storage.ImageMetadata{"images": images}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.Warn("Failed to encode JSON response", "error", err)
	}
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	imageId, ok := pathParams["imageId"]
	if !ok || imageId == "" {
		writeProblem(w, newProblem(http.StatusBadRequest, kindBadRequest, "missing imageId parameter"))
		return
	}

	reader, meta, openErr := h.backend.Open(r.Context(), imageId)
	if openErr != nil {
		writeError(w, r, openErr)
		return
	}
	defer func() {
		if err := reader.Close(); err != nil {
			slog.Warn("Failed to close image", "image_id", imageId, "error", err)
		}
	}()

	w.Header().Set("Content-Type", meta.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(meta.Size, 10))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("ETag", strconv.Quote(meta.SHA256))
	if _, err := io.Copy(w, reader); err != nil {
		slog.Warn("Failed to send image", "image_id", imageId, "error", err)
	}
}

func (h *Handler) rejected(err error) {
	kind := secure.KindOf(err)
	if kind == secure.KindUnknown || h.publisher == nil {
		return
	}
	if pubErr := h.publisher.UploadRejected(string(kind), err.Error()); pubErr != nil {
		slog.Debug("Failed to publish rejection event", "error", pubErr)
	}
}

// readFormFile returns the content of the first part named FormField. The
// client-supplied filename and content type are ignored; at most
// secure.MaxBytes+1 bytes are read so oversized files are still classified by
// the size gate.
func readFormFile(r *http.Request) ([]byte, error) {
	reader, readerErr := r.MultipartReader()
	if readerErr != nil {
		return nil, fmt.Errorf("failed to parse form: %w", readerErr)
	}

	for {
		part, partErr := reader.NextPart()
		if partErr == io.EOF {
			return nil, fmt.Errorf("missing %q field", FormField)
		}
		if partErr != nil {
			return nil, fmt.Errorf("failed to parse form: %w", partErr)
		}

		if part.FormName() != FormField {
			if err := drain(part); err != nil {
				return nil, err
			}
			continue
		}

		data, readErr := io.ReadAll(io.LimitReader(part, secure.MaxBytes+1))
		closeErr := part.Close()
		if readErr != nil {
			return nil, fmt.Errorf("failed to read file: %w", readErr)
		}
		if closeErr != nil {
			return nil, fmt.Errorf("failed to read file: %w", closeErr)
		}
		return data, nil
	}
}

func drain(part *multipart.Part) error {
	_, copyErr := io.Copy(io.Discard, part)
	return errors.Join(copyErr, part.Close())
}

func CreateHandler(backend storage.StorageBackend, publisher *events.Publisher, recorder *metrics.Recorder) (*Handler, error) {
	if backend == nil {
		return nil, fmt.Errorf("storage backend is required")
	}
	return &Handler{
		backend:   backend,
		publisher: publisher,
		recorder:  recorder,
	}, nil
}

// Register mounts the image routes under rootPath.
func Register(mux *runtime.ServeMux, rootPath string, h *Handler) error {
	routes := []struct {
		method  string
		pattern string
		handler runtime.HandlerFunc
	}{
		{http.MethodPost, rootPath, h.Post},
		{http.MethodGet, rootPath, h.List},
		{http.MethodGet, rootPath + "/{imageId}", h.Get},
		{http.MethodDelete, rootPath + "/{imageId}", h.Delete},
	}
	for _, route := range routes {
		if err := mux.HandlePath(route.method, route.pattern, route.handler); err != nil {
			return fmt.Errorf("failed to register %s %s: %w", route.method, route.pattern, err)
		}
	}
	return nil
}
