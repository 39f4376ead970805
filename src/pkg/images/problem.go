package images

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/q-controller/imgvault/src/pkg/images/secure"
	"github.com/q-controller/imgvault/src/pkg/images/storage"
)

const (
	ProblemContentType = "application/problem+json"

	kindNotFound   = "not_found"
	kindBadRequest = "bad_request"
)

// Problem is an RFC 7807 problem document. It doubles as the error returned by
// the HTTP client, unwrapping to the sentinel named by Kind.
type Problem struct {
	Type          string `json:"type"`
	Title         string `json:"title"`
	Status        int    `json:"status"`
	Detail        string `json:"detail,omitempty"`
	CorrelationID string `json:"correlation_id"`
	Kind          string `json:"kind,omitempty"`
}

func (p *Problem) Error() string {
	if p.Detail == "" {
		return fmt.Sprintf("%d %s", p.Status, p.Title)
	}
	return fmt.Sprintf("%d %s: %s", p.Status, p.Title, p.Detail)
}

func (p *Problem) Unwrap() error {
	switch p.Kind {
	case kindNotFound:
		return storage.ErrNotFound
	case string(secure.KindTooLarge):
		return secure.ErrTooLarge
	case string(secure.KindUnsupportedType):
		return secure.ErrUnsupportedType
	case string(secure.KindRootNotFound):
		return secure.ErrRootNotFound
	case string(secure.KindPathEscape):
		return secure.ErrPathEscape
	case string(secure.KindSymlinkAncestor):
		return secure.ErrSymlinkAncestor
	case string(secure.KindWriteFailed):
		return secure.ErrWriteFailed
	}
	return nil
}

func newProblem(status int, kind, detail string) *Problem {
	return &Problem{
		Type:          "about:blank",
		Title:         http.StatusText(status),
		Status:        status,
		Detail:        detail,
		CorrelationID: uuid.NewString(),
		Kind:          kind,
	}
}

// problemFor maps a storage error onto a problem document. Client errors carry
// their message; server-side failures only expose the kind so filesystem
// paths never reach the response.
func problemFor(err error) *Problem {
	if errors.Is(err, storage.ErrNotFound) {
		return newProblem(http.StatusNotFound, kindNotFound, err.Error())
	}

	kind := secure.KindOf(err)
	switch kind {
	case secure.KindTooLarge:
		return newProblem(http.StatusRequestEntityTooLarge, string(kind), err.Error())
	case secure.KindUnsupportedType:
		return newProblem(http.StatusUnsupportedMediaType, string(kind), err.Error())
	case secure.KindUnknown:
		return newProblem(http.StatusInternalServerError, "", "")
	default:
		return newProblem(http.StatusInternalServerError, string(kind), "")
	}
}

func writeProblem(w http.ResponseWriter, p *Problem) {
	w.Header().Set("Content-Type", ProblemContentType)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(p.Status)
	if err := json.NewEncoder(w).Encode(p); err != nil {
		slog.Warn("Failed to encode problem response", "error", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	p := problemFor(err)
	if p.Status >= http.StatusInternalServerError {
		slog.Error("Request failed", "method", r.Method, "path", r.URL.Path,
			"correlation_id", p.CorrelationID, "error", err)
	} else {
		slog.Debug("Request rejected", "method", r.Method, "path", r.URL.Path,
			"correlation_id", p.CorrelationID, "kind", p.Kind, "error", err)
	}
	writeProblem(w, p)
}
