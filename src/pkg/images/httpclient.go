package images

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/q-controller/imgvault/src/pkg/images/secure"
	"github.com/q-controller/imgvault/src/pkg/images/storage"
	"github.com/q-controller/imgvault/src/pkg/utils"
)

type httpImageClient struct {
	base string
	cli  *http.Client
}

func (h *httpImageClient) endpoint(id string) string {
	if id == "" {
		return h.base
	}
	return h.base + "/" + url.PathEscape(id)
}

func (h *httpImageClient) do(req *http.Request, expected int) (*http.Response, error) {
	resp, respErr := h.cli.Do(req)
	if respErr != nil {
		return nil, respErr
	}
	if resp.StatusCode == expected {
		return resp, nil
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Debug("Failed to close response body", "error", err)
		}
	}()
	return nil, decodeProblem(resp)
}

func (h *httpImageClient) Upload(ctx context.Context, content io.Reader) (meta *storage.ImageMetadata, retErr error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, partErr := writer.CreateFormFile(FormField, "upload")
	if partErr != nil {
		return nil, partErr
	}
	// One byte past the limit is enough for the server to reject it.
	if _, err := io.Copy(part, io.LimitReader(content, secure.MaxBytes+1)); err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint(""), body)
	if reqErr != nil {
		return nil, reqErr
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, respErr := h.do(req, http.StatusCreated)
	if respErr != nil {
		return nil, respErr
	}
	defer func() {
		retErr = errors.Join(retErr, resp.Body.Close())
	}()

	meta = &storage.ImageMetadata{}
	if err := json.NewDecoder(resp.Body).Decode(meta); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return meta, nil
}

func (h *httpImageClient) Download(ctx context.Context, id, path string) (retErr error) {
	req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, h.endpoint(id), nil)
	if reqErr != nil {
		return reqErr
	}

	resp, respErr := h.do(req, http.StatusOK)
	if respErr != nil {
		return respErr
	}
	defer func() {
		retErr = errors.Join(retErr, resp.Body.Close())
	}()

	return writeFile(path, resp.Body)
}

func (h *httpImageClient) Remove(ctx context.Context, id string) error {
	req, reqErr := http.NewRequestWithContext(ctx, http.MethodDelete, h.endpoint(id), nil)
	if reqErr != nil {
		return reqErr
	}

	resp, respErr := h.do(req, http.StatusNoContent)
	if respErr != nil {
		return respErr
	}
	return resp.Body.Close()
}

func (h *httpImageClient) List(ctx context.Context) (images []*storage.ImageMetadata, retErr error) {
	req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, h.endpoint(""), nil)
	if reqErr != nil {
		return nil, reqErr
	}

	resp, respErr := h.do(req, http.StatusOK)
	if respErr != nil {
		return nil, respErr
	}
	defer func() {
		retErr = errors.Join(retErr, resp.Body.Close())
	}()

	var response struct {
		Images []*storage.ImageMetadata `json:"images"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return response.Images, nil
}

func decodeProblem(resp *http.Response) error {
	p := &Problem{}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), ProblemContentType) {
		if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(p); err == nil {
			return p
		}
	}
	p.Status = resp.StatusCode
	p.Title = http.StatusText(resp.StatusCode)
	if resp.StatusCode == http.StatusNotFound {
		p.Kind = kindNotFound
	}
	return p
}

// CreateHTTPImageClient returns a client for the image routes served under
// endpoint, e.g. http://localhost:8080/v1/images.
func CreateHTTPImageClient(endpoint string, cli *http.Client) (ImageClient, error) {
	if !utils.IsHTTP(endpoint) {
		return nil, fmt.Errorf("invalid endpoint %q", endpoint)
	}
	if cli == nil {
		cli = http.DefaultClient
	}
	return &httpImageClient{
		base: strings.TrimSuffix(endpoint, "/"),
		cli:  cli,
	}, nil
}
