package cmd

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/q-controller/imgvault/src/imgvaultd/cmd/utils"
	"github.com/q-controller/imgvault/src/pkg/images"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testPNG = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 16)...)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)
	cfg.Root = t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	svc, closeStore, err := newServices(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = closeStore() })

	handler, err := newHTTPHandler(svc)
	require.NoError(t, err)

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestHTTPHandlerRoutes(t *testing.T) {
	server := newTestServer(t)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile(images.FormField, "a.png")
	require.NoError(t, err)
	_, err = part.Write(testPNG)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	resp, err := http.Post(server.URL+utils.PathPrefix, writer.FormDataContentType(), body)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	status, metrics := get(t, server.URL+"/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, metrics, `imgvault_uploads_total{result="ok"} 1`)

	status, health := get(t, server.URL+"/health")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, health, "SERVING")

	status, doc := get(t, server.URL+"/openapi.yaml")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, doc, utils.PathPrefix)

	status, _ = get(t, server.URL+"/swagger/index.html")
	assert.Equal(t, http.StatusOK, status)
}

func TestNewServicesRequiresRoot(t *testing.T) {
	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)
	cfg.Root = t.TempDir() + "/missing"

	_, _, err = newServices(context.Background(), cfg)
	assert.Error(t, err)
}
