package metrics

import (
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/q-controller/imgvault/src/pkg/images/secure"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderUpload(t *testing.T) {
	r, err := New(WithRegistry(prometheus.NewRegistry()))
	require.NoError(t, err)

	r.Upload(2048, nil)
	r.Upload(10, fmt.Errorf("rejected: %w", secure.ErrUnsupportedType))
	r.Upload(6_000_000, secure.ErrTooLarge)
	r.Upload(1, errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(r.uploads.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.uploads.WithLabelValues("unsupported_type")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.uploads.WithLabelValues("too_large")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.uploads.WithLabelValues("unknown")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.uploadBytes))
}

func TestRecorderRemovalsAndMirror(t *testing.T) {
	reg := prometheus.NewRegistry()
	r, err := New(WithRegistry(reg), WithNamespace("test"))
	require.NoError(t, err)

	r.Removed()
	r.Removed()
	r.MirrorFailed("put")

	assert.Equal(t, 2.0, testutil.ToFloat64(r.removals))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.mirrorFailures.WithLabelValues("put")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "test_removals_total")
}

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	r.Upload(1, nil)
	r.Removed()
	r.MirrorFailed("put")
}

func TestDuplicateRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(WithRegistry(reg))
	require.NoError(t, err)
	_, err = New(WithRegistry(reg))
	assert.Error(t, err)
}
