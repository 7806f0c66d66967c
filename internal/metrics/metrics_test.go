package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ComputerNetworks-UFRGS/Aurora/internal/metrics"
	"github.com/stretchr/testify/require"
)

func TestHandler(t *testing.T) {
	m, err := metrics.New("auroratest")
	require.NoError(t, err)

	h := m.Middleware("slices")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/slices", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	require.Contains(t, string(body), "auroratest_http_slices_requests")
	require.Contains(t, string(body), "auroratest_http_slices")
}
