package gateway

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metaparticle-io/container-lib/pkg/server"
	"github.com/metaparticle-io/container-lib/pkg/store"
)

func TestRoutes(t *testing.T) {
	locks := server.NewHandler(server.NewServer(store.NewMemory()))
	gw := NewServer(":0", locks, "/metrics", nil)

	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/locks/x", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "elector_requests_total")

	// the lock handler owns every other path
	rec = httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Unknown path: /nope")
}

func TestMalformedPathsReachLockHandler(t *testing.T) {
	locks := server.NewHandler(server.NewServer(store.NewMemory()))
	gw := NewServer(":0", locks, "/metrics", nil)

	for _, path := range []string{"/locks//x", "/locks/a/../b", "/locks/./x", "/locks/x/y"} {
		t.Run(path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.URL.Path = path

			rec := httptest.NewRecorder()
			gw.Handler().ServeHTTP(rec, req)

			assert.Equal(t, http.StatusTooManyRequests, rec.Code)
			assert.Empty(t, rec.Header().Get("Location"))
			assert.Contains(t, rec.Body.String(), "Bad path: "+path)
		})
	}
}

func TestMetricsDisabled(t *testing.T) {
	locks := server.NewHandler(server.NewServer(store.NewMemory()))
	gw := NewServer(":0", locks, "", nil)

	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeAndStop(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	gw := NewServer(lis.Addr().String(), server.NewHandler(server.NewServer(store.NewMemory())), "/metrics", nil)
	errCh := make(chan error, 1)
	go func() { errCh <- gw.Serve(context.Background(), lis) }()

	resp, err := http.Get("http://" + lis.Addr().String() + "/locks/x")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), "Not found."))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, gw.Stop(ctx))
	assert.NoError(t, <-errCh)
}
