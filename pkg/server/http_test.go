package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metaparticle-io/container-lib/pkg/metrics"
	"github.com/metaparticle-io/container-lib/pkg/types"
)

func do(t *testing.T, h http.Handler, method, path, owner, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if owner != "" {
		req.Header.Set(types.OwnerHeader, owner)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeObject(t *testing.T, rec *httptest.ResponseRecorder) *types.Object {
	t.Helper()

	var obj types.Object
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &obj), rec.Body.String())
	return &obj
}

func decodeMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()

	var msg types.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg), rec.Body.String())
	return msg.Message
}

func TestHandlerProtocol(t *testing.T) {
	srv, clk, _ := newTestServer()
	h := NewHandler(srv)

	rec := do(t, h, http.MethodGet, "/locks/x", "A", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Not found.", decodeMessage(t, rec))

	rec = do(t, h, http.MethodPut, "/locks/x", "A", "")
	require.Equal(t, http.StatusOK, rec.Code)
	obj := decodeObject(t, rec)
	assert.Equal(t, types.Kind, obj.Kind)
	assert.Equal(t, types.APIVersion, obj.APIVersion)
	assert.Equal(t, "x", obj.Metadata.Name)
	assert.Equal(t, types.DefaultNamespace, obj.Metadata.Namespace)
	assert.Equal(t, "1", obj.Metadata.ResourceVersion)
	assert.Equal(t, "A", obj.Spec.Owner)
	assert.Equal(t, "2024-03-05T08:00:30.000Z", obj.Spec.Expiry)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	rec = do(t, h, http.MethodGet, "/locks/x", "B", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "A", decodeObject(t, rec).Spec.Owner)

	// rejected renewal answers 409 with the current lease
	clk.Advance(5 * time.Second)
	rec = do(t, h, http.MethodPut, "/locks/x", "B", "")
	require.Equal(t, http.StatusConflict, rec.Code)
	obj = decodeObject(t, rec)
	assert.Equal(t, "A", obj.Spec.Owner)
	assert.Equal(t, "1", obj.Metadata.ResourceVersion)

	// heartbeat is 200 with the unchanged lease
	rec = do(t, h, http.MethodPut, "/locks/x", "A", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", decodeObject(t, rec).Metadata.ResourceVersion)

	// takeover after expiry
	clk.Advance(30 * time.Second)
	rec = do(t, h, http.MethodPut, "/locks/x", "B", "")
	require.Equal(t, http.StatusOK, rec.Code)
	obj = decodeObject(t, rec)
	assert.Equal(t, "B", obj.Spec.Owner)
	assert.Equal(t, "2", obj.Metadata.ResourceVersion)
}

func TestHandlerPost(t *testing.T) {
	srv, _, _ := newTestServer()
	h := NewHandler(srv)

	body := `{"kind":"Lock","metadata":{"name":"y"},"spec":{"owner":"ignored"}}`

	rec := do(t, h, http.MethodPost, "/locks", "A", body)
	require.Equal(t, http.StatusOK, rec.Code)
	obj := decodeObject(t, rec)
	assert.Equal(t, "y", obj.Metadata.Name)
	assert.Equal(t, "A", obj.Spec.Owner, "owner comes from the requester, not the body")

	rec = do(t, h, http.MethodPost, "/locks", "A", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "Conflict", decodeMessage(t, rec))

	// name from the path works too
	rec = do(t, h, http.MethodPost, "/locks/z", "A", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandlerPaths(t *testing.T) {
	srv, _, _ := newTestServer()
	h := NewHandler(srv)

	tests := []struct {
		method string
		path   string
		body   string
		code   int
		msg    string
	}{
		{http.MethodGet, "/", "", http.StatusNotFound, "Unknown path: /"},
		{http.MethodGet, "/other/x", "", http.StatusNotFound, "Unknown path: /other/x"},
		{http.MethodGet, "/locks/a/b", "", http.StatusTooManyRequests, "Bad path: /locks/a/b"},
		{http.MethodPut, "/locks/a/b/c", "", http.StatusTooManyRequests, "Bad path: /locks/a/b/c"},
		{http.MethodPost, "/locks", "not json", http.StatusTooManyRequests, ""},
		{http.MethodPost, "/locks/", `{"metadata":{}}`, http.StatusTooManyRequests, "Bad request body: metadata.name is required"},
		{http.MethodDelete, "/locks/x", "", http.StatusMethodNotAllowed, "Method not allowed: DELETE"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s %s", tt.method, tt.path), func(t *testing.T) {
			rec := do(t, h, tt.method, tt.path, "A", tt.body)
			assert.Equal(t, tt.code, rec.Code)

			msg := decodeMessage(t, rec)
			if tt.msg != "" {
				assert.Equal(t, tt.msg, msg)
			} else {
				assert.True(t, strings.HasPrefix(msg, "Bad request body: "), msg)
			}
		})
	}
}

func TestHandlerTrailingSlash(t *testing.T) {
	srv, _, _ := newTestServer()
	h := NewHandler(srv)

	rec := do(t, h, http.MethodPut, "/locks/x/", "A", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "x", decodeObject(t, rec).Metadata.Name)
}

func TestHandlerStoreErrors(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("%w: leader is %q", types.ErrNotLeader, "10.0.0.2:7000"), http.StatusServiceUnavailable},
		{fmt.Errorf("dial: connection refused"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			h := NewHandler(NewServer(failingStore{err: tt.err}))

			rec := do(t, h, http.MethodGet, "/locks/x", "A", "")
			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, tt.err.Error(), decodeMessage(t, rec))
		})
	}
}

func TestToHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusOK, toHTTPStatus(nil))
	assert.Equal(t, http.StatusNotFound, toHTTPStatus(types.ErrNotFound))
	assert.Equal(t, http.StatusConflict, toHTTPStatus(types.ErrConflict))
	assert.Equal(t, http.StatusConflict, toHTTPStatus(types.ErrLeaseHeld))
	assert.Equal(t, http.StatusConflict, toHTTPStatus(fmt.Errorf("wrapped: %w", types.ErrConflict)))
	assert.Equal(t, http.StatusTooManyRequests, toHTTPStatus(types.ErrMalformed))
	assert.Equal(t, http.StatusServiceUnavailable, toHTTPStatus(types.ErrNotLeader))
}

func TestRequestMetricsMethodLabel(t *testing.T) {
	srv, _, _ := newTestServer()
	h := NewHandler(srv)

	other := metrics.RequestTotal.WithLabelValues("other", "405")
	before := testutil.ToFloat64(other)

	for _, method := range []string{"BREW", "DELETE", "X-RANDOM-1"} {
		rec := do(t, h, method, "/locks/x", "a", "")
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	}
	assert.Equal(t, before+3, testutil.ToFloat64(other))

	//raw methods never become label values
	gathered, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range gathered {
		if mf.GetName() != "elector_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "method" {
					assert.Contains(t, []string{"GET", "POST", "PUT", "other"}, lp.GetValue())
				}
			}
		}
	}
}
