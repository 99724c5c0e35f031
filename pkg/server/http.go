package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/metaparticle-io/container-lib/pkg/metrics"
	"github.com/metaparticle-io/container-lib/pkg/types"
)

const (
	pathPrefix = "/locks"

	// lock objects are tiny, anything larger is not a lock
	maxBodyBytes = 64 << 10
)

// serves the lock protocol under /locks
type Handler struct {
	srv    *Server
	logger hclog.Logger
}

type HandlerOption func(*Handler)

func WithHandlerLogger(l hclog.Logger) HandlerOption {
	return func(h *Handler) { h.logger = l }
}

func NewHandler(srv *Server, opts ...HandlerOption) *Handler {
	h := &Handler{
		srv:    srv,
		logger: hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	code := h.serve(w, r)

	method := methodLabel(r.Method)
	metrics.RequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	metrics.RequestTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
}

// keeps the method label bounded, clients can send any token
func methodLabel(method string) string {
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut:
		return method
	default:
		return "other"
	}
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request) int {
	path := r.URL.Path
	if !strings.HasPrefix(path, pathPrefix) {
		return h.writeMessage(w, http.StatusNotFound, "Unknown path: "+path)
	}

	name, code, msg := h.lockName(w, r)
	if code != 0 {
		return h.writeMessage(w, code, msg)
	}

	ctx := r.Context()
	requester := r.Header.Get(types.OwnerHeader)
	h.logger.Debug("lock request", "method", r.Method, "name", name, "requester", requester)

	var (
		lease *types.Lease
		err   error
	)
	switch r.Method {
	case http.MethodGet:
		lease, err = h.srv.Get(ctx, name)
	case http.MethodPost:
		lease, err = h.srv.Create(ctx, name, requester)
	case http.MethodPut:
		lease, err = h.srv.Renew(ctx, name, requester)
	default:
		w.Header().Set("Allow", "GET, POST, PUT")
		return h.writeMessage(w, http.StatusMethodNotAllowed, "Method not allowed: "+r.Method)
	}

	if err != nil {
		code := toHTTPStatus(err)
		//a rejected renewal still tells the caller who holds the lock
		if errors.Is(err, types.ErrLeaseHeld) && lease != nil {
			return h.writeJSON(w, code, types.ToObject(lease))
		}
		if code == http.StatusInternalServerError {
			h.logger.Error("lock request failed", "method", r.Method, "name", name, "error", err)
		}
		return h.writeMessage(w, code, errorMessage(err))
	}

	return h.writeJSON(w, http.StatusOK, types.ToObject(lease))
}

// resolves the lock name from /locks/{name} or, for /locks, from the body
// a non-zero code means the request was answered with that error
func (h *Handler) lockName(w http.ResponseWriter, r *http.Request) (string, int, string) {
	parts := splitPath(r.URL.Path)
	switch len(parts) {
	case 2:
		var obj types.Object
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&obj); err != nil {
			return "", toHTTPStatus(types.ErrMalformed), fmt.Sprintf("Bad request body: %v", err)
		}
		if obj.Metadata.Name == "" {
			return "", toHTTPStatus(types.ErrMalformed), "Bad request body: metadata.name is required"
		}
		return obj.Metadata.Name, 0, ""
	case 3:
		return parts[2], 0, ""
	default:
		return "", toHTTPStatus(types.ErrMalformed), "Bad path: " + r.URL.Path
	}
}

// splits on '/' dropping trailing empty segments, so "/locks/" counts like "/locks"
func splitPath(path string) []string {
	parts := strings.Split(path, "/")
	for len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return parts
}

func (h *Handler) writeMessage(w http.ResponseWriter, code int, msg string) int {
	return h.writeJSON(w, code, types.Message{Message: msg})
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, v any) int {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("failed to write response", "error", err)
	}
	return code
}
