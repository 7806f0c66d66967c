package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/ComputerNetworks-UFRGS/Aurora"
	"github.com/ComputerNetworks-UFRGS/Aurora/internal/metrics"
	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/jobqueue"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/justinas/alice"
	"github.com/pborman/uuid"
	log "github.com/sirupsen/logrus"
)

type ctxKey int

const (
	storeKey ctxKey = iota
	jobQueueKey
)

type (
	// JobQueue is the part of the job queue client the API needs
	JobQueue interface {
		NewJob() *jobqueue.Job
		Job(string) (*jobqueue.Job, error)
		AddTask(*jobqueue.Job) (uint64, error)
	}

	// HTTPResponse is a wrapper for http.ResponseWriter which provides access
	// to several convenience methods
	HTTPResponse struct {
		http.ResponseWriter
	}

	// HTTPError contains information for http error responses
	HTTPError struct {
		Message string   `json:"message"`
		Code    int      `json:"code"`
		Stack   []string `json:"stack"`
	}
)

// NewServer creates the API server listening on addr
func NewServer(addr string, ctx *aurora.Context, jobQueue JobQueue, m *metrics.Metrics) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           Handler(ctx, jobQueue, m),
		MaxHeaderBytes:    1 << 20,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Handler builds the API router with its middleware
func Handler(ctx *aurora.Context, jobQueue JobQueue, m *metrics.Metrics) http.Handler {
	router := mux.NewRouter()
	router.StrictSlash(true)

	commonMiddleware := alice.New(
		func(h http.Handler) http.Handler {
			return handlers.CombinedLoggingHandler(log.StandardLogger().Writer(), h)
		},
		handlers.CompressHandler,
		handlers.RecoveryHandler(handlers.PrintRecoveryStack(true), handlers.RecoveryLogger(log.StandardLogger())),
		func(h http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				rctx := context.WithValue(r.Context(), storeKey, ctx)
				rctx = context.WithValue(rctx, jobQueueKey, jobQueue)
				h.ServeHTTP(w, r.WithContext(rctx))
			})
		},
	)

	RegisterSliceRoutes("/slices", router, m)
	RegisterVirtualMachineRoutes("/vms", router, m)
	RegisterHostRoutes("/hosts", router, m)
	RegisterControllerRoutes("/controllers", router, m)
	RegisterJobRoutes("/jobs", router, m)

	router.Handle("/metrics", m.Handler())

	return commonMiddleware.Then(router)
}

// JSON writes appropriate headers and JSON body to the http response
func (hr *HTTPResponse) JSON(code int, obj interface{}) {
	hr.Header().Set("Content-Type", "application/json")
	hr.WriteHeader(code)
	encoder := json.NewEncoder(hr)
	if err := encoder.Encode(obj); err != nil {
		log.WithField("error", err).Error("failed to encode response")
	}
}

// JSONError prepares an HTTPError with a stack trace and writes it with
// HTTPResponse.JSON
func (hr *HTTPResponse) JSONError(code int, err error) {
	httpError := &HTTPError{
		Message: err.Error(),
		Code:    code,
		Stack:   make([]string, 0, 4),
	}
	for i := 1; ; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		httpError.Stack = append(httpError.Stack, fmt.Sprintf("%s:%d (0x%x)", file, line, pc))
	}
	hr.JSON(code, httpError)
}

// JSONMsg is a convenience method to write a JSON response with just a message
// string
func (hr *HTTPResponse) JSONMsg(code int, msg string) {
	hr.JSON(code, map[string]interface{}{
		"message": msg,
		"code":    code,
	})
}

// GetContext retrieves the aurora.Context of a request
func GetContext(r *http.Request) *aurora.Context {
	if value, ok := r.Context().Value(storeKey).(*aurora.Context); ok {
		return value
	}
	return nil
}

// GetJobQueue retrieves the job queue of a request
func GetJobQueue(r *http.Request) JobQueue {
	if value, ok := r.Context().Value(jobQueueKey).(JobQueue); ok {
		return value
	}
	return nil
}

// decode reads a JSON body into v
func decode(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// notFound writes a 404 for key-not-found errors and a 500 otherwise
func notFound(hr HTTPResponse, ctx *aurora.Context, what string, err error) {
	if ctx.IsKeyNotFound(err) {
		hr.JSONMsg(http.StatusNotFound, what+" not found")
		return
	}
	hr.JSONError(http.StatusInternalServerError, err)
}

// instrument wraps f with request metrics under key
func instrument(m *metrics.Metrics, key string, f http.HandlerFunc) http.Handler {
	return m.Middleware(key)(f)
}

// validID writes a 400 when id is not a valid id
func validID(hr HTTPResponse, id string) bool {
	if uuid.Parse(id) == nil {
		hr.JSONMsg(http.StatusBadRequest, "invalid id")
		return false
	}
	return true
}
