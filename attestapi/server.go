// Package attestapi serves the attestation signing endpoint and provides the
// client the verification pipeline calls it with.
package attestapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/pilacorp/go-pop-sdk/attest"
	"github.com/pilacorp/go-pop-sdk/poperr"
)

const (
	AttestPath = "/pop-attest"
	HealthPath = "/health"

	maxBodyBytes = 64 << 10

	msgInternalServer = "Internal server error"
)

type ctxKey struct{}

// NewRequestID returns a fresh request identifier.
func NewRequestID() string { return "req_" + uuid.NewString() }

// RequestID returns the identifier assigned to the request carried by ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Server is the attestation HTTP service.
type Server struct {
	issuer *attest.Issuer
	logger *zap.Logger
	router chi.Router
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the request and error logger.
func WithServerLogger(l *zap.Logger) ServerOption {
	return func(s *Server) {
		s.logger = l
	}
}

// NewServer creates the service around issuer.
func NewServer(issuer *attest.Issuer, opts ...ServerOption) *Server {
	s := &Server{issuer: issuer, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(s.requestContext)
	r.Post(AttestPath, s.handleAttest)
	r.Get(HealthPath, s.handleHealth)
	s.router = r
	return s
}

// Handler returns the instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "pop-attester")
}

// requestContext assigns a request id, logs the request and turns panics
// into a 500 response.
func (s *Server) requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := NewRequestID()
		w.Header().Set("X-Request-Id", id)
		ctx := context.WithValue(r.Context(), ctxKey{}, id)
		start := time.Now()

		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("handler panic", zap.String("request_id", id), zap.Any("panic", rec))
				writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: msgInternalServer})
			}
			s.logger.Info("request",
				zap.String("request_id", id),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Duration("elapsed", time.Since(start)))
		}()

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) handleAttest(w http.ResponseWriter, r *http.Request) {
	log := s.logger.With(zap.String("request_id", RequestID(r.Context())))

	// An unreadable body is an unexpected failure, not a field violation.
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		log.Error("failed to read request body", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: msgInternalServer})
		return
	}
	req, err := decodeRequest(body)
	if err != nil {
		log.Error("failed to decode request body", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: msgInternalServer})
		return
	}

	payload, err := s.issuer.Issue(req)
	if err != nil {
		if errors.Is(err, poperr.ErrValidation) {
			log.Info("attestation request rejected", zap.String("reason", err.Error()))
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}
		log.Error("failed to issue attestation", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: msgInternalServer})
		return
	}

	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"attester": s.issuer.Attester(),
		"chainId":  s.issuer.ChainID(),
	})
}

// decodeRequest reads the three request fields leniently: a field of the
// wrong JSON type decodes to its zero value so that validation reports it
// with the field's own message. Only a body that is not a JSON object fails.
func decodeRequest(body []byte) (attest.Request, error) {
	var raw struct {
		EVMAddress      json.RawMessage `json:"evmAddress"`
		PolkadotAddress json.RawMessage `json:"polkadotAddress"`
		Tier            json.RawMessage `json:"tier"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return attest.Request{}, err
	}

	var req attest.Request
	_ = json.Unmarshal(raw.EVMAddress, &req.EVMAddress)
	_ = json.Unmarshal(raw.PolkadotAddress, &req.PolkadotAddress)
	req.Tier = decodeTier(raw.Tier)
	return req, nil
}

// decodeTier returns the tier if raw is an integral JSON number, else 0.
func decodeTier(raw json.RawMessage) int {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return 0
	}
	n, ok := v.(json.Number)
	if !ok {
		return 0
	}
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) || f < math.MinInt32 || f > math.MaxInt32 {
		return 0
	}
	return int(f)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
