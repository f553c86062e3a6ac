package console

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/jola2802/iot-gateway-sub000/internal/auth"
	"github.com/jola2802/iot-gateway-sub000/internal/capture"
	"github.com/jola2802/iot-gateway-sub000/internal/imagestore"
	"github.com/jola2802/iot-gateway-sub000/internal/metrics"
	"github.com/jola2802/iot-gateway-sub000/internal/model"
	"github.com/jola2802/iot-gateway-sub000/internal/store"
)

// maxBodySize omezuje JSON těla požadavků (snímky v base64 jsou největší).
const maxBodySize = 32 << 20

// StatusFor mapuje chybu na HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrNoSession):
		return http.StatusUnauthorized
	case errors.Is(err, store.ErrNotFound), errors.Is(err, imagestore.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict), errors.Is(err, capture.ErrAlreadyRunning), errors.Is(err, capture.ErrNotRunning):
		return http.StatusConflict
	case errors.Is(err, capture.ErrTimeout):
		return http.StatusRequestTimeout
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError odpoví textovou chybou. Interní chyby se logují a klient dostane obecnou zprávu.
func (h *APIHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := StatusFor(err)
	if code == http.StatusInternalServerError {
		h.logger.Error("Chyba při obsluze požadavku", "method", r.Method, "path", r.URL.Path, "error", err)
		http.Error(w, "Interní chyba serveru", code)
		return
	}
	http.Error(w, err.Error(), code)
}

func (h *APIHandler) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Chyba při zápisu JSON odpovědi", "error", err)
	}
}

// decode načte JSON tělo. Chybný JSON je model.ErrInvalid.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, model.ErrInvalid) {
			return err
		}
		return fmt.Errorf("%w: chybný JSON: %v", model.ErrInvalid, err)
	}
	return nil
}

// pathID čte číselný parametr cesty.
func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("%w: neplatné ID %q", model.ErrInvalid, r.PathValue(name))
	}
	return id, nil
}

// CorsMiddleware povolí volání konzole z jiného originu.
func CorsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		} else {
			// Kvůli session cookie musí origin odpovídat, "*" s credentials prohlížeč odmítne.
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Unwrap zpřístupní původní writer pro http.ResponseController.
func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// Hijack je potřeba pro upgrade na WebSocket.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("writer nepodporuje hijack")
	}
	s.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// LoggingMiddleware loguje každý požadavek a zapisuje metriky podle vzoru routy.
func LoggingMiddleware(logger *slog.Logger, m *metrics.Metrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(start)
		m.ObserveHTTP(r.Method, route, rec.status, elapsed)
		logger.Debug("HTTP požadavek", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", elapsed)
	})
}
