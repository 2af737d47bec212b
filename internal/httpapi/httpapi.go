package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"stockscan/backend/internal/csvimport"
	"stockscan/backend/internal/domain"
	"stockscan/backend/internal/metrics"
	"stockscan/backend/internal/service"
	"stockscan/backend/internal/store"
)

const (
	maxJSONBody       = 4 << 20
	maxUploadBody     = 32 << 20
	maxTrackedClients = 4096
	managerPINHeader  = "X-Manager-PIN"
)

type Options struct {
	AllowedOrigins []string
	// TrustedProxies are the peers whose X-Forwarded-For and X-Real-IP headers are believed.
	TrustedProxies []netip.Prefix
	Metrics        *metrics.Metrics
	Logger         zerolog.Logger
	Now            func() time.Time
}

type API struct {
	service        *service.Service
	auth           *AuthManager
	metrics        *metrics.Metrics
	log            zerolog.Logger
	allowedOrigins []string
	trustedProxies []netip.Prefix
	validate       *validator.Validate
	loginLimiter   *attemptLimiter
	pinLimiter     *attemptLimiter
	now            func() time.Time
}

func New(svc *service.Service, auth *AuthManager, opts Options) *API {
	a := &API{
		service:        svc,
		auth:           auth,
		metrics:        opts.Metrics,
		log:            opts.Logger.With().Str("component", "http").Logger(),
		allowedOrigins: opts.AllowedOrigins,
		trustedProxies: opts.TrustedProxies,
		validate:       newValidator(),
		loginLimiter:   newAttemptLimiter(5, time.Minute),
		pinLimiter:     newAttemptLimiter(8, time.Minute),
		now:            opts.Now,
	}
	if a.now == nil {
		a.now = time.Now
	}
	return a
}

// attemptLimiter keeps one token bucket per client. Buckets refill max tokens per window.
type attemptLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	window  time.Duration
	clients map[string]*clientBucket
}

type clientBucket struct {
	limiter *rate.Limiter
	seen    time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{
		limit:   rate.Every(window / time.Duration(max)),
		burst:   max,
		window:  window,
		clients: make(map[string]*clientBucket),
	}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	bucket, ok := l.clients[key]
	if !ok {
		if len(l.clients) >= maxTrackedClients {
			l.sweepLocked(now)
		}
		bucket = &clientBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = bucket
	}
	bucket.seen = now
	return bucket.limiter.AllowN(now, 1)
}

// sweepLocked forgets clients idle for a full window; their buckets are full again by then.
func (l *attemptLimiter) sweepLocked(now time.Time) {
	for key, bucket := range l.clients {
		if now.Sub(bucket.seen) > l.window {
			delete(l.clients, key)
		}
	}
}

// ParseTrustedProxies accepts bare addresses and CIDR prefixes.
func ParseTrustedProxies(values []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if strings.Contains(value, "/") {
			prefix, err := netip.ParsePrefix(value)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", value, err)
			}
			out = append(out, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(value)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", value, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

func (a *API) trusted(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, prefix := range a.trustedProxies {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// realIP rewrites RemoteAddr from forwarding headers, but only when the peer
// is a trusted proxy. X-Forwarded-For is walked from the right and the first
// address that is not itself a trusted proxy wins.
func (a *API) realIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(a.trustedProxies) > 0 {
			if peer, err := netip.ParseAddr(clientKey(r)); err == nil && a.trusted(peer) {
				if client, ok := a.forwardedClient(r); ok {
					r.RemoteAddr = client.String()
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) forwardedClient(r *http.Request) (netip.Addr, bool) {
	hops := strings.Split(strings.Join(r.Header.Values("X-Forwarded-For"), ","), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		addr, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
		if err != nil {
			break
		}
		if !a.trusted(addr) {
			return addr.Unmap(), true
		}
	}
	if addr, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
		return addr.Unmap(), true
	}
	return netip.Addr{}, false
}

// clientKey is the host part of RemoteAddr; limiters key on it.
func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 && !strings.Contains(host[:idx], ":") {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(a.realIP)
	r.Use(a.observe)
	r.Use(middleware.Recoverer)
	r.Use(a.corsHandler().Handler)
	r.Use(securityHeaders)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		a.writeError(w, r, http.StatusNotFound, errors.New("route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		a.writeError(w, r, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	})

	r.Get("/healthz", a.handleHealth)
	if a.metrics != nil {
		r.Method(http.MethodGet, "/metrics", a.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", a.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth(domain.RoleOperator, domain.RoleAdmin))

			r.Get("/products", a.handleListProducts)
			r.Post("/scans", a.handleRecordScan)
			r.Get("/scans/validate", a.handleValidateScan)
			r.Get("/scans/recent", a.handleRecentScans)
			r.Get("/stock/{barcode}", a.handleStockLevel)
			r.Get("/reports/stock", a.handleStockReport)
			r.Get("/reports/stock/export", a.handleStockExport)
		})

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth(domain.RoleAdmin))

			r.Post("/products", a.handleCreateProduct)
			r.Put("/products/{id}", a.handleUpdateProduct)
			r.Post("/imports/sessions", a.handleStartImport)
			r.Get("/imports/sessions/{id}", a.handleImportProgress)
			r.Post("/imports/{kind}", a.handleImport)
			r.Get("/users/operators", a.handleListOperators)
			r.Post("/users/operators", a.handleCreateOperator)

			r.Group(func(r chi.Router) {
				r.Use(a.requirePIN)

				r.Delete("/products", a.handleClearAll)
				r.Delete("/scans", a.handleClearScans)
				r.Post("/maintenance/fix-export-errors", a.handleFixExportErrors)
			})
		})
	})

	return r
}

func (a *API) corsHandler() *cors.Cors {
	return cors.New(cors.Options{
		AllowedOrigins:   a.allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", managerPINHeader},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: false,
		MaxAge:           300,
	})
}

// observe logs every request and feeds the HTTP metrics, labelled by route pattern.
func (a *API) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startedAt := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		elapsed := time.Since(startedAt)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := routePattern(r)
		a.metrics.ObserveHTTP(r.Method, route, status, elapsed)

		event := a.log.Info()
		if status >= http.StatusInternalServerError {
			event = a.log.Error()
		}
		event.Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("route", route).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", elapsed).
			Msg("request")
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		next.ServeHTTP(w, r)
	})
}

func (a *API) requireAuth(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authorization := strings.TrimSpace(r.Header.Get("Authorization"))
			if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
				a.writeError(w, r, http.StatusUnauthorized, errors.New("missing bearer token"))
				return
			}

			token := strings.TrimSpace(authorization[len("Bearer "):])
			actor, err := a.auth.ParseToken(token)
			if err != nil {
				a.writeError(w, r, http.StatusUnauthorized, err)
				return
			}

			if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
				a.writeError(w, r, http.StatusForbidden, errors.New("forbidden role"))
				return
			}

			next.ServeHTTP(w, r.WithContext(service.WithActor(r.Context(), actor)))
		})
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

// requirePIN guards destructive operations with the manager PIN header.
func (a *API) requirePIN(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.pinLimiter.Allow(clientKey(r)) {
			a.writeError(w, r, http.StatusTooManyRequests, errors.New("too many PIN attempts"))
			return
		}
		if !a.auth.ValidateManagerPIN(r.Header.Get(managerPINHeader)) {
			actor, _ := service.ActorFromContext(r.Context())
			a.log.Warn().Str("actor", actor.Username).Str("path", r.URL.Path).Msg("manager PIN rejected")
			a.writeError(w, r, http.StatusForbidden, errors.New("invalid manager PIN"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

type result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func ok(message string) result {
	return result{Success: true, Message: message}
}

type envelope map[string]any

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (a *API) decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("request body exceeds %d bytes: %w", maxErr.Limit, store.ErrInvalidInput)
		}
		return fmt.Errorf("invalid request body: %v: %w", err, store.ErrInvalidInput)
	}
	if err := a.validate.Struct(dest); err != nil {
		return fmt.Errorf("%s: %w", describeValidation(err), store.ErrInvalidInput)
	}
	return nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s is %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

func parsePositiveInt(raw string, fallback int) int {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fallback
	}
	if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
		return parsed
	}
	return fallback
}

func productQuery(r *http.Request) domain.ProductQuery {
	values := r.URL.Query()
	return domain.ProductQuery{
		Page:     parsePositiveInt(values.Get("page"), 1),
		PageSize: parsePositiveInt(values.Get("page_size"), 0),
		Query:    values.Get("q"),
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, store.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrDuplicateSystemID), errors.Is(err, store.ErrDuplicateBarcode):
		return http.StatusConflict
	case errors.Is(err, store.ErrInsufficientStock),
		errors.Is(err, store.ErrNoBarcodesFound),
		errors.Is(err, store.ErrMissingOptionalColumn):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// fail maps err onto its status and adds the structured details of typed errors.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	details := envelope{}

	var dup *store.DuplicateBarcodeError
	if errors.As(err, &dup) {
		details["barcodes"] = dup.Barcodes
	}
	var insufficient *store.InsufficientStockError
	if errors.As(err, &insufficient) {
		details["barcode"] = insufficient.Barcode
		details["available"] = insufficient.Available
		details["requested"] = insufficient.Requested
	}
	var headerErr *csvimport.HeaderError
	if errors.As(err, &headerErr) {
		details["column"] = headerErr.Column
	}
	var chunkErr *service.ChunkError
	if errors.As(err, &chunkErr) {
		details["failed_chunk"] = chunkErr.Index + 1
		details["committed"] = chunkErr.Committed
	}

	a.writeErrorDetails(w, r, status, err, details)
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	a.writeErrorDetails(w, r, status, err, nil)
}

func (a *API) writeErrorDetails(w http.ResponseWriter, r *http.Request, status int, err error, details envelope) {
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		a.log.Error().Err(err).Str("request_id", middleware.GetReqID(r.Context())).Int("status", status).Msg("request failed")
		msg = "internal server error"
		if chunk, ok := details["failed_chunk"]; ok {
			msg = fmt.Sprintf("import stopped at chunk %v; earlier chunks are committed", chunk)
		}
	}
	payload := envelope{"success": false, "message": msg}
	for key, value := range details {
		payload[key] = value
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
