package httpx

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/PumpeDie/teamup/internal/directory"
	"github.com/PumpeDie/teamup/internal/service/agenda"
	authsvc "github.com/PumpeDie/teamup/internal/service/auth"
	"github.com/PumpeDie/teamup/internal/service/chat"
	"github.com/PumpeDie/teamup/internal/service/document"
	"github.com/PumpeDie/teamup/internal/service/task"
	"github.com/PumpeDie/teamup/internal/service/team"
)

// Services groups the application services the router exposes.
type Services struct {
	Auth      authsvc.Service
	Teams     team.Service
	Chat      chat.Service
	Tasks     task.Service
	Agenda    agenda.Service
	Documents document.Service
	Profiles  directory.Updater
}

// Options tunes optional router behaviour.
type Options struct {
	// Health reports whether the backing store is reachable.
	Health func(context.Context) error
	// Registry receives request metrics and is served on /metrics.
	Registry *prometheus.Registry
	// Heartbeat is the keep-alive interval on watch connections.
	Heartbeat time.Duration
}

// Router wires HTTP endpoints to services.
type Router struct {
	mux       *http.ServeMux
	logger    *slog.Logger
	auth      authsvc.Service
	teams     team.Service
	chat      chat.Service
	tasks     task.Service
	agenda    agenda.Service
	documents document.Service
	profiles  directory.Updater
	upgrader  websocket.Upgrader
	limiter   RateLimiter
	health    func(context.Context) error
	heartbeat time.Duration

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
}

const (
	rateWindowDefault  = time.Minute
	rateWindowRealtime = 30 * time.Second
	rateLimitUserWrite = 60
	rateLimitUserRead  = 240
	rateLimitUpload    = 20
	rateLimitWatch     = 30
	healthCheckTimeout = 2 * time.Second
)

// NewRouter assembles routes with dependencies. A nil limiter means an in
// memory one.
func NewRouter(logger *slog.Logger, svcs Services, limiter RateLimiter, opts Options) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		mux:       http.NewServeMux(),
		logger:    logger,
		auth:      svcs.Auth,
		teams:     svcs.Teams,
		chat:      svcs.Chat,
		tasks:     svcs.Tasks,
		agenda:    svcs.Agenda,
		documents: svcs.Documents,
		profiles:  svcs.Profiles,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:   limiter,
		health:    opts.Health,
		heartbeat: opts.Heartbeat,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter(nil)
	}
	if opts.Registry != nil {
		r.initMetrics(opts.Registry)
		r.mux.Handle("GET /metrics", promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{}))
	}
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

// route registers an authenticated, rate limited handler. The pattern is
// also the metrics label.
func (r *Router) route(pattern string, limit int, window time.Duration, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, r.audit(pattern, r.handlerAuthRate(pattern, limit, window, h)))
}

func (r *Router) register() {
	r.mux.HandleFunc("GET /healthz", r.audit("GET /healthz", r.handleHealthz))

	r.route("PUT /me/profile", rateLimitUserWrite, rateWindowDefault, r.handleUpdateProfile)
	r.route("GET /me/team", rateLimitUserRead, rateWindowDefault, r.handleMyTeam)

	r.route("POST /teams", rateLimitUserWrite, rateWindowDefault, r.handleCreateTeam)
	r.route("GET /teams/{teamID}", rateLimitUserRead, rateWindowDefault, r.handleGetTeam)
	r.route("PATCH /teams/{teamID}", rateLimitUserWrite, rateWindowDefault, r.handleRenameTeam)
	r.route("DELETE /teams/{teamID}", rateLimitUserWrite, rateWindowDefault, r.handleDeleteTeam)
	r.route("POST /teams/{teamID}/join", rateLimitUserWrite, rateWindowDefault, r.handleJoinTeam)
	r.route("POST /teams/{teamID}/leave", rateLimitUserWrite, rateWindowDefault, r.handleLeaveTeam)
	r.route("GET /teams/{teamID}/members", rateLimitUserRead, rateWindowDefault, r.handleMembers)
	r.route("DELETE /teams/{teamID}/members/{userID}", rateLimitUserWrite, rateWindowDefault, r.handleRemoveMember)
	r.route("PUT /teams/{teamID}/admins/{userID}", rateLimitUserWrite, rateWindowDefault, r.handlePromote)
	r.route("DELETE /teams/{teamID}/admins/{userID}", rateLimitUserWrite, rateWindowDefault, r.handleDemote)
	r.route("GET /teams/{teamID}/role", rateLimitUserRead, rateWindowDefault, r.handleRole)
	r.route("GET /teams/{teamID}/watch", rateLimitWatch, rateWindowRealtime, r.handleWatchTeam)

	r.route("GET /teams/{teamID}/rooms", rateLimitUserRead, rateWindowDefault, r.handleRooms)
	r.route("POST /teams/{teamID}/rooms", rateLimitUserWrite, rateWindowDefault, r.handleCreateRoom)
	r.route("DELETE /teams/{teamID}/rooms/{roomID}", rateLimitUserWrite, rateWindowDefault, r.handleDeleteRoom)
	r.route("GET /teams/{teamID}/rooms/watch", rateLimitWatch, rateWindowRealtime, r.handleWatchRooms)
	r.route("POST /teams/{teamID}/rooms/{roomID}/messages", rateLimitUserWrite, rateWindowDefault, r.handleSendMessage)
	r.route("DELETE /teams/{teamID}/rooms/{roomID}/messages/{messageID}", rateLimitUserWrite, rateWindowDefault, r.handleDeleteMessage)
	r.route("GET /teams/{teamID}/rooms/{roomID}/messages/watch", rateLimitWatch, rateWindowRealtime, r.handleWatchMessages)

	r.route("GET /teams/{teamID}/tasks", rateLimitUserRead, rateWindowDefault, r.handleTasks)
	r.route("POST /teams/{teamID}/tasks", rateLimitUserWrite, rateWindowDefault, r.handleCreateTask)
	r.route("PATCH /teams/{teamID}/tasks/{taskID}", rateLimitUserWrite, rateWindowDefault, r.handleUpdateTask)
	r.route("POST /teams/{teamID}/tasks/{taskID}/toggle", rateLimitUserWrite, rateWindowDefault, r.handleToggleTask)
	r.route("PUT /teams/{teamID}/tasks/{taskID}/assignee", rateLimitUserWrite, rateWindowDefault, r.handleAssignTask)
	r.route("DELETE /teams/{teamID}/tasks/{taskID}", rateLimitUserWrite, rateWindowDefault, r.handleDeleteTask)
	r.route("GET /teams/{teamID}/tasks/watch", rateLimitWatch, rateWindowRealtime, r.handleWatchTasks)

	r.route("GET /teams/{teamID}/events", rateLimitUserRead, rateWindowDefault, r.handleEvents)
	r.route("POST /teams/{teamID}/events", rateLimitUserWrite, rateWindowDefault, r.handleCreateEvent)
	r.route("POST /teams/{teamID}/meetings", rateLimitUserWrite, rateWindowDefault, r.handlePlanMeeting)
	r.route("PUT /teams/{teamID}/events/{eventID}", rateLimitUserWrite, rateWindowDefault, r.handleUpdateEvent)
	r.route("DELETE /teams/{teamID}/events/{eventID}", rateLimitUserWrite, rateWindowDefault, r.handleDeleteEvent)
	r.route("GET /teams/{teamID}/events/watch", rateLimitWatch, rateWindowRealtime, r.handleWatchEvents)

	r.route("GET /teams/{teamID}/documents", rateLimitUserRead, rateWindowDefault, r.handleDocuments)
	r.route("POST /teams/{teamID}/documents", rateLimitUpload, rateWindowDefault, r.handleUploadDocument)
	r.route("DELETE /teams/{teamID}/documents/{documentID}", rateLimitUserWrite, rateWindowDefault, r.handleDeleteDocument)
	r.route("GET /teams/{teamID}/documents/watch", rateLimitWatch, rateWindowRealtime, r.handleWatchDocuments)
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	components := make(map[string]any)
	status := "ok"
	if r.health != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.health(ctx); err != nil {
			status = "degraded"
			components["store"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["store"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func (r *Router) handleUpdateProfile(w http.ResponseWriter, req *http.Request) {
	var payload struct {
		Name string `json:"name"`
	}
	if !decodeBody(w, req, &payload) {
		return
	}
	if r.profiles == nil {
		writeError(w, http.StatusNotImplemented, "profiles are read only")
		return
	}
	info, _ := authInfoFromContext(req.Context())
	if err := r.profiles.SetDisplayName(req.Context(), info.UserID, payload.Name); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"userId": info.UserID, "username": strings.TrimSpace(payload.Name)})
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, route, status, duration)

		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if info, ok := authInfoFromContext(ctx); ok {
			fields = append(fields, "user_id", info.UserID)
		}

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets websocket upgrades through the recorder. A hijacked
// connection is logged with status 101.
func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := sr.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijacker not supported")
	}
	conn, rw, err := h.Hijack()
	if err == nil {
		sr.status = http.StatusSwitchingProtocols
	}
	return conn, rw, err
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) applyRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	if limit <= 0 {
		return
	}
	remaining := max(limit-decision.count, 0)
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !decision.windowEnd.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
	}
}

// handlerAuthRate authenticates first so limits are counted per user.
func (r *Router) handlerAuthRate(route string, limit int, window time.Duration, next http.HandlerFunc) http.HandlerFunc {
	return r.requireAuth(r.withRateLimit(route, limit, window, r.rateLimitKeyUser, next))
}
