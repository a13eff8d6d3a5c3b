package app

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"agileflow/api/internal/lifecycle"
	"agileflow/api/internal/ratelimit"
	"agileflow/api/internal/rbac"
	"agileflow/api/internal/realtime"
	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

type HTTPServer struct {
	service        *Service
	corsOrigins    []string
	stream         http.Handler
	limiter        *ratelimit.Limiter
	trustedProxies []string
}

type ServerOption func(*HTTPServer)

// WithStream mounts the realtime change feed at /api/realtime.
func WithStream(stream http.Handler) ServerOption {
	return func(s *HTTPServer) { s.stream = stream }
}

// WithRateLimit applies l to every /api route. Clients are keyed by peer
// address, or by X-Forwarded-For when the peer is in trustedProxies.
func WithRateLimit(l *ratelimit.Limiter, trustedProxies []string) ServerOption {
	return func(s *HTTPServer) {
		s.limiter = l
		s.trustedProxies = trustedProxies
	}
}

func NewHTTPServer(service *Service, corsOrigins []string, opts ...ServerOption) *HTTPServer {
	s := &HTTPServer{service: service, corsOrigins: corsOrigins}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *HTTPServer) Handler() http.Handler {
	cors := handlers.CORS(
		handlers.AllowedOrigins(s.corsOrigins),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization", "X-Request-ID"}),
		handlers.ExposedHeaders([]string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"}),
		handlers.AllowCredentials(),
		handlers.MaxAge(86400),
	)
	return s.withMiddleware(cors(s.routes()))
}

func (s *HTTPServer) routes() *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, codeNotFound, "Route not found", nil)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet, http.MethodHead)

	api := r.PathPrefix("/api").Subrouter()
	if s.limiter != nil {
		api.Use(ratelimit.Middleware(s.limiter, s.trustedProxies))
	}
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet, http.MethodHead)
	api.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet, http.MethodHead)
	api.HandleFunc("/auth/register", s.handleRegister).Methods(http.MethodPost)
	api.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)
	api.HandleFunc("/auth/refresh", s.handleRefresh).Methods(http.MethodPost)
	api.HandleFunc("/auth/me", s.handleMe).Methods(http.MethodGet)
	api.HandleFunc("/auth/logout", s.handleLogout).Methods(http.MethodPost)
	if s.stream != nil {
		api.Handle("/realtime", s.stream).Methods(http.MethodGet)
	}

	authed := api.NewRoute().Subrouter()
	authed.Use(s.requireActor)

	authed.HandleFunc("/users", s.handleListUsers).Methods(http.MethodGet)
	authed.HandleFunc("/users", s.handleCreateUser).Methods(http.MethodPost)
	authed.HandleFunc("/users/status/online", s.handleOnlineStatus).Methods(http.MethodPatch, http.MethodPut)
	authed.HandleFunc("/users/role/{role}", s.handleUsersByRole).Methods(http.MethodGet)
	authed.HandleFunc("/users/{id}", s.handleGetUser).Methods(http.MethodGet)
	authed.HandleFunc("/users/{id}", s.handleUpdateUser).Methods(http.MethodPut, http.MethodPatch)
	authed.HandleFunc("/users/{id}", s.handleDeleteUser).Methods(http.MethodDelete)

	authed.HandleFunc("/tasks", s.handleListTasks).Methods(http.MethodGet)
	authed.HandleFunc("/tasks", s.handleCreateTask).Methods(http.MethodPost)
	authed.HandleFunc("/tasks/stats", s.handleTaskStats).Methods(http.MethodGet)
	authed.HandleFunc("/tasks/search", s.handleSearchTasks).Methods(http.MethodGet)
	authed.HandleFunc("/tasks/{id}", s.handleGetTask).Methods(http.MethodGet)
	authed.HandleFunc("/tasks/{id}", s.handleUpdateTask).Methods(http.MethodPut, http.MethodPatch)
	authed.HandleFunc("/tasks/{id}", s.handleDeleteTask).Methods(http.MethodDelete)

	authed.HandleFunc("/messages/community", s.handleListCommunity).Methods(http.MethodGet)
	authed.HandleFunc("/messages/community", s.handlePostCommunity).Methods(http.MethodPost)
	authed.HandleFunc("/messages/private", s.handleListPrivate).Methods(http.MethodGet)
	authed.HandleFunc("/messages/private", s.handleSendPrivate).Methods(http.MethodPost)
	authed.HandleFunc("/messages/private/unread-count", s.handleUnreadCount).Methods(http.MethodGet)
	authed.HandleFunc("/messages/private/conversations", s.handleConversations).Methods(http.MethodGet)
	authed.HandleFunc("/messages/private/{id}/read", s.handleMarkRead).Methods(http.MethodPatch, http.MethodPut)

	return r
}

// StreamAuthenticator adapts the service to the realtime stream, accepting the
// access token from the Authorization header or the access_token query
// parameter.
func StreamAuthenticator(service *Service) realtime.Authenticator {
	return func(r *http.Request) (rbac.Actor, error) {
		token := bearerToken(r)
		if token == "" {
			token = strings.TrimSpace(r.URL.Query().Get("access_token"))
		}
		return service.Authenticate(r.Context(), token)
	}
}

func (s *HTTPServer) requireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, err := s.service.Authenticate(r.Context(), bearerToken(r))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(rbac.WithActor(r.Context(), actor)))
	})
}

func actorFrom(r *http.Request) rbac.Actor {
	actor, _ := rbac.ActorFrom(r.Context())
	return actor
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err, !s.service.cfg.IsProduction())
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "request_id", requestIDFrom(r.Context()), "path", r.URL.Path, "error", err)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "OK",
		"message":   "Agile Flow API is running",
		"timestamp": time.Now().UTC(),
	})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}
	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}
	if s.service.cache != nil {
		checks["redis"] = map[string]any{"status": "ok"}
		if err := s.service.PingCache(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["redis"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}
	}
	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

// Auth

func (s *HTTPServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body RegisterInput
	if !s.decode(w, r, &body) {
		return
	}
	user, err := s.service.Register(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"message": "User registered successfully", "user": user})
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body LoginInput
	if !s.decode(w, r, &body) {
		return
	}
	session, user, err := s.service.Login(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": session, "user": user})
}

func (s *HTTPServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body RefreshInput
	if !s.decode(w, r, &body) {
		return
	}
	session, err := s.service.Refresh(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": session})
}

func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	var body LogoutInput
	if !s.decode(w, r, &body) {
		return
	}
	s.service.Logout(r.Context(), bearerToken(r), body.RefreshToken)
	writeJSON(w, http.StatusOK, map[string]any{"message": "Logged out"})
}

func (s *HTTPServer) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.service.Me(r.Context(), bearerToken(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

// Users

func (s *HTTPServer) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.service.ListUsers(r.Context(), actorFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (s *HTTPServer) handleUsersByRole(w http.ResponseWriter, r *http.Request) {
	users, err := s.service.ListUsersByRole(r.Context(), actorFrom(r), mux.Vars(r)["role"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (s *HTTPServer) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.service.GetUser(r.Context(), actorFrom(r), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (s *HTTPServer) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var body CreateUserInput
	if !s.decode(w, r, &body) {
		return
	}
	user, err := s.service.CreateUser(r.Context(), actorFrom(r), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"message": "User created successfully", "user": user})
}

func (s *HTTPServer) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var body UpdateUserInput
	if !s.decode(w, r, &body) {
		return
	}
	user, err := s.service.UpdateUser(r.Context(), actorFrom(r), mux.Vars(r)["id"], body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "User updated successfully", "user": user})
}

func (s *HTTPServer) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteUser(r.Context(), actorFrom(r), mux.Vars(r)["id"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "User deleted successfully"})
}

func (s *HTTPServer) handleOnlineStatus(w http.ResponseWriter, r *http.Request) {
	var body OnlineStatusInput
	if !s.decode(w, r, &body) {
		return
	}
	user, err := s.service.SetOnlineStatus(r.Context(), actorFrom(r), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

// Tasks

func (s *HTTPServer) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tasks, err := s.service.ListTasks(r.Context(), actorFrom(r), TaskQuery{
		Status:     q.Get("status"),
		AssignedTo: q.Get("assigned_to"),
		AssignedBy: q.Get("assigned_by"),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *HTTPServer) handleTaskStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.TaskStats(r.Context(), actorFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": stats})
}

func (s *HTTPServer) handleSearchTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	resp, err := s.service.SearchTasks(r.Context(), actorFrom(r), q.Get("q"), q.Get("status"), queryInt(q.Get("limit")), queryInt(q.Get("offset")))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.service.GetTask(r.Context(), actorFrom(r), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": task})
}

func (s *HTTPServer) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var body CreateTaskInput
	if !s.decode(w, r, &body) {
		return
	}
	task, err := s.service.CreateTask(r.Context(), actorFrom(r), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"message": "Task created successfully", "task": task})
}

func (s *HTTPServer) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	var patch lifecycle.Patch
	if !s.decode(w, r, &patch) {
		return
	}
	task, err := s.service.UpdateTask(r.Context(), actorFrom(r), mux.Vars(r)["id"], patch)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Task updated successfully", "task": task})
}

func (s *HTTPServer) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteTask(r.Context(), actorFrom(r), mux.Vars(r)["id"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Task deleted successfully"})
}

// Messages

func (s *HTTPServer) handleListCommunity(w http.ResponseWriter, r *http.Request) {
	messages, err := s.service.ListCommunityMessages(r.Context(), actorFrom(r), queryInt(r.URL.Query().Get("limit")))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func (s *HTTPServer) handlePostCommunity(w http.ResponseWriter, r *http.Request) {
	var body SendCommunityMessageInput
	if !s.decode(w, r, &body) {
		return
	}
	msg, err := s.service.PostCommunityMessage(r.Context(), actorFrom(r), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"message": "Message sent successfully", "data": msg})
}

func (s *HTTPServer) handleListPrivate(w http.ResponseWriter, r *http.Request) {
	messages, err := s.service.ListPrivateMessages(r.Context(), actorFrom(r), r.URL.Query().Get("otherUserId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func (s *HTTPServer) handleSendPrivate(w http.ResponseWriter, r *http.Request) {
	var body SendPrivateMessageInput
	if !s.decode(w, r, &body) {
		return
	}
	msg, err := s.service.SendPrivateMessage(r.Context(), actorFrom(r), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"message": "Message sent successfully", "data": msg})
}

func (s *HTTPServer) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	msg, err := s.service.MarkRead(r.Context(), actorFrom(r), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Message marked as read", "data": msg})
}

func (s *HTTPServer) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	n, err := s.service.UnreadCount(r.Context(), actorFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"unreadCount": n})
}

func (s *HTTPServer) handleConversations(w http.ResponseWriter, r *http.Request) {
	conversations, err := s.service.Conversations(r.Context(), actorFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": conversations})
}

func (s *HTTPServer) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := decodeBody(r, target); err != nil {
		s.fail(w, r, err)
		return false
	}
	return true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		writer.Header().Set("X-Request-ID", requestID)
		writer.Header().Set("Cache-Control", "no-store")

		next.ServeHTTP(writer, r)

		slog.Info("request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrade pass through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

// decodeBody treats an empty body as an empty object.
func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) || errors.Is(err, io.EOF) {
			return nil
		}
		if errors.Is(err, lifecycle.ErrInvalidDeadline) || errors.Is(err, lifecycle.ErrInvalidStatus) {
			return err
		}
		return validationError("Invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func queryInt(value string) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return n
}
