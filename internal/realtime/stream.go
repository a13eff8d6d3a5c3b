package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"agileflow/api/internal/rbac"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Authenticator resolves the actor for a stream request. Browsers cannot set
// headers on a websocket handshake, so implementations should also accept
// the token from the access_token query parameter.
type Authenticator func(r *http.Request) (rbac.Actor, error)

type Stream struct {
	broker         Broker
	authenticate   Authenticator
	originPatterns []string
	writeTimeout   time.Duration
}

// NewStream accepts allowed origins either as full URLs, as configured for
// CORS, or as host patterns such as "*.example.edu".
func NewStream(broker Broker, authenticate Authenticator, origins []string) *Stream {
	return &Stream{
		broker:         broker,
		authenticate:   authenticate,
		originPatterns: OriginHosts(origins),
		writeTimeout:   5 * time.Second,
	}
}

// OriginHosts reduces origins to the host[:port] form the websocket handshake
// matches against.
func OriginHosts(origins []string) []string {
	hosts := make([]string, 0, len(origins))
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		if origin == "" {
			continue
		}
		if strings.Contains(origin, "://") {
			u, err := url.Parse(origin)
			if err != nil || u.Host == "" {
				slog.Warn("ignoring invalid websocket origin", "origin", origin)
				continue
			}
			origin = u.Host
		}
		hosts = append(hosts, strings.TrimSuffix(origin, "/"))
	}
	return hosts
}

// ParseFilter reads ?table=<name> (repeatable or comma separated) and
// ?event=INSERT|UPDATE|DELETE|*.
func ParseFilter(r *http.Request) (Filter, error) {
	var f Filter
	for _, value := range r.URL.Query()["table"] {
		for _, table := range strings.Split(value, ",") {
			if table = strings.TrimSpace(table); table != "" {
				f.Tables = append(f.Tables, table)
			}
		}
	}
	typ, err := ParseEventType(strings.ToUpper(r.URL.Query().Get("event")))
	if err != nil {
		return Filter{}, err
	}
	f.Type = typ
	return f, nil
}

func (s *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	actor, err := s.authenticate(r)
	if err != nil {
		writeHTTPError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized")
		return
	}
	filter, err := ParseFilter(r)
	if err != nil {
		writeHTTPError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.originPatterns})
	if err != nil {
		return
	}
	// CloseRead discards client frames and cancels ctx once the peer goes away.
	ctx := conn.CloseRead(r.Context())
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, err := s.broker.Subscribe(ctx)
	if err != nil {
		slog.Error("realtime subscribe failed", "error", err)
		_ = conn.Close(websocket.StatusInternalError, "subscribe_failed")
		return
	}
	slog.Info("realtime client connected", "user_id", actor.ID, "tables", filter.Tables)

	if err := s.write(ctx, conn, clientEvent{Type: "READY", At: time.Now().UTC()}); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case e, ok := <-events:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "closed")
				return
			}
			if !filter.Matches(e) || !VisibleTo(actor, e) {
				continue
			}
			if err := s.write(ctx, conn, e.forClient()); err != nil {
				if !errors.Is(err, context.Canceled) {
					slog.Warn("realtime write failed", "user_id", actor.ID, "error", err)
				}
				_ = conn.Close(websocket.StatusNormalClosure, "write_failed")
				return
			}
		}
	}
}

func writeHTTPError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message, "code": code})
}

func (s *Stream) write(ctx context.Context, conn *websocket.Conn, v any) error {
	writeCtx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, conn, v)
}
