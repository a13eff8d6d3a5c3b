// Command chattail follows the community chat from a terminal. Lines typed on
// stdin are posted as messages and shown right away, then reconciled with the
// server's copy when it arrives on the realtime feed.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"agileflow/api/internal/chatlist"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
)

type communityRecord struct {
	ID        string    `json:"id"`
	SenderID  string    `json:"sender_id"`
	Message   string    `json:"message"`
	ClientRef string    `json:"client_ref"`
	CreatedAt time.Time `json:"created_at"`
	Sender    *struct {
		Name string `json:"name"`
	} `json:"sender"`
}

func (r communityRecord) entry() chatlist.Entry {
	e := chatlist.Entry{
		ID:        r.ID,
		ClientRef: r.ClientRef,
		SenderID:  r.SenderID,
		Body:      r.Message,
		CreatedAt: r.CreatedAt,
	}
	if r.Sender != nil {
		e.SenderName = r.Sender.Name
	}
	return e
}

type feedEvent struct {
	Table     string          `json:"table"`
	Type      string          `json:"type"`
	Record    json.RawMessage `json:"record"`
	ClientRef string          `json:"client_ref"`
}

type client struct {
	base   *url.URL
	token  string
	http   *http.Client
	list   *chatlist.List
	userID string
	name   string
}

func main() {
	apiURL := flag.String("api", envOr("AGILEFLOW_API", "http://localhost:5000"), "API base URL")
	token := flag.String("token", os.Getenv("AGILEFLOW_TOKEN"), "bearer access token")
	limit := flag.Int("limit", 50, "history to load on start")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))
	if *token == "" {
		fmt.Fprintln(os.Stderr, "chattail: -token or AGILEFLOW_TOKEN is required")
		os.Exit(2)
	}
	base, err := url.Parse(strings.TrimRight(*apiURL, "/"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "chattail: bad -api: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := &client{base: base, token: *token, http: &http.Client{Timeout: 10 * time.Second}, list: chatlist.New()}
	if err := c.loadProfile(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "chattail: %v\n", err)
		os.Exit(1)
	}
	if err := c.loadHistory(ctx, *limit); err != nil {
		fmt.Fprintf(os.Stderr, "chattail: %v\n", err)
		os.Exit(1)
	}
	for _, e := range c.list.Entries() {
		printEntry(e)
	}

	go c.readStdin(ctx)
	if err := c.follow(ctx); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "chattail: %v\n", err)
		os.Exit(1)
	}
}

func (c *client) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path += path
	u.RawQuery = query.Encode()
	return u.String()
}

func (c *client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, apiErr.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *client) loadProfile(ctx context.Context) error {
	var resp struct {
		User struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/auth/me", nil, nil, &resp); err != nil {
		return err
	}
	c.userID, c.name = resp.User.ID, resp.User.Name
	return nil
}

func (c *client) loadHistory(ctx context.Context, limit int) error {
	var resp struct {
		Messages []communityRecord `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/messages/community", url.Values{"limit": {strconv.Itoa(limit)}}, nil, &resp); err != nil {
		return err
	}
	entries := make([]chatlist.Entry, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		entries = append(entries, m.entry())
	}
	c.list.Reset(entries)
	return nil
}

func (c *client) readStdin(ctx context.Context) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		body := strings.TrimSpace(scanner.Text())
		if body == "" {
			continue
		}
		ref := uuid.NewString()
		c.list.AddPending(ref, c.userID, c.name, body, time.Now())
		fmt.Printf("… %s: %s\n", c.name, body)

		var resp struct {
			Data communityRecord `json:"data"`
		}
		err := c.do(ctx, http.MethodPost, "/api/messages/community", nil, map[string]string{"message": body, "client_ref": ref}, &resp)
		if err != nil {
			c.list.Fail(ref)
			fmt.Printf("! not sent: %s (%v)\n", body, err)
			continue
		}
		c.list.Confirm(resp.Data.entry())
	}
}

// follow prints confirmed community messages from the realtime feed until
// ctx ends.
func (c *client) follow(ctx context.Context) error {
	wsURL := *c.base
	switch wsURL.Scheme {
	case "https":
		wsURL.Scheme = "wss"
	default:
		wsURL.Scheme = "ws"
	}
	wsURL.Path += "/api/realtime"
	wsURL.RawQuery = url.Values{"table": {"community_messages"}, "event": {"INSERT"}, "access_token": {c.token}}.Encode()

	conn, _, err := websocket.Dial(ctx, wsURL.String(), nil)
	if err != nil {
		return fmt.Errorf("connect realtime: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	for {
		var e feedEvent
		if err := wsjson.Read(ctx, conn, &e); err != nil {
			return err
		}
		if e.Table != "community_messages" || e.Type != "INSERT" {
			continue
		}
		var rec communityRecord
		if err := json.Unmarshal(e.Record, &rec); err != nil {
			slog.Warn("bad realtime record", "error", err)
			continue
		}
		if rec.ClientRef == "" {
			rec.ClientRef = e.ClientRef
		}
		if c.list.Confirm(rec.entry()) && rec.SenderID != c.userID {
			printEntry(rec.entry())
		}
	}
}

func printEntry(e chatlist.Entry) {
	name := e.SenderName
	if name == "" {
		name = e.SenderID
	}
	marker := " "
	if e.Pending {
		marker = "…"
	}
	fmt.Printf("%s [%s] %s: %s\n", marker, e.CreatedAt.Local().Format("15:04"), name, e.Body)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
