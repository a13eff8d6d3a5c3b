package email

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestServiceIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{
			name:     "empty config",
			config:   Config{},
			expected: false,
		},
		{
			name: "missing host",
			config: Config{
				Port: "587",
				From: "test@example.com",
			},
			expected: false,
		},
		{
			name: "missing port",
			config: Config{
				Host: "smtp.example.com",
				From: "test@example.com",
			},
			expected: false,
		},
		{
			name: "missing from",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
			},
			expected: false,
		},
		{
			name: "fully configured",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
				From: "test@example.com",
			},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.config)
			if svc.IsConfigured() != tt.expected {
				t.Errorf("IsConfigured() = %v, want %v", svc.IsConfigured(), tt.expected)
			}
		})
	}
}

func TestUnconfiguredSMTPRefusesToSend(t *testing.T) {
	if err := NewService(Config{}).SendHTMLEmail([]string{"a@example.com"}, "s", "<p>x</p>"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("SendHTMLEmail() = %v, want ErrNotConfigured", err)
	}
}

func TestBuildMultipartHeaders(t *testing.T) {
	svc := NewService(Config{Host: "smtp.example.com", Port: "587", From: "noreply@example.edu", FromName: "Département IT"})
	msg := string(buildMultipart(svc.fromHeader(), []string{"a@example.edu"}, "New Task Assigned - AgileFlow", "<p>hi</p>"))

	if !strings.Contains(msg, "From: =?utf-8?q?D=C3=A9partement_IT?= <noreply@example.edu>\r\n") {
		t.Fatalf("from header not encoded:\n%s", msg)
	}
	if !strings.Contains(msg, "Subject: New Task Assigned - AgileFlow\r\n") {
		t.Fatalf("ascii subject should pass through unchanged:\n%s", msg)
	}
	if !strings.Contains(msg, "<p>hi</p>") {
		t.Fatal("missing html part")
	}
}

func TestRenderTaskAssignment(t *testing.T) {
	n := NewNotifier(nil, "AgileFlow", "https://flow.example.edu")
	deadline := time.Date(2025, 5, 2, 17, 0, 0, 0, time.UTC)

	subject, html, err := n.RenderTaskAssignment(TaskAssignment{
		RecipientName: "Sami",
		TaskTitle:     "Grade <lab> reports",
		AssignerName:  "Dr. Pavel",
		Deadline:      &deadline,
	})
	if err != nil {
		t.Fatalf("RenderTaskAssignment failed: %v", err)
	}
	if subject != "New Task Assigned - AgileFlow" {
		t.Errorf("unexpected subject %q", subject)
	}
	for _, want := range []string{"Sami", "Dr. Pavel", "May 2, 2025 17:00 UTC", "https://flow.example.edu", "Grade &lt;lab&gt; reports"} {
		if !strings.Contains(html, want) {
			t.Errorf("template should contain %q", want)
		}
	}

	_, html, err = n.RenderTaskAssignment(TaskAssignment{RecipientName: "Sami", TaskTitle: "Inventory"})
	if err != nil {
		t.Fatalf("RenderTaskAssignment failed: %v", err)
	}
	if !strings.Contains(html, "No deadline set") {
		t.Error("template should say when there is no deadline")
	}
}

func TestSendGridSender(t *testing.T) {
	var (
		gotAuth string
		gotBody map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != sendgridEndpoint {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sender := NewSendGridSender("sg-key", "AgileFlow", "noreply@example.edu")
	sender.host = srv.URL

	if err := sender.SendHTMLEmail([]string{"sami@example.edu"}, "Hello", "<p>hi</p>"); err != nil {
		t.Fatalf("SendHTMLEmail: %v", err)
	}
	if gotAuth != "Bearer sg-key" {
		t.Errorf("authorization header = %q", gotAuth)
	}
	if from, _ := gotBody["from"].(map[string]any); from["email"] != "noreply@example.edu" {
		t.Errorf("from = %v", gotBody["from"])
	}
}

func TestSendGridSenderReportsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"errors":[{"message":"bad key"}]}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	sender := NewSendGridSender("bad", "AgileFlow", "noreply@example.edu")
	sender.host = srv.URL
	if err := sender.SendHTMLEmail([]string{"x@example.edu"}, "s", "b"); err == nil {
		t.Fatal("expected error for 401 response")
	}
	if NewSendGridSender("", "", "noreply@example.edu").IsConfigured() {
		t.Fatal("sender without key should not be configured")
	}
}

type recordingSender struct {
	mu      sync.Mutex
	to      []string
	subject string
	err     error
}

func (r *recordingSender) IsConfigured() bool { return true }

func (r *recordingSender) SendHTMLEmail(to []string, subject, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.to = append(r.to, to...)
	r.subject = subject
	return r.err
}

func TestDispatcherSendsInBackground(t *testing.T) {
	sender := &recordingSender{}
	d := NewDispatcher(NewNotifier(sender, "AgileFlow", ""))

	d.NotifyTaskAssigned(TaskAssignment{RecipientEmail: "sami@example.edu", TaskTitle: "Inventory"})
	d.Wait()

	if len(sender.to) != 1 || sender.to[0] != "sami@example.edu" {
		t.Fatalf("recipients = %v", sender.to)
	}
}

func TestDispatcherSwallowsFailures(t *testing.T) {
	sender := &recordingSender{err: errors.New("smtp down")}
	d := NewDispatcher(NewNotifier(sender, "", ""))
	d.NotifyTaskAssigned(TaskAssignment{RecipientEmail: "x@example.edu"})
	d.Wait()

	var nilDispatcher *Dispatcher
	nilDispatcher.NotifyTaskAssigned(TaskAssignment{})
	nilDispatcher.Wait()
}
