package email

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var ErrNotConfigured = errors.New("email not configured")

const noDeadline = "No deadline set"

// TaskAssignment is everything the assignment notice shows.
type TaskAssignment struct {
	RecipientEmail string
	RecipientName  string
	TaskTitle      string
	AssignerName   string
	Deadline       *time.Time
}

type taskAssignmentData struct {
	AppName       string
	RecipientName string
	AssignerName  string
	TaskTitle     string
	Deadline      string
	DashboardURL  string
}

// Notifier renders notices and hands them to a Sender.
type Notifier struct {
	sender       Sender
	appName      string
	dashboardURL string
}

func NewNotifier(sender Sender, appName, dashboardURL string) *Notifier {
	if appName == "" {
		appName = "AgileFlow"
	}
	return &Notifier{sender: sender, appName: appName, dashboardURL: dashboardURL}
}

func (n *Notifier) RenderTaskAssignment(a TaskAssignment) (subject, html string, err error) {
	deadline := noDeadline
	if a.Deadline != nil {
		deadline = a.Deadline.UTC().Format("Jan 2, 2006 15:04 MST")
	}
	html, err = renderTemplate(taskAssignmentTmpl, taskAssignmentData{
		AppName:       n.appName,
		RecipientName: a.RecipientName,
		AssignerName:  a.AssignerName,
		TaskTitle:     a.TaskTitle,
		Deadline:      deadline,
		DashboardURL:  n.dashboardURL,
	})
	if err != nil {
		return "", "", fmt.Errorf("render task assignment template: %w", err)
	}
	return "New Task Assigned - " + n.appName, html, nil
}

func (n *Notifier) SendTaskAssignment(a TaskAssignment) error {
	if n.sender == nil || !n.sender.IsConfigured() {
		return ErrNotConfigured
	}
	subject, html, err := n.RenderTaskAssignment(a)
	if err != nil {
		return err
	}
	return n.sender.SendHTMLEmail([]string{a.RecipientEmail}, subject, html)
}

// Dispatcher sends notices in the background. Failures are logged and
// dropped; they never reach the request that triggered them.
type Dispatcher struct {
	notifier *Notifier
	wg       sync.WaitGroup
}

func NewDispatcher(notifier *Notifier) *Dispatcher {
	return &Dispatcher{notifier: notifier}
}

func (d *Dispatcher) NotifyTaskAssigned(a TaskAssignment) {
	if d == nil || d.notifier == nil {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		err := d.notifier.SendTaskAssignment(a)
		switch {
		case errors.Is(err, ErrNotConfigured):
			slog.Debug("email disabled, skipping task assignment notice", "to", a.RecipientEmail)
		case err != nil:
			slog.Warn("task assignment email failed", "to", a.RecipientEmail, "error", err)
		default:
			slog.Info("task assignment email sent", "to", a.RecipientEmail)
		}
	}()
}

// Wait blocks until in-flight sends finish.
func (d *Dispatcher) Wait() {
	if d != nil {
		d.wg.Wait()
	}
}
