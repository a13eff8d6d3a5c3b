package app

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"agileflow/api/internal/config"
	"agileflow/api/internal/email"
	"agileflow/api/internal/identity"
	"agileflow/api/internal/lifecycle"
	"agileflow/api/internal/rbac"
	"agileflow/api/internal/realtime"
	"agileflow/api/internal/store"
)

// fakeStore keeps records in maps. The func fields override single
// operations when a test needs a failure.
type fakeStore struct {
	mu        sync.Mutex
	users     map[string]store.User
	tasks     map[string]store.Task
	private   map[string]store.PrivateMessage
	community []store.CommunityMessage

	createUserFn   func(store.User) (store.User, error)
	markReadCalls  int
	updateTaskHits int
}

func newFakeStore(users ...store.User) *fakeStore {
	s := &fakeStore{
		users:   map[string]store.User{},
		tasks:   map[string]store.Task{},
		private: map[string]store.PrivateMessage{},
	}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *fakeStore) Ping(context.Context) error { return nil }

func (s *fakeStore) CreateUser(_ context.Context, u store.User) (store.User, error) {
	if s.createUserFn != nil {
		return s.createUserFn(u)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; ok {
		return store.User{}, store.ErrDuplicate
	}
	s.users[u.ID] = u
	return u, nil
}

func (s *fakeStore) GetUser(_ context.Context, id string) (store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return u, nil
}

func (s *fakeStore) ListUsers(context.Context) ([]store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *fakeStore) ListUsersByRole(ctx context.Context, role rbac.Role) ([]store.User, error) {
	all, _ := s.ListUsers(ctx)
	out := make([]store.User, 0, len(all))
	for _, u := range all {
		if u.Role == role {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *fakeStore) UpdateUser(_ context.Context, id string, c store.UserChanges) (store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	if c.Name != nil {
		u.Name = *c.Name
	}
	if c.Role != nil {
		u.Role = *c.Role
	}
	if c.OnlineStatus != nil {
		u.OnlineStatus = *c.OnlineStatus
	}
	s.users[id] = u
	return u, nil
}

func (s *fakeStore) SetPresence(_ context.Context, id string, online bool, at time.Time) (store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	u.OnlineStatus = online
	u.LastSeenAt = &at
	s.users[id] = u
	return u, nil
}

func (s *fakeStore) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return sql.ErrNoRows
	}
	delete(s.users, id)
	return nil
}

func (s *fakeStore) ListTasks(_ context.Context, f store.TaskFilter) ([]store.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.Task, 0)
	for _, t := range s.tasks {
		if !f.Scope.Admits(f.ActorID, t.AssignedBy, t.AssignedTo) {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.AssignedTo != "" && t.AssignedTo != f.AssignedTo {
			continue
		}
		if f.AssignedBy != "" && t.AssignedBy != f.AssignedBy {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeStore) GetTask(_ context.Context, id string) (store.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return store.Task{}, sql.ErrNoRows
	}
	return t, nil
}

func (s *fakeStore) CreateTask(_ context.Context, t store.Task) (store.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.CreatedAt = time.Now().UTC()
	t.UpdatedAt = t.CreatedAt
	s.tasks[t.ID] = t
	return t, nil
}

func (s *fakeStore) UpdateTask(_ context.Context, id string, p lifecycle.Patch) (store.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateTaskHits++
	t, ok := s.tasks[id]
	if !ok {
		return store.Task{}, sql.ErrNoRows
	}
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Deadline.Set {
		t.Deadline = p.Deadline.Time
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	s.tasks[id] = t
	return t, nil
}

func (s *fakeStore) DeleteTask(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return sql.ErrNoRows
	}
	delete(s.tasks, id)
	return nil
}

func (s *fakeStore) ListPrivateMessages(_ context.Context, userID, otherID string) ([]store.PrivateMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.PrivateMessage, 0)
	for _, m := range s.private {
		mine := m.SenderID == userID || m.ReceiverID == userID
		if !mine {
			continue
		}
		if otherID != "" && m.SenderID != otherID && m.ReceiverID != otherID {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *fakeStore) GetPrivateMessage(_ context.Context, id string) (store.PrivateMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.private[id]
	if !ok {
		return store.PrivateMessage{}, sql.ErrNoRows
	}
	return m, nil
}

func (s *fakeStore) CreatePrivateMessage(_ context.Context, m store.PrivateMessage) (store.PrivateMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	s.private[m.ID] = m
	return m, nil
}

func (s *fakeStore) MarkPrivateMessageRead(_ context.Context, id string) (store.PrivateMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markReadCalls++
	m, ok := s.private[id]
	if !ok {
		return store.PrivateMessage{}, sql.ErrNoRows
	}
	m.Read = true
	s.private[id] = m
	return m, nil
}

func (s *fakeStore) CountUnread(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.private {
		if m.ReceiverID == userID && !m.Read {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) ListCommunityMessages(_ context.Context, limit int) ([]store.CommunityMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := 0
	if len(s.community) > limit {
		start = len(s.community) - limit
	}
	return append([]store.CommunityMessage{}, s.community[start:]...), nil
}

func (s *fakeStore) CreateCommunityMessage(_ context.Context, m store.CommunityMessage) (store.CommunityMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.CreatedAt = time.Now().UTC()
	s.community = append(s.community, m)
	return m, nil
}

// fakeIdentity treats the token as the account id.
type fakeIdentity struct {
	mu       sync.Mutex
	accounts map[string]string
	deleted  []string
	nextID   string
}

func newFakeIdentity() *fakeIdentity {
	return &fakeIdentity{accounts: map[string]string{}}
}

func (f *fakeIdentity) CreateAccount(_ context.Context, emailAddr, _ string, _ identity.Metadata) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.accounts {
		if e == emailAddr {
			return "", identity.ErrEmailTaken
		}
	}
	id := f.nextID
	if id == "" {
		id = "acct-" + emailAddr
	}
	f.accounts[id] = emailAddr
	return id, nil
}

func (f *fakeIdentity) VerifyToken(_ context.Context, token string) (string, error) {
	if token == "" || token == "bad" {
		return "", identity.ErrUnauthenticated
	}
	return token, nil
}

func (f *fakeIdentity) DeleteAccount(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	delete(f.accounts, id)
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e realtime.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) all() []realtime.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]realtime.Event{}, p.events...)
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []email.TaskAssignment
}

func (m *recordingMailer) NotifyTaskAssigned(a email.TaskAssignment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, a)
}

var errBoom = errors.New("boom")

var (
	hod        = store.User{ID: "hod", Name: "Hana", Email: "hod@uni.test", Role: rbac.RoleHOD}
	professor  = store.User{ID: "prof", Name: "Pat", Email: "prof@uni.test", Role: rbac.RoleProfessor}
	professor2 = store.User{ID: "prof2", Name: "Quinn", Email: "prof2@uni.test", Role: rbac.RoleProfessor}
	staff      = store.User{ID: "staff", Name: "Sam", Email: "staff@uni.test", Role: rbac.RoleSupportingStaff}
	student    = store.User{ID: "stud", Name: "Stu", Email: "stud@uni.test", Role: rbac.RoleStudent}
)

type testEnv struct {
	service  *Service
	store    *fakeStore
	identity *fakeIdentity
	events   *recordingPublisher
	mailer   *recordingMailer
}

func newTestService(t *testing.T) testEnv {
	t.Helper()
	st := newFakeStore(hod, professor, professor2, staff, student)
	idp := newFakeIdentity()
	events := &recordingPublisher{}
	mailer := &recordingMailer{}
	return testEnv{
		service: &Service{
			cfg:       config.Config{Env: "test"},
			store:     st,
			identity:  idp,
			events:    events,
			mailer:    mailer,
			validator: newRequestValidator(),
			now:       func() time.Time { return time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC) },
		},
		store:    st,
		identity: idp,
		events:   events,
		mailer:   mailer,
	}
}
