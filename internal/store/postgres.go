package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"agileflow/api/internal/rbac"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrDuplicate is returned when an insert violates a unique constraint.
var ErrDuplicate = errors.New("duplicate record")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *PostgresStore) CreateAccount(ctx context.Context, account Account) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, email, password_hash)
		VALUES ($1, $2, $3)
	`, account.ID, strings.ToLower(strings.TrimSpace(account.Email)), account.PasswordHash)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAccountByEmail(ctx context.Context, email string) (Account, error) {
	var account Account
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, created_at
		FROM accounts
		WHERE LOWER(email) = LOWER($1)
	`, strings.TrimSpace(email)).Scan(&account.ID, &account.Email, &account.PasswordHash, &account.CreatedAt)
	if err != nil {
		return Account{}, err
	}
	return account, nil
}

func (s *PostgresStore) DeleteAccount(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id=$1`, id); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	return nil
}

const selectUser = `
	SELECT u.id, u.email, u.name, u.role, u.online_status, u.last_seen_at, u.created_by,
		u.created_at, u.updated_at,
		c.id, c.name, c.email, c.role
	FROM users u
	LEFT JOIN users c ON c.id = u.created_by
`

type rowScanner interface {
	Scan(dest ...any) error
}

// nullSummary collects the columns of an optional joined user.
type nullSummary struct {
	id, name, email, role sql.NullString
}

func (n *nullSummary) targets() []any {
	return []any{&n.id, &n.name, &n.email, &n.role}
}

func (n nullSummary) value() (*UserSummary, error) {
	if !n.id.Valid {
		return nil, nil
	}
	role, err := rbac.ParseRole(n.role.String)
	if err != nil {
		return nil, err
	}
	return &UserSummary{ID: n.id.String, Name: n.name.String, Email: n.email.String, Role: role}, nil
}

func scanUser(row rowScanner) (User, error) {
	var (
		user      User
		lastSeen  sql.NullTime
		createdBy sql.NullString
		creator   nullSummary
	)
	dest := []any{
		&user.ID, &user.Email, &user.Name, &user.Role, &user.OnlineStatus, &lastSeen, &createdBy,
		&user.CreatedAt, &user.UpdatedAt,
	}
	if err := row.Scan(append(dest, creator.targets()...)...); err != nil {
		return User{}, err
	}
	if lastSeen.Valid {
		user.LastSeenAt = &lastSeen.Time
	}
	if createdBy.Valid {
		user.CreatedBy = &createdBy.String
	}
	summary, err := creator.value()
	if err != nil {
		return User{}, fmt.Errorf("scan creator: %w", err)
	}
	user.Creator = summary
	return user, nil
}

func (s *PostgresStore) queryUsers(ctx context.Context, op, query string, args ...any) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		item, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) (User, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, name, role, created_by)
		VALUES ($1, $2, $3, $4, $5)
	`, user.ID, strings.TrimSpace(user.Email), strings.TrimSpace(user.Name), user.Role, user.CreatedBy)
	if isUniqueViolation(err) {
		return User{}, ErrDuplicate
	}
	if err != nil {
		return User{}, fmt.Errorf("create user: %w", err)
	}
	return s.GetUser(ctx, user.ID)
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, selectUser+` WHERE u.id=$1`, id))
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]User, error) {
	return s.queryUsers(ctx, "list users", selectUser+` ORDER BY u.created_at DESC`)
}

func (s *PostgresStore) ListUsersByRole(ctx context.Context, role rbac.Role) ([]User, error) {
	return s.queryUsers(ctx, "list users by role", selectUser+` WHERE u.role=$1 ORDER BY u.name ASC`, role)
}

func (s *PostgresStore) UpdateUser(ctx context.Context, id string, changes UserChanges) (User, error) {
	sets := []string{"updated_at=NOW()"}
	args := []any{id}
	if changes.Name != nil {
		args = append(args, strings.TrimSpace(*changes.Name))
		sets = append(sets, fmt.Sprintf("name=$%d", len(args)))
	}
	if changes.Role != nil {
		args = append(args, *changes.Role)
		sets = append(sets, fmt.Sprintf("role=$%d", len(args)))
	}
	if changes.OnlineStatus != nil {
		args = append(args, *changes.OnlineStatus)
		sets = append(sets, fmt.Sprintf("online_status=$%d", len(args)))
	}
	res, err := s.db.ExecContext(ctx, `UPDATE users SET `+strings.Join(sets, ", ")+` WHERE id=$1`, args...)
	if err != nil {
		return User{}, fmt.Errorf("update user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return User{}, sql.ErrNoRows
	}
	return s.GetUser(ctx, id)
}

// SetPresence records a heartbeat (online=true) or an explicit sign-off.
func (s *PostgresStore) SetPresence(ctx context.Context, id string, online bool, at time.Time) (User, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET online_status=$2, last_seen_at=$3, updated_at=NOW() WHERE id=$1
	`, id, online, at)
	if err != nil {
		return User{}, fmt.Errorf("set presence: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return User{}, sql.ErrNoRows
	}
	return s.GetUser(ctx, id)
}

// MarkStaleOffline flips users whose last heartbeat is older than cutoff to
// offline and returns their ids.
func (s *PostgresStore) MarkStaleOffline(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE users SET online_status=FALSE, updated_at=NOW()
		WHERE online_status AND (last_seen_at IS NULL OR last_seen_at < $1)
		RETURNING id
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("mark stale offline: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stale user: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale users: %w", err)
	}
	return ids, nil
}

func (s *PostgresStore) DeleteUser(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
