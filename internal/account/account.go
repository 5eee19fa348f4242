// Package account provides the data model and operations for users.
// Users live in the shared public schema and may be attached to one
// building.
//
// Roles:
//   - SUPER_ADMIN:    platform operator, sees every building
//   - BUILDING_ADMIN: registers and manages buildings
//   - OWNER:          unit owner inside a building
package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/primal-host/consorcio/internal/database"
)

// Sentinel errors for account operations.
var (
	ErrNotFound           = errors.New("account: not found")
	ErrEmailTaken         = errors.New("account: email already taken")
	ErrInvalidCredentials = errors.New("account: invalid credentials")
	ErrInvalid            = errors.New("account: invalid input")
)

// Valid roles.
const (
	RoleSuperAdmin    = "SUPER_ADMIN"
	RoleBuildingAdmin = "BUILDING_ADMIN"
	RoleOwner         = "OWNER"
)

// User is a row of public.users, password excluded.
type User struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	FirstName  string    `json:"firstName"`
	LastName   string    `json:"lastName"`
	Role       string    `json:"role"`
	BuildingID *string   `json:"buildingId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// CreateParams holds the parameters for creating a new user.
type CreateParams struct {
	Email     string
	Password  string // plaintext, will be hashed
	FirstName string
	LastName  string
	Role      string // defaults to OWNER if empty
}

const userColumns = `id, email, first_name, last_name, role, building_id, created_at, updated_at`

// Store provides user CRUD operations backed by PostgreSQL.
type Store struct {
	db database.Querier
}

// NewStore creates a user Store.
func NewStore(db database.Querier) *Store {
	return &Store{db: db}
}

func scanUser(row pgx.Row, extra ...any) (*User, error) {
	var u User
	dest := append([]any{&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.Role, &u.BuildingID, &u.CreatedAt, &u.UpdatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return &u, nil
}

// Create inserts a new user with a bcrypt-hashed password.
func (s *Store) Create(ctx context.Context, p CreateParams) (*User, error) {
	return s.CreateWith(ctx, s.db, p)
}

// CreateWith is Create on q, typically a transaction shared with
// building registration.
func (s *Store) CreateWith(ctx context.Context, q database.Querier, p CreateParams) (*User, error) {
	email := normalizeEmail(p.Email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: invalid email %q", ErrInvalid, p.Email)
	}
	if len(p.Password) < 6 {
		return nil, fmt.Errorf("%w: password must be at least 6 characters", ErrInvalid)
	}

	hash, err := HashPassword(p.Password)
	if err != nil {
		return nil, fmt.Errorf("account: create: %w", err)
	}

	role := p.Role
	if role == "" {
		role = RoleOwner
	}
	if !ValidRole(role) {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalid, role)
	}

	u, err := scanUser(q.QueryRow(ctx,
		`INSERT INTO users (email, password, first_name, last_name, role)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+userColumns,
		email, hash, p.FirstName, p.LastName, role,
	))
	if database.IsDuplicateKey(err) {
		return nil, fmt.Errorf("%w: %s", ErrEmailTaken, email)
	}
	if err != nil {
		return nil, fmt.Errorf("account: create %q: %w", email, err)
	}
	return u, nil
}

// GetByID returns a user by id. Returns ErrNotFound if absent.
func (s *Store) GetByID(ctx context.Context, id string) (*User, error) {
	u, err := scanUser(s.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("account: get %q: %w", id, err)
	}
	return u, nil
}

// GetByEmail returns a user by email. Returns ErrNotFound if absent.
func (s *Store) GetByEmail(ctx context.Context, email string) (*User, error) {
	email = normalizeEmail(email)
	u, err := scanUser(s.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, email)
	}
	if err != nil {
		return nil, fmt.Errorf("account: get by email %q: %w", email, err)
	}
	return u, nil
}

// ListByBuilding returns the users attached to a building with the given
// role, ordered by name.
func (s *Store) ListByBuilding(ctx context.Context, buildingID, role string) ([]User, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+userColumns+` FROM users
		 WHERE building_id = $1 AND role = $2
		 ORDER BY first_name, last_name`, buildingID, role)
	if err != nil {
		return nil, fmt.Errorf("account: list building %q: %w", buildingID, err)
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("account: list scan: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// SetBuilding attaches a user to a building.
func (s *Store) SetBuilding(ctx context.Context, q database.Querier, userID, buildingID string) error {
	tag, err := q.Exec(ctx,
		`UPDATE users SET building_id = $1, updated_at = NOW() WHERE id = $2`,
		buildingID, userID)
	if err != nil {
		return fmt.Errorf("account: set building for %q: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, userID)
	}
	return nil
}

// IsOwner reports whether id names an existing user with the OWNER role.
func (s *Store) IsOwner(ctx context.Context, id string) (bool, error) {
	u, err := s.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return u.Role == RoleOwner, nil
}

// VerifyPassword checks the password for the user identified by email.
// Unknown emails and wrong passwords both return ErrInvalidCredentials.
func (s *Store) VerifyPassword(ctx context.Context, email, password string) (*User, error) {
	email = normalizeEmail(email)
	var hash string
	u, err := scanUser(s.db.QueryRow(ctx,
		`SELECT `+userColumns+`, password FROM users WHERE email = $1`, email), &hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("account: verify password %q: %w", email, err)
	}

	if err := CheckPassword(hash, password); err != nil {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// ValidRole reports whether role is one of the known roles.
func ValidRole(role string) bool {
	switch role {
	case RoleSuperAdmin, RoleBuildingAdmin, RoleOwner:
		return true
	}
	return false
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
