package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openhelpdesk/ai-helpdesk/internal/domain"
)

// ErrDuplicateEmail is returned when an email is already registered.
var ErrDuplicateEmail = errors.New("email already registered")

// UserRepository defines persistence access for accounts.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	List(ctx context.Context) ([]domain.User, error)
	UpdateRoleSkills(ctx context.Context, email string, role domain.Role, skills []string) error
	FindFirstByRole(ctx context.Context, role domain.Role) (*domain.User, error)
	FindModeratorBySkills(ctx context.Context, pattern string) (*domain.User, error)
}

type userRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository returns a Postgres-backed implementation.
func NewUserRepository(pool *pgxpool.Pool) UserRepository {
	return &userRepository{pool: pool}
}

const userSelect = `
        SELECT id, email, password_hash, role, skills, created_at, updated_at
        FROM users`

func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	const query = `
        INSERT INTO users (email, password_hash, role, skills)
        VALUES ($1, $2, $3, $4)
        RETURNING id, created_at, updated_at`

	skills := user.Skills
	if skills == nil {
		skills = []string{}
	}
	err := r.pool.QueryRow(ctx, query,
		user.Email,
		user.PasswordHash,
		user.Role,
		skills,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateEmail
	}
	return err
}

func (r *userRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return scanUser(r.pool.QueryRow(ctx, userSelect+` WHERE id=$1`, id))
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return scanUser(r.pool.QueryRow(ctx, userSelect+` WHERE LOWER(email)=LOWER($1)`, email))
}

func (r *userRepository) List(ctx context.Context) ([]domain.User, error) {
	rows, err := r.pool.Query(ctx, userSelect+` ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []domain.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *user)
	}
	return result, rows.Err()
}

func (r *userRepository) UpdateRoleSkills(ctx context.Context, email string, role domain.Role, skills []string) error {
	if skills == nil {
		skills = []string{}
	}
	cmd, err := r.pool.Exec(ctx, `
        UPDATE users SET role=$1, skills=$2, updated_at=NOW()
        WHERE LOWER(email)=LOWER($3)`, role, skills, email)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// FindFirstByRole returns the oldest account with role, or pgx.ErrNoRows.
func (r *userRepository) FindFirstByRole(ctx context.Context, role domain.Role) (*domain.User, error) {
	return scanUser(r.pool.QueryRow(ctx, userSelect+` WHERE role=$1 ORDER BY created_at, id LIMIT 1`, role))
}

// FindModeratorBySkills returns the oldest moderator having at least one skill
// matching pattern case-insensitively, or pgx.ErrNoRows.
func (r *userRepository) FindModeratorBySkills(ctx context.Context, pattern string) (*domain.User, error) {
	const query = userSelect + `
        WHERE role=$1 AND EXISTS (SELECT 1 FROM unnest(skills) AS s WHERE s ~* $2)
        ORDER BY created_at, id LIMIT 1`
	return scanUser(r.pool.QueryRow(ctx, query, domain.RoleModerator, pattern))
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var user domain.User
	if err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.Role,
		&user.Skills,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if user.Skills == nil {
		user.Skills = []string{}
	}
	return &user, nil
}
