package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"noisemap/internal/domain/entities"
	"noisemap/internal/repository"
)

// UserRepository keeps the account row in users and the achievement set in
// user_achievements, whose (user_id, title) key makes the set union a single
// INSERT OR IGNORE.
type UserRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db, now: time.Now}
}

func (r *UserRepository) Create(ctx context.Context, user *entities.User) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, username, password_hash, measurement_count, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT DO NOTHING`,
		user.ID, user.Username, user.PasswordHash, user.MeasurementCount, user.CreatedAt.UnixNano())
	if err != nil {
		return classify("users.create", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify("users.create", err)
	}
	if n == 0 {
		return repository.ErrUsernameTaken
	}
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*entities.User, error) {
	return r.get(ctx, "users.get", `WHERE id = ?`, id)
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*entities.User, error) {
	return r.get(ctx, "users.get_by_username", `WHERE username = ?`, username)
}

func (r *UserRepository) get(ctx context.Context, op, where string, arg any) (*entities.User, error) {
	var (
		u       entities.User
		created int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, measurement_count, created_at FROM users `+where, arg).
		Scan(&u.ID, &u.Username, &u.PasswordHash, &u.MeasurementCount, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrUserNotFound
	}
	if err != nil {
		return nil, classify(op, err)
	}
	u.CreatedAt = time.Unix(0, created).UTC()

	rows, err := r.db.QueryContext(ctx,
		`SELECT title, description FROM user_achievements WHERE user_id = ? ORDER BY awarded_at, rowid`, u.ID)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()
	for rows.Next() {
		var a entities.Achievement
		if err := rows.Scan(&a.Title, &a.Description); err != nil {
			return nil, classify(op, err)
		}
		u.Achievements = append(u.Achievements, a)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return &u, nil
}

// IncrementMeasurementCount relies on UPDATE ... RETURNING, so the value the
// caller sees is the one its own update produced.
func (r *UserRepository) IncrementMeasurementCount(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		`UPDATE users SET measurement_count = measurement_count + 1 WHERE id = ? RETURNING measurement_count`, userID).
		Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, repository.ErrUserNotFound
	}
	if err != nil {
		return 0, classify("users.increment_count", err)
	}
	return count, nil
}

// AddAchievement inserts only when the user exists; a zero row count then
// means either a missing user or an existing title, told apart by one lookup.
func (r *UserRepository) AddAchievement(ctx context.Context, userID string, a entities.Achievement) (bool, error) {
	const op = "users.add_achievement"
	res, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO user_achievements (user_id, title, description, awarded_at)
		 SELECT ?, ?, ?, ? WHERE EXISTS (SELECT 1 FROM users WHERE id = ?)`,
		userID, a.Title, a.Description, r.now().UnixNano(), userID)
	if err != nil {
		return false, classify(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, classify(op, err)
	}
	if n == 1 {
		return true, nil
	}

	var exists int
	err = r.db.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?`, userID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, repository.ErrUserNotFound
	}
	if err != nil {
		return false, classify(op, err)
	}
	return false, nil
}
