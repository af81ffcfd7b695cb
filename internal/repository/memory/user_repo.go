package memory

import (
	"context"
	"sync"

	"noisemap/internal/domain/entities"
	"noisemap/internal/repository"
)

type UserRepository struct {
	mu         sync.RWMutex
	users      map[string]*entities.User
	byUsername map[string]string // username → id
}

func NewUserRepository() *UserRepository {
	return &UserRepository{
		users:      make(map[string]*entities.User),
		byUsername: make(map[string]string),
	}
}

// copyUser detaches a stored user from the caller so later mutations of the
// stored record are not visible through previously returned pointers.
func copyUser(u *entities.User) *entities.User {
	c := *u
	c.Achievements = append([]entities.Achievement(nil), u.Achievements...)
	return &c
}

func (r *UserRepository) Create(ctx context.Context, user *entities.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byUsername[user.Username]; exists {
		return repository.ErrUsernameTaken
	}
	r.users[user.ID] = copyUser(user)
	r.byUsername[user.Username] = user.ID
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*entities.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, exists := r.users[id]
	if !exists {
		return nil, repository.ErrUserNotFound
	}
	return copyUser(user), nil
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*entities.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, exists := r.byUsername[username]
	if !exists {
		return nil, repository.ErrUserNotFound
	}
	return copyUser(r.users[id]), nil
}

func (r *UserRepository) IncrementMeasurementCount(ctx context.Context, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, exists := r.users[userID]
	if !exists {
		return 0, repository.ErrUserNotFound
	}
	user.MeasurementCount++
	return user.MeasurementCount, nil
}

func (r *UserRepository) AddAchievement(ctx context.Context, userID string, a entities.Achievement) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, exists := r.users[userID]
	if !exists {
		return false, repository.ErrUserNotFound
	}
	if user.HasAchievement(a.Title) {
		return false, nil
	}
	user.Achievements = append(user.Achievements, a)
	return true, nil
}
