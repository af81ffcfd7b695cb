package entities

import "time"

// User is an account that submits readings. MeasurementCount and Achievements
// are only changed through the achievement engine.
type User struct {
	ID               string        `json:"id"`
	Username         string        `json:"username"`
	PasswordHash     string        `json:"-"`
	MeasurementCount int64         `json:"measurement_count"`
	Achievements     []Achievement `json:"achievements"`
	CreatedAt        time.Time     `json:"created_at"`
}

// NewUser creates a user with no readings and no achievements.
func NewUser(id, username, passwordHash string) *User {
	return &User{
		ID:           id,
		Username:     username,
		PasswordHash: passwordHash,
		Achievements: []Achievement{},
		CreatedAt:    time.Now().UTC(),
	}
}

// HasAchievement reports whether an achievement with the given title is held.
func (u *User) HasAchievement(title string) bool {
	for _, a := range u.Achievements {
		if a.Title == title {
			return true
		}
	}
	return false
}
