package services

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"noisemap/internal/apperr"
	"noisemap/internal/config"
	"noisemap/internal/domain/entities"
	"noisemap/internal/logging"
	"noisemap/internal/repository"
	"noisemap/pkg/utils"
)

const (
	minPasswordLen = 8
	maxUsernameLen = 64
)

// Profile is the account summary shown to a signed-in user. Exposure totals
// are seconds of recorded noise at or above, and below, the high threshold.
type Profile struct {
	ID               string                 `json:"id"`
	Username         string                 `json:"username"`
	MeasurementCount int64                  `json:"measurement_count"`
	Achievements     []entities.Achievement `json:"achievements"`
	entities.Exposure
}

// AuthService registers accounts, checks credentials and builds profiles.
// Sessions are handled by the HTTP layer.
type AuthService struct {
	users        repository.UserRepository
	measurements repository.MeasurementRepository
	bcryptCost   int
	highDB       float64
	opTimeout    time.Duration
	log          zerolog.Logger
}

func NewAuthService(users repository.UserRepository, measurements repository.MeasurementRepository, cfg *config.Config) *AuthService {
	return &AuthService{
		users:        users,
		measurements: measurements,
		bcryptCost:   cfg.Auth.BcryptCost,
		highDB:       cfg.Exposure.HighThresholdDB,
		opTimeout:    cfg.Storage.OperationTimeout,
		log:          logging.Component("auth"),
	}
}

// Register creates an account. A taken username is a conflict.
func (s *AuthService) Register(ctx context.Context, username, password string) (*entities.User, error) {
	const op = "auth.register"
	username = strings.TrimSpace(username)
	switch {
	case username == "":
		return nil, apperr.Validation(op, "username is required")
	case utf8.RuneCountInString(username) > maxUsernameLen:
		return nil, apperr.Validation(op, "username must be at most %d characters", maxUsernameLen)
	case len(password) < minPasswordLen:
		return nil, apperr.Validation(op, "password must be at least %d characters", minPasswordLen)
	case len(password) > 72:
		// bcrypt only looks at the first 72 bytes.
		return nil, apperr.Validation(op, "password must be at most 72 bytes")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, apperr.Wrap(op, err)
	}

	user := entities.NewUser(utils.GenerateID(), username, string(hash))

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrUsernameTaken) {
			return nil, apperr.Conflict(op, err)
		}
		return nil, apperr.Wrap(op, err)
	}

	s.log.Info().Str("user_id", user.ID).Str("username", user.Username).Msg("user registered")
	return user, nil
}

// Login returns the user when the password matches. Unknown users and wrong
// passwords give the same error.
func (s *AuthService) Login(ctx context.Context, username, password string) (*entities.User, error) {
	const op = "auth.login"

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	user, err := s.users.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, apperr.Unauthorized(op, "invalid username or password")
		}
		return nil, apperr.Wrap(op, err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, apperr.Unauthorized(op, "invalid username or password")
	}
	return user, nil
}

// Profile loads the account summary of userID.
func (s *AuthService) Profile(ctx context.Context, userID string) (*Profile, error) {
	const op = "auth.profile"

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, apperr.NotFound(op, err)
		}
		return nil, apperr.Wrap(op, err)
	}

	exposure, err := s.measurements.ExposureByUser(ctx, userID, s.highDB)
	if err != nil {
		return nil, apperr.Wrap(op, err)
	}

	achievements := user.Achievements
	if achievements == nil {
		achievements = []entities.Achievement{}
	}
	return &Profile{
		ID:               user.ID,
		Username:         user.Username,
		MeasurementCount: user.MeasurementCount,
		Achievements:     achievements,
		Exposure:         exposure,
	}, nil
}
