package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	driver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"noisemap/internal/domain/entities"
	"noisemap/internal/repository"
)

type achievementDoc struct {
	Title       string `bson:"title"`
	Description string `bson:"description"`
}

type userDoc struct {
	ID               string           `bson:"_id"`
	Username         string           `bson:"username"`
	PasswordHash     string           `bson:"password_hash"`
	MeasurementCount int64            `bson:"measurement_count"`
	Achievements     []achievementDoc `bson:"achievements"`
	CreatedAt        time.Time        `bson:"created_at"`
}

func (d userDoc) user() *entities.User {
	u := &entities.User{
		ID:               d.ID,
		Username:         d.Username,
		PasswordHash:     d.PasswordHash,
		MeasurementCount: d.MeasurementCount,
		Achievements:     make([]entities.Achievement, 0, len(d.Achievements)),
		CreatedAt:        d.CreatedAt.UTC(),
	}
	for _, a := range d.Achievements {
		u.Achievements = append(u.Achievements, entities.Achievement{Title: a.Title, Description: a.Description})
	}
	return u
}

type UserRepository struct {
	coll *driver.Collection
}

func NewUserRepository(coll *driver.Collection) *UserRepository {
	return &UserRepository{coll: coll}
}

func (r *UserRepository) Create(ctx context.Context, user *entities.User) error {
	// achievements must be an array, never null, for $push to work later.
	achievements := make([]achievementDoc, 0, len(user.Achievements))
	for _, a := range user.Achievements {
		achievements = append(achievements, achievementDoc{Title: a.Title, Description: a.Description})
	}
	_, err := r.coll.InsertOne(ctx, userDoc{
		ID:               user.ID,
		Username:         user.Username,
		PasswordHash:     user.PasswordHash,
		MeasurementCount: user.MeasurementCount,
		Achievements:     achievements,
		CreatedAt:        utc(user.CreatedAt),
	})
	if driver.IsDuplicateKeyError(err) {
		return repository.ErrUsernameTaken
	}
	return classify("users.create", err)
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*entities.User, error) {
	return r.findOne(ctx, "users.get", bson.M{"_id": id})
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*entities.User, error) {
	return r.findOne(ctx, "users.get_by_username", bson.M{"username": username})
}

func (r *UserRepository) findOne(ctx context.Context, op string, filter bson.M) (*entities.User, error) {
	var d userDoc
	err := r.coll.FindOne(ctx, filter).Decode(&d)
	if errors.Is(err, driver.ErrNoDocuments) {
		return nil, repository.ErrUserNotFound
	}
	if err != nil {
		return nil, classify(op, err)
	}
	return d.user(), nil
}

func (r *UserRepository) IncrementMeasurementCount(ctx context.Context, userID string) (int64, error) {
	var d struct {
		MeasurementCount int64 `bson:"measurement_count"`
	}
	err := r.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": userID},
		bson.M{"$inc": bson.M{"measurement_count": int64(1)}},
		options.FindOneAndUpdate().
			SetReturnDocument(options.After).
			SetProjection(bson.M{"measurement_count": 1}),
	).Decode(&d)
	if errors.Is(err, driver.ErrNoDocuments) {
		return 0, repository.ErrUserNotFound
	}
	if err != nil {
		return 0, classify("users.increment_count", err)
	}
	return d.MeasurementCount, nil
}

// AddAchievement pushes only when no element with the same title exists, so
// the filter and the push are one atomic document update.
func (r *UserRepository) AddAchievement(ctx context.Context, userID string, a entities.Achievement) (bool, error) {
	const op = "users.add_achievement"
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": userID, "achievements.title": bson.M{"$ne": a.Title}},
		bson.M{"$push": bson.M{"achievements": achievementDoc{Title: a.Title, Description: a.Description}}},
	)
	if err != nil {
		return false, classify(op, err)
	}
	if res.ModifiedCount == 1 {
		return true, nil
	}

	n, err := r.coll.CountDocuments(ctx, bson.M{"_id": userID})
	if err != nil {
		return false, classify(op, err)
	}
	if n == 0 {
		return false, repository.ErrUserNotFound
	}
	return false, nil
}
