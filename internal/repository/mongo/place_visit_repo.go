package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	driver "go.mongodb.org/mongo-driver/mongo"

	"noisemap/internal/domain/entities"
)

type placeVisitDoc struct {
	UserID     string    `bson:"user_id"`
	Kind       string    `bson:"kind"`
	PlaceName  string    `bson:"place_name"`
	Country    string    `bson:"country,omitempty"`
	VisitCount int64     `bson:"visit_count"`
	FirstVisit time.Time `bson:"first_visit"`
	LastVisit  time.Time `bson:"last_visit"`
}

type PlaceVisitRepository struct {
	coll *driver.Collection
}

func NewPlaceVisitRepository(coll *driver.Collection) *PlaceVisitRepository {
	return &PlaceVisitRepository{coll: coll}
}

// RecordVisit inserts first; the unique (user_id, kind, place_name) index
// turns every concurrent insert but one into a duplicate-key error, and those
// callers fall through to the update.
func (r *PlaceVisitRepository) RecordVisit(ctx context.Context, userID string, kind entities.PlaceKind, place, country string, at time.Time) (bool, error) {
	const op = "place_visits.record"
	at = utc(at)
	_, err := r.coll.InsertOne(ctx, placeVisitDoc{
		UserID:     userID,
		Kind:       string(kind),
		PlaceName:  place,
		Country:    country,
		VisitCount: 1,
		FirstVisit: at,
		LastVisit:  at,
	})
	if err == nil {
		return true, nil
	}
	if !driver.IsDuplicateKeyError(err) {
		return false, classify(op, err)
	}

	_, err = r.coll.UpdateOne(ctx,
		bson.M{"user_id": userID, "kind": string(kind), "place_name": place},
		bson.M{"$inc": bson.M{"visit_count": int64(1)}, "$set": bson.M{"last_visit": at}},
	)
	return false, classify(op, err)
}

func (r *PlaceVisitRepository) CountDistinct(ctx context.Context, userID string, kind entities.PlaceKind) (int64, error) {
	n, err := r.coll.CountDocuments(ctx, bson.M{"user_id": userID, "kind": string(kind)})
	if err != nil {
		return 0, classify("place_visits.count", err)
	}
	return n, nil
}
