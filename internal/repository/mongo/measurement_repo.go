package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	driver "go.mongodb.org/mongo-driver/mongo"

	"noisemap/internal/domain/entities"
	"noisemap/internal/repository"
)

type measurementDoc struct {
	ID         string            `bson:"_id"`
	UserID     string            `bson:"user_id"`
	Timestamp  time.Time         `bson:"timestamp"`
	NoiseLevel float64           `bson:"noise_level"`
	Duration   int               `bson:"duration"`
	Location   entities.GeoPoint `bson:"location"`
	Geohash    string            `bson:"geohash"`
}

type MeasurementRepository struct {
	coll *driver.Collection
}

func NewMeasurementRepository(coll *driver.Collection) *MeasurementRepository {
	return &MeasurementRepository{coll: coll}
}

func (r *MeasurementRepository) Insert(ctx context.Context, m *entities.RawMeasurement) error {
	_, err := r.coll.InsertOne(ctx, measurementDoc{
		ID:         m.ID,
		UserID:     m.UserID,
		Timestamp:  utc(m.Timestamp),
		NoiseLevel: m.NoiseLevel,
		Duration:   m.Duration,
		Location:   entities.PointFrom(m.Location),
		Geohash:    m.Geohash,
	})
	return classify("measurements.insert", err)
}

func (r *MeasurementRepository) Delete(ctx context.Context, id string) error {
	_, err := r.coll.DeleteOne(ctx, bson.M{"_id": id})
	return classify("measurements.delete", err)
}

func (r *MeasurementRepository) GetByID(ctx context.Context, id string) (*entities.RawMeasurement, error) {
	var d measurementDoc
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&d)
	if errors.Is(err, driver.ErrNoDocuments) {
		return nil, repository.ErrMeasurementNotFound
	}
	if err != nil {
		return nil, classify("measurements.get", err)
	}
	return entities.NewRawMeasurement(d.ID, d.UserID, d.Timestamp.UTC(), d.NoiseLevel, d.Duration, d.Location.Location(), d.Geohash), nil
}

// ExposureByUser runs the split as a single $group so no readings are
// shipped to the client.
func (r *MeasurementRepository) ExposureByUser(ctx context.Context, userID string, highDB float64) (entities.Exposure, error) {
	const op = "measurements.exposure"
	pipeline := driver.Pipeline{
		{{Key: "$match", Value: bson.M{"user_id": userID}}},
		{{Key: "$group", Value: bson.M{
			"_id":  nil,
			"high": bson.M{"$sum": bson.M{"$cond": bson.A{bson.M{"$gte": bson.A{"$noise_level", highDB}}, "$duration", 0}}},
			"low":  bson.M{"$sum": bson.M{"$cond": bson.A{bson.M{"$lt": bson.A{"$noise_level", highDB}}, "$duration", 0}}},
		}}},
	}
	cur, err := r.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return entities.Exposure{}, classify(op, err)
	}
	var out []struct {
		High int64 `bson:"high"`
		Low  int64 `bson:"low"`
	}
	if err := cur.All(ctx, &out); err != nil {
		return entities.Exposure{}, classify(op, err)
	}
	if len(out) == 0 {
		return entities.Exposure{}, nil
	}
	return entities.Exposure{HighSeconds: out[0].High, LowSeconds: out[0].Low}, nil
}
