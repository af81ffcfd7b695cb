package mongo

import (
	"context"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	driver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"noisemap/internal/domain/entities"
	"noisemap/internal/geo"
)

// geoNearSlack widens $geoNear's radius to absorb the difference between the
// server's earth radius and ours; the exact filter runs afterwards.
const geoNearSlack = 1.01

type aggregateDoc struct {
	Geohash    string            `bson:"geohash"`
	TimeBucket time.Time         `bson:"time_bucket"`
	SumNoise   float64           `bson:"sum_noise"`
	Count      int64             `bson:"count"`
	Location   entities.GeoPoint `bson:"location"`
}

func (d aggregateDoc) bucket() entities.AggregateBucket {
	return entities.AggregateBucket{
		Key:      entities.BucketKey{Geohash: d.Geohash, TimeBucket: d.TimeBucket.UTC()},
		SumNoise: d.SumNoise,
		Count:    d.Count,
		Center:   d.Location.Location(),
	}
}

type AggregateRepository struct {
	coll *driver.Collection
}

func NewAggregateRepository(coll *driver.Collection) *AggregateRepository {
	return &AggregateRepository{coll: coll}
}

// Increment is one upsert: $inc on the counters and $setOnInsert for the
// center. Two concurrent upserts for a new key can both miss and both try
// to insert; the loser gets a duplicate-key error and retries, at which
// point the document exists and the update path applies.
func (r *AggregateRepository) Increment(ctx context.Context, key entities.BucketKey, noise float64, center entities.Location) error {
	filter := bson.M{"geohash": key.Geohash, "time_bucket": utc(key.TimeBucket)}
	update := bson.M{
		"$inc":         bson.M{"sum_noise": noise, "count": int64(1)},
		"$setOnInsert": bson.M{"location": entities.PointFrom(center)},
	}
	opts := options.Update().SetUpsert(true)

	_, err := r.coll.UpdateOne(ctx, filter, update, opts)
	if driver.IsDuplicateKeyError(err) {
		_, err = r.coll.UpdateOne(ctx, filter, update, opts)
	}
	return classify("aggregates.increment", err)
}

func (r *AggregateRepository) FindNear(ctx context.Context, center entities.Location, radiusMeters float64, window entities.TimeWindow) ([]entities.NearbyBucket, error) {
	const op = "aggregates.find_near"
	geoNear := bson.D{
		{Key: "near", Value: entities.PointFrom(center)},
		{Key: "distanceField", Value: "distance"},
		{Key: "maxDistance", Value: radiusMeters * geoNearSlack},
		{Key: "spherical", Value: true},
		{Key: "key", Value: "location"},
	}
	if q := windowFilter(window); len(q) > 0 {
		geoNear = append(geoNear, bson.E{Key: "query", Value: q})
	}

	cur, err := r.coll.Aggregate(ctx, driver.Pipeline{{{Key: "$geoNear", Value: geoNear}}})
	if err != nil {
		return nil, classify(op, err)
	}
	var docs []aggregateDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, classify(op, err)
	}

	var result []entities.NearbyBucket
	for _, d := range docs {
		b := d.bucket()
		dist := geo.DistanceKm(center.Latitude, center.Longitude, b.Center.Latitude, b.Center.Longitude) * 1000
		if dist <= radiusMeters {
			result = append(result, entities.NearbyBucket{AggregateBucket: b, DistanceMeters: dist})
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].DistanceMeters != result[j].DistanceMeters {
			return result[i].DistanceMeters < result[j].DistanceMeters
		}
		return result[i].Key.TimeBucket.Before(result[j].Key.TimeBucket)
	})
	return result, nil
}

func (r *AggregateRepository) FindByGeohashes(ctx context.Context, hashes []string, window entities.TimeWindow) ([]entities.AggregateBucket, error) {
	const op = "aggregates.find_by_geohashes"
	if len(hashes) == 0 {
		return nil, nil
	}
	filter := windowFilter(window)
	filter["geohash"] = bson.M{"$in": hashes}

	opts := options.Find().SetSort(bson.D{{Key: "geohash", Value: 1}, {Key: "time_bucket", Value: 1}})
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, classify(op, err)
	}
	var docs []aggregateDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, classify(op, err)
	}

	result := make([]entities.AggregateBucket, 0, len(docs))
	for _, d := range docs {
		result = append(result, d.bucket())
	}
	return result, nil
}

func windowFilter(w entities.TimeWindow) bson.M {
	filter := bson.M{}
	bounds := bson.M{}
	if !w.Start.IsZero() {
		bounds["$gte"] = utc(w.Start)
	}
	if !w.End.IsZero() {
		bounds["$lte"] = utc(w.End)
	}
	if len(bounds) > 0 {
		filter["time_bucket"] = bounds
	}
	return filter
}
