package entities

import "time"

// BucketKey identifies one aggregate: a geohash cell during one UTC hour.
type BucketKey struct {
	Geohash    string    `json:"geohash"`
	TimeBucket time.Time `json:"time_bucket"`
}

// AggregateBucket holds the running sum and count of every reading that fell
// into a cell during an hour. Center is the position of the first reading and
// never changes afterwards. Buckets are never deleted or decremented.
type AggregateBucket struct {
	Key      BucketKey `json:"key"`
	SumNoise float64   `json:"sum_noise"`
	Count    int64     `json:"count"`
	Center   Location  `json:"center"`
}

// Intensity returns the mean noise level of the bucket.
func (b AggregateBucket) Intensity() float64 {
	if b.Count == 0 {
		return 0
	}
	return b.SumNoise / float64(b.Count)
}

// NearbyBucket is a bucket returned by a native spatial query together with the
// great-circle distance from the query point to the bucket center.
type NearbyBucket struct {
	AggregateBucket
	DistanceMeters float64 `json:"distance_m"`
}

// TimeWindow bounds a query in time. A zero Start or End leaves that side open.
type TimeWindow struct {
	Start time.Time `json:"start,omitempty"`
	End   time.Time `json:"end,omitempty"`
}

// Contains reports whether t falls inside the window, bounds inclusive.
func (w TimeWindow) Contains(t time.Time) bool {
	if !w.Start.IsZero() && t.Before(w.Start) {
		return false
	}
	if !w.End.IsZero() && t.After(w.End) {
		return false
	}
	return true
}

// IsUnbounded reports whether neither side of the window is set.
func (w TimeWindow) IsUnbounded() bool {
	return w.Start.IsZero() && w.End.IsZero()
}
