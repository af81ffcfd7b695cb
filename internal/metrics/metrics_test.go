package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordIngest(t *testing.T) {
	before := testutil.ToFloat64(MeasurementsIngested.WithLabelValues(ResultOK))
	RecordIngest(ResultOK, 3*time.Millisecond)
	after := testutil.ToFloat64(MeasurementsIngested.WithLabelValues(ResultOK))

	if after-before != 1 {
		t.Errorf("expected ingested counter to grow by 1, got %v", after-before)
	}
}

func TestRecordCompensation(t *testing.T) {
	okBefore := testutil.ToFloat64(Compensations.WithLabelValues(ResultOK))
	errBefore := testutil.ToFloat64(Compensations.WithLabelValues(ResultError))

	RecordCompensation(nil)
	RecordCompensation(errors.New("delete failed"))

	if got := testutil.ToFloat64(Compensations.WithLabelValues(ResultOK)) - okBefore; got != 1 {
		t.Errorf("ok compensations grew by %v, want 1", got)
	}
	if got := testutil.ToFloat64(Compensations.WithLabelValues(ResultError)) - errBefore; got != 1 {
		t.Errorf("failed compensations grew by %v, want 1", got)
	}
}

func TestRecordRadiusQuery(t *testing.T) {
	tests := []struct {
		name     string
		strategy string
		err      error
		result   string
	}{
		{"native ok", "native", nil, ResultOK},
		{"grid error", "grid", errors.New("timeout"), ResultError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := RadiusQueries.WithLabelValues(tt.strategy, tt.result)
			before := testutil.ToFloat64(c)
			RecordRadiusQuery(tt.strategy, time.Millisecond, tt.err)
			if got := testutil.ToFloat64(c) - before; got != 1 {
				t.Errorf("counter grew by %v, want 1", got)
			}
		})
	}
}

func TestRecordAchievement(t *testing.T) {
	c := AchievementsAwarded.WithLabelValues("Measurement Master")
	before := testutil.ToFloat64(c)
	RecordAchievement("Measurement Master")
	if got := testutil.ToFloat64(c) - before; got != 1 {
		t.Errorf("counter grew by %v, want 1", got)
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	c := HTTPRequests.WithLabelValues("GET", "/measurements", "200")
	before := testutil.ToFloat64(c)
	RecordHTTPRequest("GET", "/measurements", 200, 2*time.Millisecond)
	if got := testutil.ToFloat64(c) - before; got != 1 {
		t.Errorf("counter grew by %v, want 1", got)
	}
}
