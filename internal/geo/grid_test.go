package geo

import (
	"sort"
	"testing"
)

func TestCellsWithinRadius_ContainsCenterCell(t *testing.T) {
	cells := CellsWithinRadius(45.0, 9.0, 1.0, 7)
	center := Encode(45.0, 9.0, 7)

	idx := sort.SearchStrings(cells, center)
	if idx >= len(cells) || cells[idx] != center {
		t.Fatalf("expected center cell %s in result", center)
	}
}

func TestCellsWithinRadius_AllCentersInside(t *testing.T) {
	const radius = 0.8
	cells := CellsWithinRadius(45.4642, 9.19, radius, 7)
	if len(cells) == 0 {
		t.Fatal("expected cells")
	}

	seen := make(map[string]bool)
	for _, c := range cells {
		if seen[c] {
			t.Errorf("duplicate cell %s", c)
		}
		seen[c] = true
		if len(c) != 7 {
			t.Errorf("cell %s has precision %d, want 7", c, len(c))
		}
		lat, lon := Decode(c)
		if d := DistanceKm(45.4642, 9.19, lat, lon); d > radius {
			t.Errorf("cell %s center is %.3f km away, radius %.3f", c, d, radius)
		}
	}
	if !sort.StringsAreSorted(cells) {
		t.Error("expected sorted result")
	}
}

// Every cell whose center is inside the circle must be found. The brute force
// scan walks the bounding box at a quarter-cell step and encodes every sample.
func TestCellsWithinRadius_Complete(t *testing.T) {
	tests := []struct {
		name     string
		lat, lon float64
		radius   float64
	}{
		{"mid latitude", 45.0, 9.0, 0.5},
		{"equator", 0.01, 0.01, 0.4},
		{"high latitude", 69.65, 18.95, 0.6},
		{"antimeridian", -16.5, 179.999, 0.4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := make(map[string]bool)
			for _, c := range CellsWithinRadius(tt.lat, tt.lon, tt.radius, 7) {
				got[c] = true
			}

			h, w := CellSize(7)
			box := BoundingBox(tt.lat, tt.lon, tt.radius)
			for y := box.MinLat; y <= box.MaxLat; y += h / 4 {
				for x := box.MinLon; x <= box.MaxLon; x += w / 4 {
					hash := Encode(y, NormalizeLon(x), 7)
					cLat, cLon := Decode(hash)
					if DistanceKm(tt.lat, tt.lon, cLat, cLon) <= tt.radius && !got[hash] {
						t.Errorf("missing cell %s", hash)
						return
					}
				}
			}
		})
	}
}

func TestCellsWithinRadius_Edges(t *testing.T) {
	if cells := CellsWithinRadius(45.0, 9.0, -1, 7); cells != nil {
		t.Errorf("negative radius: expected nil, got %v", cells)
	}
	if cells := CellsWithinRadius(91, 9.0, 1, 7); cells != nil {
		t.Errorf("invalid latitude: expected nil, got %v", cells)
	}

	// A tiny radius keeps at most the center cell, and only when the query
	// point is close enough to that cell's center.
	lat, lon := Decode("u0n2hb1")
	cells := CellsWithinRadius(lat, lon, 0.001, 7)
	if len(cells) != 1 || cells[0] != "u0n2hb1" {
		t.Errorf("expected only the center cell, got %v", cells)
	}
}

func BenchmarkCellsWithinRadius(b *testing.B) {
	for i := 0; i < b.N; i++ {
		CellsWithinRadius(45.4642, 9.19, 1.0, 7)
	}
}
