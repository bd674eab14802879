package proximity

import (
	"math"

	"collection-tracker/internal/geo"
	"collection-tracker/internal/model"
)

// Threshold is the distance in meters under which a collector counts as near.
const Threshold = 100.0

// Evaluate compares the citizen's last fix with the collector's. With either
// position missing it reports out of range and a NaN distance.
func Evaluate(self, other *model.GeoPosition) model.ProximityResult {
	if self == nil || other == nil {
		return model.ProximityResult{WithinRange: false, DistanceMeters: math.NaN()}
	}
	d := geo.Distance(self.Latitude, self.Longitude, other.Latitude, other.Longitude)
	return model.ProximityResult{WithinRange: InRange(d), DistanceMeters: d}
}

// InRange is strict: exactly Threshold meters is out of range.
func InRange(distanceMeters float64) bool {
	return distanceMeters < Threshold
}
