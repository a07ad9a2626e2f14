package services

import (
	"math"

	"hk-cultural-events/internal/models"
)

// ClassifyRegion maps a coordinate pair to a coarse Hong Kong region.
// Rules are evaluated in order and the thresholds must not change: stored
// venues and clients filter on these exact labels.
func ClassifyRegion(lat, lng float64) models.Region {
	switch {
	case !isFinite(lat) || !isFinite(lng):
		return models.RegionOthers
	case lat < 22.285:
		return models.RegionHongKong
	case lat < 22.36 && lng > 113.9 && lng < 114.27:
		return models.RegionKowloon
	case lat >= 22.36 && lng > 113.8 && lng < 114.4:
		return models.RegionNewTerritories
	default:
		return models.RegionOthers
	}
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
