// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geobus

import (
	"math"
)

const (
	// EarthRadius is the mean earth radius in meters.
	EarthRadius = 6371000.0
	// DistanceThreshold is the distance in meters a marker has to move before it is redrawn.
	DistanceThreshold = 2500.0
	// AccuracyThreshold is the accuracy gain in meters that always counts as a change.
	AccuracyThreshold = 50.0
)

// Coordinate is a marker position with its accuracy radius in meters.
type Coordinate struct {
	Lat float64
	Lon float64
	Acc float64
}

// Distance returns the great-circle distance to other in meters.
func (c Coordinate) Distance(other Coordinate) float64 {
	dLat := radians(c.Lat - other.Lat)
	dLon := radians(c.Lon - other.Lon)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(c.Lat))*math.Cos(radians(other.Lat))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadius * math.Asin(math.Sqrt(h))
}

// PosHasSignificantChange reports whether c should replace the marker at other. A clearly
// better accuracy counts as a change even when the marker barely moved.
func (c Coordinate) PosHasSignificantChange(other Coordinate) bool {
	if c.Acc < other.Acc && other.Acc-c.Acc > AccuracyThreshold {
		return true
	}
	return c.Distance(other) > DistanceThreshold
}

// Near reports whether other lies within DistanceThreshold of c.
func (c Coordinate) Near(other Coordinate) bool {
	return c.Distance(other) <= DistanceThreshold
}

// Valid checks the WGS84 value ranges.
func (c Coordinate) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
