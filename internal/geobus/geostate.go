// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geobus

// GeolocationState remembers the last coordinate a provider emitted, so streams only publish
// positions that moved.
type GeolocationState struct {
	last     Coordinate
	haveLast bool
}

// HasChanged reports whether coord differs significantly from the last stored coordinate. An empty
// state always reports a change.
func (s *GeolocationState) HasChanged(coord Coordinate) bool {
	if !s.haveLast {
		return true
	}
	return coord.PosHasSignificantChange(s.last)
}

// Update stores coord as the last known coordinate.
func (s *GeolocationState) Update(coord Coordinate) {
	s.last = coord
	s.haveLast = true
}
