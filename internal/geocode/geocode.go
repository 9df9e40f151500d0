// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package geocode resolves marker coordinates into place names.
package geocode

import "context"

// Place is the result of a reverse lookup.
type Place struct {
	Found    bool
	Name     string
	City     string
	State    string
	Country  string
	CacheHit bool
}

// Label returns the shortest useful name of the place.
func (p Place) Label() string {
	switch {
	case p.City != "":
		return p.City
	case p.State != "":
		return p.State
	case p.Country != "":
		return p.Country
	}
	return p.Name
}

type Geocoder interface {
	Name() string
	Reverse(ctx context.Context, lat, lng float64) (Place, error)
}
