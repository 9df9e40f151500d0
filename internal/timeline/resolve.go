// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package timeline

import (
	"errors"
	"sort"
)

var ErrTooFewKeys = errors.New("at least two keys are required to resolve a bracket")

// Bracket is the pair of adjacent keys that surround a point in time. Ratio is the weight of
// Prev: 1 means t sits on Prev, 0 means t sits on Next.
type Bracket struct {
	Prev  int64
	Next  int64
	Ratio float64
}

// Resolve returns the bracket for t in keys, which must be sorted ascending and contain at
// least two entries. Times before the first key clamp to the first pair with ratio 1, times
// after the last key clamp to the last pair with ratio 0.
func Resolve(keys []int64, t int64) (Bracket, error) {
	n := len(keys)
	if n < 2 {
		return Bracket{}, ErrTooFewKeys
	}
	if t <= keys[0] {
		return Bracket{Prev: keys[0], Next: keys[1], Ratio: 1}, nil
	}
	if t > keys[n-1] {
		return Bracket{Prev: keys[n-2], Next: keys[n-1], Ratio: 0}, nil
	}

	idx := sort.Search(n, func(i int) bool { return keys[i] >= t })
	prev, next := keys[idx-1], keys[idx]
	ratio := float64(next-t) / float64(next-prev)
	return Bracket{Prev: prev, Next: next, Ratio: ratio}, nil
}
