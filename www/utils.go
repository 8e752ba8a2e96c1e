package www

import (
	"net/url"
	"strconv"
)

// intParam reads an integer query parameter clamped to [lo, hi]. Missing or
// malformed values fall back to def.
func intParam(q url.Values, key string, def, lo, hi int) int {
	v, err := strconv.Atoi(q.Get(key))
	if err != nil {
		v = def
	}
	return min(max(v, lo), hi)
}
