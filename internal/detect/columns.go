// Package detect – column classification for multi-location sheets.
//
// A multi-location spreadsheet carries one column per location plus
// aggregate/total columns. Classification buckets each observed header by
// per-location name fragments; it is independent of, and runs after,
// entity detection.
package detect

import "strings"

// Column buckets. Classified location columns use the location's code as
// the bucket value instead of these constants.
const (
	BucketAggregate    = "aggregate"
	BucketUnclassified = "unclassified"
)

// LocationFragments names one location and the header fragments that
// identify its columns (e.g. "bt", "baytown").
type LocationFragments struct {
	Code      string   `json:"code"`
	Fragments []string `json:"fragments"`
}

// aggregateFragments mark combined/total columns spanning all locations.
var aggregateFragments = []string{"total", "combined", "overall", "all locations"}

// ClassifyColumns buckets each header into a location code, aggregate, or
// unclassified. Locations are tested in order and first match wins, so
// callers with ambiguous fragments should order the more specific location
// first, mirroring the registry contract.
func ClassifyColumns(headers []string, locations []LocationFragments) map[string]string {
	out := make(map[string]string, len(headers))
	for _, h := range headers {
		out[h] = classify(h, locations)
	}
	return out
}

func classify(header string, locations []LocationFragments) string {
	folded := foldTitle(header)
	if folded == "" {
		return BucketUnclassified
	}
	for _, frag := range aggregateFragments {
		if strings.Contains(folded, frag) {
			return BucketAggregate
		}
	}
	for _, loc := range locations {
		for _, frag := range loc.Fragments {
			if frag == "" {
				continue
			}
			if strings.Contains(folded, foldTitle(frag)) {
				return loc.Code
			}
		}
	}
	return BucketUnclassified
}
