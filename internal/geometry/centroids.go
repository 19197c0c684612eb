package geometry

import (
	"strings"

	"github.com/paulmach/orb"
)

// Representative points for micro-states that coarse boundary datasets omit.
var countryCentroids = map[string]orb.Point{
	"BB": {-59.543198, 13.1939},
	"MT": {14.3754, 35.9375},
	"MV": {73.5361, 4.1755},
	"KI": {-157.3768, 1.8709},
	"TO": {-175.1982, -21.1394},
	"TV": {179.194, -8.5172},
	"WS": {-171.7514, -13.759},
	"VA": {12.4534, 41.9029},
	"MC": {7.4246, 43.7384},
	"SM": {12.4578, 43.9424},
	"LI": {9.5554, 47.166},
	"AD": {1.5211, 42.5063},
	"LC": {-60.9789, 13.9094},
	"VC": {-61.2872, 12.9843},
	"AG": {-61.843, 17.1274},
	"DM": {-61.387, 15.301},
	"KN": {-62.728, 17.3026},
	"GD": {-61.7486, 12.0561},
	"CV": {-23.6052, 15.1111},
	"ST": {6.7273, 0.1864},
	"SC": {55.4513, -4.6192},
	"MU": {57.5522, -20.1609},
	"KM": {43.8722, -11.7022},
	"JE": {-2.13125, 49.21444},
	"GG": {-2.58528, 49.45544},
	"IM": {-4.48333, 54.15},
	"GI": {-5.3536, 36.1408},
}

// CountryCentroid returns the override point for an ISO alpha-2 code.
func CountryCentroid(iso2 string) (lat, lng float64, ok bool) {
	p, ok := countryCentroids[strings.ToUpper(iso2)]
	if !ok {
		return 0, 0, false
	}
	return p.Lat(), p.Lon(), true
}
