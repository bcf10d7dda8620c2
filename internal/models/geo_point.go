package models

// GeoPoint is an immutable WGS84 coordinate pair
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// NewGeoPoint validates the coordinate ranges and returns the point
func NewGeoPoint(latitude, longitude float64) (GeoPoint, error) {
	if latitude < -90 || latitude > 90 {
		return GeoPoint{}, ErrInvalidLatitude
	}
	if longitude < -180 || longitude > 180 {
		return GeoPoint{}, ErrInvalidLongitude
	}
	return GeoPoint{Latitude: latitude, Longitude: longitude}, nil
}
