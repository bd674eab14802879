package model

import (
	"fmt"
	"time"
)

// GeoPosition is a single fix in plain degrees. Values are never mutated after creation.
type GeoPosition struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Accuracy   float64   `json:"accuracy,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
}

func (p GeoPosition) Valid() error {
	if p.Latitude < -90 || p.Latitude > 90 {
		return fmt.Errorf("latitude: must be between -90 and 90")
	}
	if p.Longitude < -180 || p.Longitude > 180 {
		return fmt.Errorf("longitude: must be between -180 and 180")
	}
	return nil
}

type Role string

const (
	RoleCitizen   Role = "citizen"
	RoleCollector Role = "collector"
	RoleAdmin     Role = "admin"
)

// ParseRole accepts both the English names and the ones issued by the backend
// in credentials ("usuario", "recolector").
func ParseRole(s string) (Role, error) {
	switch s {
	case "citizen", "usuario", "ciudadano":
		return RoleCitizen, nil
	case "collector", "recolector":
		return RoleCollector, nil
	case "admin", "administrador":
		return RoleAdmin, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

type ProximityResult struct {
	WithinRange    bool    `json:"within_range"`
	DistanceMeters float64 `json:"distance_meters"`
}

type Marker struct {
	Position GeoPosition `json:"position"`
	Label    string      `json:"label"`
	IconURL  string      `json:"icon_url"`
	IconSize [2]int      `json:"icon_size"`
	Rotation float64     `json:"rotation"`
}

// Viewport is either a center+zoom or, when Bounds is set, a box to fit.
type Viewport struct {
	Center  *GeoPosition    `json:"center,omitempty"`
	Zoom    int             `json:"zoom,omitempty"`
	Bounds  *[2]GeoPosition `json:"bounds,omitempty"`
	Padding [2]int          `json:"padding,omitempty"`
}

type MapView struct {
	Role     Role      `json:"role"`
	Markers  []Marker  `json:"markers"`
	Viewport *Viewport `json:"viewport,omitempty"`
	Status   string    `json:"status,omitempty"`
	Distance *float64  `json:"distance_meters,omitempty"`
}

// LocationUpdate is the body the collector device sends to the backend.
type LocationUpdate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}
