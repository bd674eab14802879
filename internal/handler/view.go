package handler

import (
	"math"

	"collection-tracker/internal/model"
	"collection-tracker/internal/service"
)

// MarkerStyle is handed to the presenter at construction; nothing about marker
// rendering lives in package state.
type MarkerStyle struct {
	SelfIconURL       string
	SelfIconSize      [2]int
	CollectorIconURL  string
	CollectorIconSize [2]int
	Zoom              int
	Padding           [2]int
}

func DefaultMarkerStyle() MarkerStyle {
	return MarkerStyle{
		SelfIconURL:       "/static/img/user.png",
		SelfIconSize:      [2]int{40, 40},
		CollectorIconURL:  "/static/img/camion.png",
		CollectorIconSize: [2]int{38, 38},
		Zoom:              15,
		Padding:           [2]int{50, 50},
	}
}

func BuildView(state service.TrackState, style MarkerStyle) model.MapView {
	view := model.MapView{
		Role:    state.Role,
		Status:  state.Status,
		Markers: []model.Marker{},
	}

	if state.Self != nil {
		m := model.Marker{
			Position: *state.Self,
			Label:    "Your current location",
			IconURL:  style.SelfIconURL,
			IconSize: style.SelfIconSize,
		}
		if state.Role == model.RoleCollector {
			// the collector's own marker is the truck, pointing where it drives
			m.IconURL = style.CollectorIconURL
			m.IconSize = style.CollectorIconSize
			m.Rotation = state.SelfHeading
		}
		view.Markers = append(view.Markers, m)
	}

	if state.Collector != nil {
		view.Markers = append(view.Markers, model.Marker{
			Position: *state.Collector,
			Label:    "Collector location",
			IconURL:  style.CollectorIconURL,
			IconSize: style.CollectorIconSize,
			Rotation: state.CollectorHeading,
		})
	}

	view.Viewport = ViewportFor(state.Self, state.Collector, style)

	if state.Proximity != nil && !math.IsNaN(state.Proximity.DistanceMeters) {
		d := state.Proximity.DistanceMeters
		view.Distance = &d
	}
	return view
}

// ViewportFor fits both positions when known, otherwise centers on self.
func ViewportFor(self, collector *model.GeoPosition, style MarkerStyle) *model.Viewport {
	switch {
	case self != nil && collector != nil:
		sw := model.GeoPosition{
			Latitude:  math.Min(self.Latitude, collector.Latitude),
			Longitude: math.Min(self.Longitude, collector.Longitude),
		}
		ne := model.GeoPosition{
			Latitude:  math.Max(self.Latitude, collector.Latitude),
			Longitude: math.Max(self.Longitude, collector.Longitude),
		}
		return &model.Viewport{Bounds: &[2]model.GeoPosition{sw, ne}, Padding: style.Padding}
	case self != nil:
		center := *self
		return &model.Viewport{Center: &center, Zoom: style.Zoom}
	}
	return nil
}
