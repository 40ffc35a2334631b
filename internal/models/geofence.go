package models

import (
	"time"

	"github.com/onichip/pettrack-backend-go/internal/apperr"
	"github.com/onichip/pettrack-backend-go/internal/spatial"
)

// GeometryType discriminates the zone geometry variants.
type GeometryType string

const (
	GeometryCircle  GeometryType = "Circle"
	GeometryPolygon GeometryType = "Polygon"
)

// Zone display defaults.
const (
	DefaultZoneColor = "#007bff"
	DefaultZoneIcon  = "📍"
)

// LatLng is a coordinate pair in the wire format.
type LatLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Geometry is the stored and wire representation of a zone shape.
// Polygon coordinates are [lon, lat] pairs.
type Geometry struct {
	Type        GeometryType `json:"type"`
	Center      *LatLng      `json:"center,omitempty"`
	Radius      float64      `json:"radius,omitempty"`
	Coordinates [][2]float64 `json:"coordinates,omitempty"`
}

// Shape converts the wire geometry into a validated spatial shape.
func (g Geometry) Shape() (spatial.Shape, error) {
	var s spatial.Shape
	switch g.Type {
	case GeometryCircle:
		if g.Center == nil {
			return nil, apperr.InvalidGeometry("circle requires a center")
		}
		s = spatial.Circle{
			Center:       spatial.Point{Lat: g.Center.Latitude, Lon: g.Center.Longitude},
			RadiusMeters: g.Radius,
		}
	case GeometryPolygon:
		ring := make([]spatial.Point, len(g.Coordinates))
		for i, c := range g.Coordinates {
			ring[i] = spatial.Point{Lat: c[1], Lon: c[0]}
		}
		s = spatial.Polygon{Ring: ring}
	default:
		return nil, apperr.InvalidGeometry("unknown geometry type %q", g.Type)
	}
	if err := spatial.Validate(s); err != nil {
		return nil, err
	}
	return s, nil
}

// AlertConfig controls which transitions produce alerts for a zone.
type AlertConfig struct {
	OnEnter                   bool    `json:"onEnter"`
	OnExit                    bool    `json:"onExit"`
	OnApproaching             bool    `json:"onApproaching"`
	ApproachingDistanceMeters float64 `json:"approachingDistanceMeters"`
	CooldownMinutes           int     `json:"cooldownMinutes"`
}

// Cooldown returns the approaching-alert cooldown as a duration.
func (c AlertConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownMinutes) * time.Minute
}

// ZoneStats are the per-zone transition counters.
type ZoneStats struct {
	TotalEnters            int64      `json:"totalEnters"`
	TotalExits             int64      `json:"totalExits"`
	TotalTimeInsideMinutes float64    `json:"totalTimeInsideMinutes"`
	LastEntered            *time.Time `json:"lastEntered,omitempty"`
	LastExited             *time.Time `json:"lastExited,omitempty"`
}

// GeofenceZone is a named region bound to one entity.
type GeofenceZone struct {
	ID                     string      `json:"id"`
	EntityID               string      `json:"entityId"`
	OwnerID                string      `json:"ownerId,omitempty"`
	Name                   string      `json:"name"`
	Description            string      `json:"description,omitempty"`
	Color                  string      `json:"color"`
	Icon                   string      `json:"icon"`
	Geometry               Geometry    `json:"geometry"`
	AlertConfig            AlertConfig `json:"alertConfig"`
	Stats                  ZoneStats   `json:"stats"`
	LastApproachingAlertAt *time.Time  `json:"lastApproachingAlertAt,omitempty"`
	Active                 bool        `json:"active"`
	CreatedAt              time.Time   `json:"createdAt"`
	UpdatedAt              time.Time   `json:"updatedAt"`
}

// AlertConfigInput is the client-provided alert configuration. Nil fields
// take configured defaults on create and are left unchanged on update.
type AlertConfigInput struct {
	OnEnter                   *bool    `json:"onEnter"`
	OnExit                    *bool    `json:"onExit"`
	OnApproaching             *bool    `json:"onApproaching"`
	ApproachingDistanceMeters *float64 `json:"approachingDistanceMeters"`
	CooldownMinutes           *int     `json:"cooldownMinutes"`
}

// ApplyTo overlays the non-nil fields onto base.
func (in *AlertConfigInput) ApplyTo(base AlertConfig) AlertConfig {
	if in == nil {
		return base
	}
	if in.OnEnter != nil {
		base.OnEnter = *in.OnEnter
	}
	if in.OnExit != nil {
		base.OnExit = *in.OnExit
	}
	if in.OnApproaching != nil {
		base.OnApproaching = *in.OnApproaching
	}
	if in.ApproachingDistanceMeters != nil {
		base.ApproachingDistanceMeters = *in.ApproachingDistanceMeters
	}
	if in.CooldownMinutes != nil {
		base.CooldownMinutes = *in.CooldownMinutes
	}
	return base
}

// CreateGeofenceRequest is the body of POST /geofences.
type CreateGeofenceRequest struct {
	EntityID    string            `json:"entityId" binding:"required"`
	Name        string            `json:"name" binding:"required"`
	Description string            `json:"description"`
	Geometry    Geometry          `json:"geometry"`
	AlertConfig *AlertConfigInput `json:"alertConfig"`
	Color       string            `json:"color"`
	Icon        string            `json:"icon"`
}

// UpdateGeofenceRequest is the body of PUT /geofences/:zoneId. Only
// name, description, geometry, alert configuration and display fields
// are mutable.
type UpdateGeofenceRequest struct {
	Name        *string           `json:"name"`
	Description *string           `json:"description"`
	Geometry    *Geometry         `json:"geometry"`
	AlertConfig *AlertConfigInput `json:"alertConfig"`
	Color       *string           `json:"color"`
	Icon        *string           `json:"icon"`
}

// ZoneActivity is one entry in a zone's recent activity list.
type ZoneActivity struct {
	Type      AlertType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// ZoneStatsReport summarizes a zone's activity over a trailing window.
type ZoneStatsReport struct {
	ZoneID                   string         `json:"zoneId"`
	ZoneName                 string         `json:"zoneName"`
	PeriodDays               int            `json:"periodDays"`
	Lifetime                 ZoneStats      `json:"lifetime"`
	EntersInPeriod           int            `json:"entersInPeriod"`
	ExitsInPeriod            int            `json:"exitsInPeriod"`
	ApproachesInPeriod       int            `json:"approachesInPeriod"`
	TotalEvents              int            `json:"totalEvents"`
	AverageTimeInsideMinutes float64        `json:"averageTimeInsideMinutes"`
	RecentActivity           []ZoneActivity `json:"recentActivity"`
}
