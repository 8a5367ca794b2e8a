package server

import (
	"encoding/json"

	"rastermap/internal/image"
)

// MapRequest is the POST /map body: the expression graph, stored
// verbatim, plus optional visualization parameters.
type MapRequest struct {
	ImageGraph json.RawMessage  `json:"image_graph"`
	VisParams  *image.VisParams `json:"vis_params"`
}

// MapDetail is the registration response payload.
type MapDetail struct {
	ID       string `json:"id"`
	TilesURL string `json:"tiles_url"`
}

// InfoDetail is the POST /info response payload.
type InfoDetail struct {
	CRS       string     `json:"crs"`
	Bounds    *[4]float64 `json:"bounds"`
	MapBounds *[4]float64 `json:"map_bounds"`
	BandNames []string   `json:"band_names"`
	DType     string     `json:"dtype"`
	MinZoom   *int       `json:"min_zoom"`
	MaxZoom   *int       `json:"max_zoom"`
}

// ExportRequest is the POST /export body. CRS fields default to WGS84
// and scale to 1000 meters.
type ExportRequest struct {
	Image  json.RawMessage `json:"image"`
	InCRS  string          `json:"in_crs"`
	CRS    string          `json:"crs"`
	Scale  float64         `json:"scale"`
	Bounds *[4]float64     `json:"bounds"`
	Path   string          `json:"path"`
}
