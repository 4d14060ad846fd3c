package data

import (
	"encoding/json"
	"io"
	"time"
)

// Movie is a catalog-linked parent keyed by its catalog code (e.g. ABC-123).
type Movie struct {
	Code      string          `json:"code"`
	Title     string          `json:"title"`
	Cover     string          `json:"cover,omitempty"`
	Detail    *MovieDetail    `json:"detail,omitempty"`
	Magnets   []CatalogMagnet `json:"magnets,omitempty"`
	Status    MovieStatus     `json:"status"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// MovieDetail is the structured record returned by the catalog source.
type MovieDetail struct {
	Title       string          `json:"title"`
	Cover       string          `json:"cover,omitempty"`
	ReleaseDate string          `json:"releaseDate,omitempty"`
	Actors      []string        `json:"actors,omitempty"`
	Genres      []string        `json:"genres,omitempty"`
	Studio      string          `json:"studio,omitempty"`
	Magnets     []CatalogMagnet `json:"magnets,omitempty"`
}

// CatalogMagnet is one magnet variant offered by the catalog for a title.
type CatalogMagnet struct {
	Title       string `json:"title"`
	Link        string `json:"link"`
	Size        string `json:"size,omitempty"`
	NumberSize  int64  `json:"numberSize,omitempty"`
	IsHD        bool   `json:"isHD"`
	HasSubtitle bool   `json:"hasSubtitle"`
}

func (m *Movie) ToJSON(w io.Writer) error { return json.NewEncoder(w).Encode(m) }

func (m *Movie) Clone() *Movie {
	if m == nil {
		return nil
	}
	cp := *m
	if m.Detail != nil {
		d := *m.Detail
		d.Actors = append([]string(nil), m.Detail.Actors...)
		d.Genres = append([]string(nil), m.Detail.Genres...)
		d.Magnets = append([]CatalogMagnet(nil), m.Detail.Magnets...)
		cp.Detail = &d
	}
	if m.Magnets != nil {
		cp.Magnets = append([]CatalogMagnet(nil), m.Magnets...)
	}
	return &cp
}
