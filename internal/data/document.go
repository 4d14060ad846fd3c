package data

import (
	"encoding/json"
	"io"
	"strconv"
	"time"
)

// Document is the generic parent aggregate that owns download URLs.
type Document struct {
	ID          int64          `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Images      []string       `json:"images"`
	Status      DocumentStatus `json:"status"`
	MovieCode   string         `json:"movieCode,omitempty"`
	URLs        []DownloadURL  `json:"downloadUrls"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// DownloadURL is a child row of a Document. URL is stored in canonical form
// and is unique across the whole store.
type DownloadURL struct {
	ID         int64     `json:"id"`
	DocumentID int64     `json:"documentId"`
	URL        string    `json:"url"`
	Hash       string    `json:"hash,omitempty"`
	Status     URLStatus `json:"status"`
	Detail     *Preview  `json:"detail"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type Documents []*Document

// DocumentPatch carries optional scalar updates applied during an update.
type DocumentPatch struct {
	Title       *string
	Description *string
	Images      []string
}

func (d *Documents) ToJSON(w io.Writer) error { return json.NewEncoder(w).Encode(d) }

func (d *Document) ToJSON(w io.Writer) error { return json.NewEncoder(w).Encode(d) }

// Clone returns a deep copy so callers can't mutate repository state.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	cp := *d
	if d.Images != nil {
		cp.Images = append([]string(nil), d.Images...)
	}
	if d.URLs != nil {
		cp.URLs = make([]DownloadURL, len(d.URLs))
		for i, u := range d.URLs {
			cp.URLs[i] = u.Clone()
		}
	}
	return &cp
}

func (u DownloadURL) Clone() DownloadURL {
	u.Detail = u.Detail.Clone()
	return u
}

func (ds Documents) Clone() Documents {
	out := make(Documents, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.Clone())
	}
	return out
}

// URLStrings returns the stored URL values in row order.
func (d *Document) URLStrings() []string {
	out := make([]string, 0, len(d.URLs))
	for _, u := range d.URLs {
		out = append(out, u.URL)
	}
	return out
}

func ParseID(s string) (int64, error) { return strconv.ParseInt(s, 10, 64) }
