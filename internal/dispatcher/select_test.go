package dispatcher

import (
	"testing"

	"github.com/tinoosan/magnetron/internal/data"
)

func TestSelect(t *testing.T) {
	tests := []struct {
		name       string
		candidates []data.CatalogMagnet
		opts       SelectOptions
		want       string
		wantOK     bool
	}{
		{
			name: "uncensored beats larger",
			candidates: []data.CatalogMagnet{
				{Title: "ABC-123-UC", IsHD: true},
				{Title: "ABC-123", IsHD: true, NumberSize: 5000},
			},
			opts:   SelectOptions{Priorities: []Property{Uncensored, IsHD}},
			want:   "ABC-123-UC",
			wantOK: true,
		},
		{
			name: "largest hd when required",
			candidates: []data.CatalogMagnet{
				{Title: "a", IsHD: true, NumberSize: 3000},
				{Title: "b", IsHD: true, NumberSize: 5000},
				{Title: "c", NumberSize: 9000},
			},
			opts:   SelectOptions{Priorities: []Property{IsHD}, Required: []Property{IsHD}},
			want:   "b",
			wantOK: true,
		},
		{
			name: "subtitle exact title",
			candidates: []data.CatalogMagnet{
				{Title: "ABC-123", NumberSize: 9000},
				{Title: "abc-123-c", HasSubtitle: true, NumberSize: 100},
			},
			opts:   SelectOptions{Priorities: []Property{HasSubtitle}},
			want:   "abc-123-c",
			wantOK: true,
		},
		{
			name: "subtitle filter uses catalog flags",
			candidates: []data.CatalogMagnet{
				{Title: "ABC-123-UC", IsHD: true},
				{Title: "ABC-123", IsHD: true, NumberSize: 5000},
			},
			opts:   SelectOptions{Priorities: []Property{IsHD}, Required: []Property{HasSubtitle}},
			wantOK: false,
		},
		{
			name: "cracked title does not pass the subtitle filter",
			candidates: []data.CatalogMagnet{
				{Title: "ABC-123 破解", NumberSize: 10},
				{Title: "ABC-123-C", HasSubtitle: true, NumberSize: 5},
			},
			opts:   SelectOptions{Required: []Property{HasSubtitle}},
			want:   "ABC-123-C",
			wantOK: true,
		},
		{
			name: "falls back to largest",
			candidates: []data.CatalogMagnet{
				{Title: "x", NumberSize: 1},
				{Title: "y", NumberSize: 2},
			},
			opts:   SelectOptions{Priorities: []Property{Uncensored, HasSubtitle, IsHD}},
			want:   "y",
			wantOK: true,
		},
		{
			name:       "filter empties the set",
			candidates: []data.CatalogMagnet{{Title: "x"}},
			opts:       SelectOptions{Required: []Property{IsHD}},
			wantOK:     false,
		},
		{
			name:   "no candidates",
			wantOK: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Select("ABC-123", tt.candidates, tt.opts)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v want %v", ok, tt.wantOK)
			}
			if ok && got.Title != tt.want {
				t.Fatalf("got %q want %q", got.Title, tt.want)
			}
		})
	}
}

func TestSelectMarksUncensoredAsSubtitled(t *testing.T) {
	tests := []struct {
		title string
		want  bool
	}{
		{"ABC-123-UC", true},
		{"ABC-123 破解", true},
		{"ABC-123-U", true},
		{"ABC-123-U.mp4", true},
		{"abc-123-u [1080p]", true},
		{"ABC-UMD-001", false},
		{"ABC-123", false},
	}
	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			got, ok := Select("ABC-123", []data.CatalogMagnet{{Title: tt.title}}, SelectOptions{})
			if !ok {
				t.Fatal("expected a match")
			}
			if got.HasSubtitle != tt.want {
				t.Fatalf("HasSubtitle = %v want %v", got.HasSubtitle, tt.want)
			}
		})
	}
}
