package dispatcher

import (
	"regexp"
	"sort"
	"strings"

	"github.com/tinoosan/magnetron/internal/data"
)

// Property names a catalog magnet flag usable as a priority or a filter.
type Property string

const (
	Uncensored  Property = "uncensored"
	HasSubtitle Property = "hasSubtitle"
	IsHD        Property = "isHD"
)

// DefaultPriorities is used when a job does not name its own.
var DefaultPriorities = []Property{Uncensored, HasSubtitle, IsHD}

// SelectOptions steers Select. Required filters the candidates before any
// priority applies.
type SelectOptions struct {
	Priorities []Property `json:"priorities,omitempty"`
	Required   []Property `json:"required,omitempty"`
}

var (
	uncensoredMarkers = []string{"-UC", "UNCENSORED", "无码"}
	crackedMarkers    = []string{"破解", "CRACK"}

	// crackedSuffix matches -U as its own token: ABC-123-U, ABC-123-U.mp4,
	// but not ABC-UMD-001.
	crackedSuffix = regexp.MustCompile(`(?i)-U(?:$|[^A-Za-z])`)
)

// Select picks the best variant of code among candidates. The second result
// is false when Required filters every candidate out.
//
// Required is checked against the catalog's own flags. The survivors whose
// title carries an uncensored or cracked marker are then marked subtitled,
// since the catalog does not flag them.
func Select(code string, candidates []data.CatalogMagnet, opts SelectOptions) (data.CatalogMagnet, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	pool := make([]data.CatalogMagnet, 0, len(candidates))
	for _, c := range candidates {
		if matchesAll(c, opts.Required) {
			pool = append(pool, c)
		}
	}
	if len(pool) == 0 {
		return data.CatalogMagnet{}, false
	}
	for i := range pool {
		if hasMarker(pool[i].Title, uncensoredMarkers) || isCracked(pool[i].Title) {
			pool[i].HasSubtitle = true
		}
	}

	priorities := opts.Priorities
	if len(priorities) == 0 {
		priorities = DefaultPriorities
	}
	for _, p := range priorities {
		switch p {
		case Uncensored:
			if c, ok := exactTitle(pool, code+"-UC"); ok {
				return c, true
			}
		case HasSubtitle:
			if c, ok := exactTitle(pool, code+"-C"); ok {
				return c, true
			}
		case IsHD:
			var hd []data.CatalogMagnet
			for _, c := range pool {
				if c.IsHD {
					hd = append(hd, c)
				}
			}
			if len(hd) > 0 {
				return largest(hd), true
			}
		}
	}
	return largest(pool), true
}

func matchesAll(c data.CatalogMagnet, required []Property) bool {
	for _, p := range required {
		switch p {
		case HasSubtitle:
			if !c.HasSubtitle {
				return false
			}
		case IsHD:
			if !c.IsHD {
				return false
			}
		case Uncensored:
			if !hasMarker(c.Title, uncensoredMarkers) {
				return false
			}
		}
	}
	return true
}

func exactTitle(pool []data.CatalogMagnet, want string) (data.CatalogMagnet, bool) {
	for _, c := range pool {
		if strings.EqualFold(strings.TrimSpace(c.Title), want) {
			return c, true
		}
	}
	return data.CatalogMagnet{}, false
}

// largest returns the biggest candidate by declared size; ties keep the
// earlier one.
func largest(pool []data.CatalogMagnet) data.CatalogMagnet {
	sorted := append([]data.CatalogMagnet(nil), pool...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].NumberSize > sorted[j].NumberSize })
	return sorted[0]
}

func isCracked(title string) bool {
	return hasMarker(title, crackedMarkers) || crackedSuffix.MatchString(title)
}

func hasMarker(title string, markers []string) bool {
	t := strings.ToUpper(title)
	for _, m := range markers {
		if strings.Contains(t, m) {
			return true
		}
	}
	return false
}
