// Package processor turns a raw list of candidate download URLs into the
// title, images and per-URL rows that get persisted.
package processor

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/tinoosan/magnetron/internal/data"
	"github.com/tinoosan/magnetron/internal/magnet"
	"github.com/tinoosan/magnetron/internal/preview"
)

// previewParallelism bounds concurrent preview lookups for one batch.
const previewParallelism = 2

type Mode string

const (
	ModeManual Mode = "manual"
	ModeAuto   Mode = "auto"
)

type Input struct {
	URLs   []string
	Title  string
	Images []string
}

// Candidate is one deduplicated input URL with its preview, if any.
type Candidate struct {
	URL     string
	Preview *data.Preview
}

type Result struct {
	Mode   Mode
	Title  string
	Images []string
	// Items holds one entry per distinct input URL: previewed entries first,
	// then the rest, each group in input order.
	Items []Candidate
}

type Processor struct {
	resolver preview.Resolver
	log      *slog.Logger
}

func New(resolver preview.Resolver, log *slog.Logger) *Processor {
	if log == nil {
		log = slog.Default()
	}
	return &Processor{resolver: resolver, log: log}
}

// Process picks manual mode when a title is supplied and auto mode
// otherwise. Preview failures only drop the preview for that URL, except in
// auto mode where at least one preview is needed to infer a title.
func (p *Processor) Process(ctx context.Context, in Input) (*Result, error) {
	urls := magnet.Dedupe(in.URLs)
	if len(urls) == 0 {
		return nil, data.Invalid("no download urls given")
	}
	title := strings.TrimSpace(in.Title)
	mode := ModeManual
	if title == "" {
		mode = ModeAuto
	}

	magnets := 0
	for _, u := range urls {
		if magnet.IsMagnet(u) {
			magnets++
		}
	}
	if mode == ModeAuto && magnets == 0 {
		return nil, data.Invalid("need at least one magnet to infer metadata")
	}

	previews, lastErr := p.resolve(ctx, urls)

	res := &Result{Mode: mode, Title: title}
	if mode == ModeAuto {
		for _, pv := range previews {
			if pv != nil {
				res.Title = pv.Name
				break
			}
		}
		if res.Title == "" {
			if lastErr == nil {
				lastErr = errors.New("no preview available")
			}
			return nil, &data.UpstreamError{Op: "infer title", Err: lastErr}
		}
	}

	res.Images = in.Images
	if len(res.Images) == 0 {
		res.Images = screenshots(urls, previews, magnets)
	}
	if res.Images == nil {
		res.Images = []string{}
	}

	var rest []Candidate
	for i, u := range urls {
		c := Candidate{URL: u, Preview: previews[i]}
		if c.Preview != nil {
			res.Items = append(res.Items, c)
		} else {
			rest = append(rest, c)
		}
	}
	res.Items = append(res.Items, rest...)
	return res, nil
}

// resolve previews every magnet in urls, keeping results index-aligned.
func (p *Processor) resolve(ctx context.Context, urls []string) ([]*data.Preview, error) {
	out := make([]*data.Preview, len(urls))
	if p.resolver == nil {
		return out, nil
	}
	errs := make([]error, len(urls))
	var g errgroup.Group
	g.SetLimit(previewParallelism)
	for i, u := range urls {
		if !magnet.IsMagnet(u) {
			continue
		}
		i, u := i, u
		g.Go(func() error {
			pv, err := p.resolver.Preview(ctx, u)
			if err != nil {
				p.log.Warn("preview failed", "url", u, "err", err)
				errs[i] = err
				return nil
			}
			out[i] = pv
			return nil
		})
	}
	_ = g.Wait()
	var last error
	for _, err := range errs {
		if err != nil {
			last = err
		}
	}
	return out, last
}

// screenshots picks images from previews: every screenshot when the batch
// has a single magnet, otherwise the first screenshot of each previewed
// magnet in input order.
func screenshots(urls []string, previews []*data.Preview, magnets int) []string {
	if magnets == 1 {
		for _, pv := range previews {
			if pv != nil {
				return append([]string(nil), pv.Screenshots...)
			}
		}
		return nil
	}
	var out []string
	for i := range urls {
		if pv := previews[i]; pv != nil && len(pv.Screenshots) > 0 {
			out = append(out, pv.Screenshots[0])
		}
	}
	return out
}
