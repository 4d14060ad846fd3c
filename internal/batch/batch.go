// Package batch runs work over a list in small concurrent chunks with a
// fixed pause between chunks, for upstreams that ban aggressive clients.
package batch

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// Defaults used for catalog refreshes.
const (
	DefaultSize  = 2
	DefaultDelay = time.Second
)

type Options struct {
	Size  int
	Delay time.Duration
}

// Report lists per-item failures by index. A failed item never stops its
// siblings.
type Report struct {
	Total     int
	Succeeded int
	Errors    map[int]error
}

func (r Report) Failed() int { return len(r.Errors) }

// sleep is replaced in tests.
var sleep = defaultSleep

func defaultSleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Run calls fn for every item, Size at a time, waiting Delay between chunks.
// It stops starting new chunks once ctx is done; unstarted items are
// reported with ctx.Err().
func Run[T any](ctx context.Context, items []T, opts Options, fn func(ctx context.Context, item T) error) Report {
	if opts.Size <= 0 {
		opts.Size = DefaultSize
	}
	rep := Report{Total: len(items), Errors: map[int]error{}}
	errs := make([]error, len(items))

	for start := 0; start < len(items); start += opts.Size {
		if start > 0 && opts.Delay > 0 {
			sleep(ctx, opts.Delay)
		}
		end := min(start+opts.Size, len(items))
		if err := ctx.Err(); err != nil {
			for i := start; i < len(items); i++ {
				errs[i] = err
			}
			break
		}
		var g errgroup.Group
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				errs[i] = fn(ctx, items[i])
				return nil
			})
		}
		_ = g.Wait()
	}

	for i, err := range errs {
		if err != nil {
			rep.Errors[i] = err
		} else {
			rep.Succeeded++
		}
	}
	return rep
}
