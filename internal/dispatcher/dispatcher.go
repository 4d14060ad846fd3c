// Package dispatcher submits persisted download URLs to the active
// downloader and reports each step on the task's progress stream.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/tinoosan/magnetron/internal/data"
	"github.com/tinoosan/magnetron/internal/downloadcfg"
	"github.com/tinoosan/magnetron/internal/downloader"
	"github.com/tinoosan/magnetron/internal/magnet"
	"github.com/tinoosan/magnetron/internal/metrics"
	"github.com/tinoosan/magnetron/internal/progress"
)

// Target is one URL to submit. URLID is zero for links that are not stored.
type Target struct {
	DocumentID int64  `json:"documentId,omitempty"`
	URLID      int64  `json:"urlId,omitempty"`
	URL        string `json:"url"`
}

// Job describes one dispatch. When Candidates are set, only the best
// variant is submitted: the stored target matching it, or the candidate
// link itself.
type Job struct {
	TaskID     string
	Title      string
	Code       string
	Targets    []Target
	Candidates []data.CatalogMagnet
	Select     SelectOptions
	Options    downloadcfg.AddOptions
}

type ItemResult struct {
	URL     string `json:"url"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type Summary struct {
	TaskID    string       `json:"taskId"`
	Total     int          `json:"total"`
	Submitted int          `json:"submitted"`
	Failed    int          `json:"failed"`
	Items     []ItemResult `json:"items"`
	Err       error        `json:"-"`
}

// Tasks is the progress channel the dispatcher reports to.
type Tasks interface {
	progress.Emitter
	Register(taskID string)
}

// StatusMarker moves a stored row forward once its torrent is accepted.
type StatusMarker interface {
	MarkURL(ctx context.Context, docID, urlID int64, to data.URLStatus) (bool, error)
}

type Dispatcher struct {
	provider   downloader.Provider
	statuses   StatusMarker
	tasks      Tasks
	classifier Classifier
	defaults   downloadcfg.AddOptions
	// base outlives the request that started a background dispatch.
	base context.Context
	log  *slog.Logger
}

type Option func(*Dispatcher)

// WithClassifier enables the classification stage.
func WithClassifier(c Classifier) Option { return func(d *Dispatcher) { d.classifier = c } }

// WithDefaults sets options merged under every job's own.
func WithDefaults(o downloadcfg.AddOptions) Option { return func(d *Dispatcher) { d.defaults = o } }

// WithBaseContext sets the context background dispatches run under.
func WithBaseContext(ctx context.Context) Option { return func(d *Dispatcher) { d.base = ctx } }

func New(provider downloader.Provider, statuses StatusMarker, tasks Tasks, log *slog.Logger, opts ...Option) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	d := &Dispatcher{provider: provider, statuses: statuses, tasks: tasks, base: context.Background(), log: log}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Start registers a task for job and dispatches it in the background. The
// returned task id can be subscribed to right away.
func (d *Dispatcher) Start(job Job) string {
	if job.TaskID == "" {
		job.TaskID = uuid.NewString()
	}
	d.tasks.Register(job.TaskID)
	go func() {
		sum := d.Dispatch(d.base, job)
		if sum.Err != nil {
			d.log.Warn("dispatch failed", "task_id", sum.TaskID, "err", sum.Err)
		}
	}()
	return job.TaskID
}

// Dispatch submits every target, one at a time, and collects all outcomes.
// A failed submission never stops the rest. The stream ends with DONE, or
// ERROR when nothing could be submitted.
func (d *Dispatcher) Dispatch(ctx context.Context, job Job) Summary {
	if job.TaskID == "" {
		job.TaskID = uuid.NewString()
	}
	sum := Summary{TaskID: job.TaskID}
	targets, err := d.plan(job)
	if err != nil {
		return d.fail(sum, err)
	}
	sum.Total = len(targets)

	opts := job.Options
	if d.classifier != nil {
		opts = d.classify(ctx, job, targets, opts)
	}
	opts = opts.Merge(d.defaults)

	client, err := d.provider.ActiveClient(ctx)
	if err != nil {
		return d.fail(sum, err)
	}

	d.tasks.Emit(job.TaskID, progress.Event{Stage: progress.StageProgress, Message: "start", Current: 0, Total: len(targets)})
	for i, t := range targets {
		item := d.submit(ctx, client, t, opts)
		sum.Items = append(sum.Items, item)
		if item.Success {
			sum.Submitted++
		} else {
			sum.Failed++
		}
		ok := item.Success
		d.tasks.Emit(job.TaskID, progress.Event{Stage: progress.StageSubmit, URL: t.URL, Success: &ok, Message: item.Message})
		d.tasks.Emit(job.TaskID, progress.Event{Stage: progress.StageProgress, Current: i + 1, Total: len(targets)})
	}

	msg := fmt.Sprintf("%d/%d submitted to %s", sum.Submitted, sum.Total, client.Name())
	if sum.Submitted == 0 {
		sum.Err = errors.New("no torrent was accepted")
		d.tasks.Emit(job.TaskID, progress.Event{Stage: progress.StageError, Message: msg, Data: sum})
		return sum
	}
	d.log.Info("dispatch finished", "task_id", job.TaskID, "submitted", sum.Submitted, "failed", sum.Failed, "backend", client.Name())
	d.tasks.Emit(job.TaskID, progress.Event{Stage: progress.StageDone, Message: msg, Data: sum})
	return sum
}

// plan narrows the job to what gets submitted.
func (d *Dispatcher) plan(job Job) ([]Target, error) {
	if len(job.Candidates) == 0 {
		if len(job.Targets) == 0 {
			return nil, data.Invalid("nothing to dispatch")
		}
		return job.Targets, nil
	}
	best, ok := Select(job.Code, job.Candidates, job.Select)
	if !ok {
		return nil, data.Invalid("no magnet matches the required properties")
	}
	for _, t := range job.Targets {
		if magnet.Equal(t.URL, best.Link) {
			return []Target{t}, nil
		}
	}
	return []Target{{URL: magnet.Canonicalize(best.Link)}}, nil
}

func (d *Dispatcher) classify(ctx context.Context, job Job, targets []Target, opts downloadcfg.AddOptions) downloadcfg.AddOptions {
	d.tasks.Emit(job.TaskID, progress.Event{Stage: progress.StageAIStart, Message: job.Title})
	urls := make([]string, 0, len(targets))
	for _, t := range targets {
		urls = append(urls, t.URL)
	}
	got, err := d.classifier.Classify(ctx, job.Title, urls)
	if err != nil {
		d.log.Warn("classification failed", "task_id", job.TaskID, "err", err)
		d.tasks.Emit(job.TaskID, progress.Event{Stage: progress.StageAIComplete, Message: "classification skipped: " + err.Error()})
		return opts
	}
	d.tasks.Emit(job.TaskID, progress.Event{Stage: progress.StageAIComplete, Message: got.Category, Data: got})
	return opts.Merge(got)
}

func (d *Dispatcher) submit(ctx context.Context, client downloader.Client, t Target, opts downloadcfg.AddOptions) ItemResult {
	item := ItemResult{URL: t.URL}
	res, err := client.AddTorrent(ctx, t.URL, opts)
	switch {
	case err != nil:
		item.Message = err.Error()
	case !res.Success:
		item.Message = res.Message
	default:
		item.Success = true
		item.Message = res.Message
	}
	if !item.Success {
		metrics.DispatchSubmissions.WithLabelValues("failed").Inc()
		d.log.Warn("torrent not accepted", "url", t.URL, "backend", client.Name(), "reason", item.Message)
		return item
	}
	metrics.DispatchSubmissions.WithLabelValues("ok").Inc()
	if t.URLID != 0 && d.statuses != nil {
		if _, err := d.statuses.MarkURL(ctx, t.DocumentID, t.URLID, data.StatusDownloading); err != nil {
			d.log.Error("mark downloading failed", "url_id", t.URLID, "err", err)
		}
	}
	return item
}

func (d *Dispatcher) fail(sum Summary, err error) Summary {
	sum.Err = err
	d.tasks.Emit(sum.TaskID, progress.Event{Stage: progress.StageError, Message: err.Error()})
	return sum
}
