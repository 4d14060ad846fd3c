package reconciler

import (
    "context"
    "errors"
    "log/slog"
    "strings"
    "sync"

    "github.com/google/uuid"
    "github.com/robfig/cron/v3"

    "github.com/tinoosan/magnetron/internal/data"
    "github.com/tinoosan/magnetron/internal/downloader"
    "github.com/tinoosan/magnetron/internal/magnet"
    "github.com/tinoosan/magnetron/internal/metrics"
)

// DefaultSchedule is used when no schedule is configured.
const DefaultSchedule = "@every 3m"

// URLLister is the read side the reconciler needs.
type URLLister interface {
    ListURLsByStatus(ctx context.Context, statuses ...data.URLStatus) ([]data.DownloadURL, error)
}

// StatusMarker applies forward-only row transitions and their rollups.
type StatusMarker interface {
    MarkURL(ctx context.Context, docID, urlID int64, to data.URLStatus) (bool, error)
}

// Report summarizes one pass.
type Report struct {
    Skipped   bool
    Torrents  int
    Checked   int
    Started   int
    Completed int
}

// Reconciler compares stored download rows with the torrents the active
// downloader reports and moves rows forward. Rows whose torrent is gone are
// left as they are.
type Reconciler struct {
    urls     URLLister
    statuses StatusMarker
    provider downloader.Provider
    log      *slog.Logger

    ctx    context.Context
    cancel context.CancelFunc
    cron   *cron.Cron
    mu     sync.Mutex
}

func New(log *slog.Logger, urls URLLister, statuses StatusMarker, provider downloader.Provider) *Reconciler {
    if log == nil {
        log = slog.Default()
    }
    r := &Reconciler{urls: urls, statuses: statuses, provider: provider, log: log}
    r.ctx, r.cancel = context.WithCancel(context.Background())
    r.cron = cron.New(cron.WithChain(
        cron.Recover(cronLogger{log}),
        cron.SkipIfStillRunning(cronLogger{log}),
    ))
    return r
}

// RunOnce performs a single pass. A missing downloader is not an error; an
// unreachable one is returned so the caller can log it and wait for the
// next tick.
func (r *Reconciler) RunOnce(ctx context.Context) (Report, error) {
    var rep Report
    client, err := r.provider.ActiveClient(ctx)
    if err != nil {
        var ue *data.UnavailableError
        if errors.As(err, &ue) && !ue.Configured {
            r.log.Info("reconcile skipped", "reason", err.Error())
            rep.Skipped = true
            return rep, nil
        }
        return rep, err
    }

    torrents, err := client.GetTorrents(ctx)
    if err != nil {
        return rep, err
    }
    rep.Torrents = len(torrents)
    metrics.ActiveTorrents.Set(float64(len(torrents)))
    live := make(map[string]data.Torrent, len(torrents))
    for _, t := range torrents {
        live[strings.ToLower(t.Hash)] = t
    }

    rows, err := r.urls.ListURLsByStatus(ctx, data.StatusUndownload, data.StatusDownloading)
    if err != nil {
        return rep, err
    }
    for _, row := range rows {
        hash := row.Hash
        if hash == "" {
            hash = magnet.ExtractHash(row.URL)
        }
        if hash == "" {
            continue
        }
        rep.Checked++
        t, ok := live[hash]
        if !ok {
            continue
        }
        to := data.StatusDownloading
        if t.Complete() {
            to = data.StatusDownloaded
        }
        changed, err := r.statuses.MarkURL(ctx, row.DocumentID, row.ID, to)
        if err != nil {
            r.log.Error("reconcile mark failed", "url_id", row.ID, "to", to, "err", err)
            continue
        }
        if !changed {
            continue
        }
        metrics.ReconcileTransitions.WithLabelValues(string(to)).Inc()
        if to == data.StatusDownloaded {
            rep.Completed++
        } else {
            rep.Started++
        }
        r.log.Info("reconciled url", "url_id", row.ID, "document_id", row.DocumentID, "hash", hash, "to", to)
    }
    return rep, nil
}

// Schedule registers fn to run on spec. Runs of the same job never overlap.
func (r *Reconciler) Schedule(spec, name string, fn func(ctx context.Context)) error {
    _, err := r.cron.AddFunc(spec, func() {
        fn(r.ctx)
    })
    if err != nil {
        return err
    }
    r.log.Info("job scheduled", "job", name, "spec", spec)
    return nil
}

// Run schedules RunOnce on spec and starts the scheduler.
func (r *Reconciler) Run(spec string) error {
    if spec == "" {
        spec = DefaultSchedule
    }
    // Tag this scheduler with a stable operation_id for easier correlation.
    log := r.log.With("operation_id", uuid.NewString())
    err := r.Schedule(spec, "reconcile", func(ctx context.Context) {
        rep, err := r.RunOnce(ctx)
        if err != nil {
            log.Warn("reconcile failed", "err", err)
            return
        }
        if !rep.Skipped {
            log.Info("reconcile finished", "torrents", rep.Torrents, "checked", rep.Checked, "started", rep.Started, "completed", rep.Completed)
        }
    })
    if err != nil {
        return err
    }
    r.mu.Lock()
    defer r.mu.Unlock()
    r.cron.Start()
    return nil
}

// Stop stops the scheduler and waits for running jobs to return.
func (r *Reconciler) Stop() {
    r.mu.Lock()
    defer r.mu.Unlock()
    r.cancel()
    <-r.cron.Stop().Done()
}

// cronLogger adapts slog to cron's logger interface.
type cronLogger struct{ log *slog.Logger }

func (l cronLogger) Info(msg string, kv ...interface{}) { l.log.Debug("cron: "+msg, kv...) }

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
    l.log.Error("cron: "+msg, append(kv, "err", err)...)
}
