// Package export renders study worksheets and stores them in the blob store.
// Exports run on a background worker; callers poll the returned record.
package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"fmeacore/internal/blob"
	"fmeacore/internal/core"
	"fmeacore/internal/filter"
	"fmeacore/pkg/domain"
)

// Status is the lifecycle stage of an export.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// WorksheetSource provides the filtered worksheet of a study.
type WorksheetSource interface {
	Worksheet(ctx context.Context, studyID string, c filter.Criteria) (core.StudyWorksheet, error)
}

// Artifact is one stored rendering of an export.
type Artifact struct {
	Format      Format    `json:"format"`
	Key         string    `json:"key"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	URL         string    `json:"url,omitempty"`
	Rows        int       `json:"rows"`
	CreatedAt   time.Time `json:"created_at"`
}

// Input describes an export request.
type Input struct {
	StudyID     string          `json:"study_id"`
	Formats     []Format        `json:"formats"`
	Criteria    filter.Criteria `json:"criteria"`
	RequestedBy string          `json:"requested_by,omitempty"`
}

// Record tracks an export request and its artifacts.
type Record struct {
	ID          string     `json:"id"`
	StudyID     string     `json:"study_id"`
	Formats     []Format   `json:"formats"`
	Status      Status     `json:"status"`
	Error       string     `json:"error,omitempty"`
	Artifacts   []Artifact `json:"artifacts,omitempty"`
	RequestedBy string     `json:"requested_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (r Record) clone() Record {
	r.Formats = append([]Format(nil), r.Formats...)
	r.Artifacts = append([]Artifact(nil), r.Artifacts...)
	return r
}

// ErrQueueFull is returned by Enqueue when the worker is saturated.
var ErrQueueFull = errors.New("export queue full")

// Options tune the worker.
type Options struct {
	QueueSize int
	URLExpiry time.Duration
	Logger    *slog.Logger
	Now       func() time.Time
}

// Worker executes exports asynchronously.
type Worker struct {
	source WorksheetSource
	store  blob.Store
	expiry time.Duration
	logger *slog.Logger
	now    func() time.Time

	queue chan task
	mu    sync.RWMutex
	jobs  map[string]*Record

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type task struct {
	id    string
	input Input
}

// NewWorker constructs a worker. Call Start before enqueueing.
func NewWorker(source WorksheetSource, store blob.Store, opts Options) *Worker {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 32
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		source: source,
		store:  store,
		expiry: opts.URLExpiry,
		logger: opts.Logger,
		now:    opts.Now,
		queue:  make(chan task, opts.QueueSize),
		jobs:   make(map[string]*Record),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins processing queued exports.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop halts the worker and waits for the loop to exit or ctx to expire.
func (w *Worker) Stop(ctx context.Context) error {
	w.cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case t := <-w.queue:
			w.process(t)
		}
	}
}

func normalizeFormats(in []Format) ([]Format, error) {
	if len(in) == 0 {
		return []Format{FormatJSON, FormatCSV}, nil
	}
	out := make([]Format, 0, len(in))
	seen := make(map[Format]struct{}, len(in))
	for _, f := range in {
		if !f.Valid() {
			return nil, domain.ValidationError{Field: "formats", Message: fmt.Sprintf("unsupported export format %q", f)}
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out, nil
}

// Enqueue validates the request and schedules it, returning the queued record.
func (w *Worker) Enqueue(_ context.Context, in Input) (Record, error) {
	formats, err := normalizeFormats(in.Formats)
	if err != nil {
		return Record{}, err
	}
	if err := in.Criteria.Validate(); err != nil {
		return Record{}, err
	}
	in.Formats = formats
	now := w.now()
	record := &Record{
		ID:          uuid.NewString(),
		StudyID:     in.StudyID,
		Formats:     formats,
		Status:      StatusQueued,
		RequestedBy: in.RequestedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	w.mu.Lock()
	select {
	case w.queue <- task{id: record.ID, input: in}:
		w.jobs[record.ID] = record
	default:
		w.mu.Unlock()
		return Record{}, ErrQueueFull
	}
	snapshot := record.clone()
	w.mu.Unlock()
	w.logger.Info("export queued", "export_id", record.ID, "study_id", in.StudyID, "formats", formats)
	return snapshot, nil
}

// Get returns a snapshot of an export record.
func (w *Worker) Get(id string) (Record, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	record, ok := w.jobs[id]
	if !ok {
		return Record{}, false
	}
	return record.clone(), true
}

// Run executes an export synchronously on the caller's goroutine.
func (w *Worker) Run(ctx context.Context, in Input) (Record, error) {
	formats, err := normalizeFormats(in.Formats)
	if err != nil {
		return Record{}, err
	}
	in.Formats = formats
	now := w.now()
	record := Record{ID: uuid.NewString(), StudyID: in.StudyID, Formats: formats, RequestedBy: in.RequestedBy, CreatedAt: now}
	artifacts, err := w.export(ctx, record.ID, in)
	done := w.now()
	record.UpdatedAt, record.CompletedAt = done, &done
	if err != nil {
		record.Status, record.Error = StatusFailed, err.Error()
		return record, err
	}
	record.Status, record.Artifacts = StatusSucceeded, artifacts
	return record, nil
}

func (w *Worker) process(t task) {
	w.update(t.id, func(r *Record) { r.Status = StatusRunning })
	artifacts, err := w.export(w.ctx, t.id, t.input)
	done := w.now()
	if err != nil {
		w.logger.Warn("export failed", "export_id", t.id, "study_id", t.input.StudyID, "error", err)
		w.update(t.id, func(r *Record) {
			r.Status, r.Error, r.CompletedAt = StatusFailed, err.Error(), &done
		})
		return
	}
	w.logger.Info("export succeeded", "export_id", t.id, "study_id", t.input.StudyID, "artifacts", len(artifacts))
	w.update(t.id, func(r *Record) {
		r.Status, r.Error, r.Artifacts, r.CompletedAt = StatusSucceeded, "", artifacts, &done
	})
}

func (w *Worker) update(id string, mutate func(*Record)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if record, ok := w.jobs[id]; ok {
		mutate(record)
		record.UpdatedAt = w.now()
	}
}

// export renders every requested format from one worksheet snapshot.
func (w *Worker) export(ctx context.Context, id string, in Input) ([]Artifact, error) {
	ws, err := w.source.Worksheet(ctx, in.StudyID, in.Criteria)
	if err != nil {
		return nil, err
	}
	artifacts := make([]Artifact, 0, len(in.Formats))
	for _, format := range in.Formats {
		payload, err := Render(format, ws)
		if err != nil {
			return nil, err
		}
		key := Key(in.StudyID, id, format)
		info, err := w.store.Put(ctx, key, bytes.NewReader(payload), blob.PutOptions{
			ContentType: format.ContentType(),
			Metadata: map[string]string{
				"study_id":  in.StudyID,
				"export_id": id,
				"rows":      strconv.Itoa(len(ws.Items)),
			},
		})
		if err != nil {
			return nil, fmt.Errorf("store %s export: %w", format, err)
		}
		url, err := w.store.SignedURL(ctx, key, blob.SignedURLOptions{Expiry: w.expiry})
		if err != nil && !errors.Is(err, blob.ErrUnsupported) {
			return nil, fmt.Errorf("sign %s export: %w", format, err)
		}
		artifacts = append(artifacts, Artifact{
			Format:      format,
			Key:         key,
			ContentType: format.ContentType(),
			SizeBytes:   info.Size,
			URL:         url,
			Rows:        len(ws.Items),
			CreatedAt:   w.now(),
		})
	}
	return artifacts, nil
}

// Key is the blob key of one export rendering.
func Key(studyID, exportID string, format Format) string {
	return "studies/" + studyID + "/exports/" + exportID + "." + string(format)
}

// List returns the stored export objects of a study.
func (w *Worker) List(ctx context.Context, studyID string) ([]blob.Info, error) {
	return w.store.List(ctx, "studies/"+studyID+"/exports/")
}
