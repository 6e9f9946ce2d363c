package tasks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/vidpub/internal/assembler"
	"github.com/desertthunder/vidpub/internal/metrics"
	"github.com/desertthunder/vidpub/internal/models"
	"github.com/desertthunder/vidpub/internal/services"
	"github.com/desertthunder/vidpub/internal/shared"
)

// Assembler renders a session to a video file.
type Assembler interface {
	Assemble(ctx context.Context, req assembler.Request) (string, error)
	OutputPath(session string) string
}

// SessionStore locates and removes session directories.
type SessionStore interface {
	Dir(session string) string
	Remove(session string) error
}

// PublisherSource resolves the publisher for a credential and platform.
type PublisherSource interface {
	Publisher(credentialID string, platform models.Platform) (services.Publisher, error)
}

// UsageRecorder counts a successful publish against a credential.
type UsageRecorder interface {
	RecordUpload(ctx context.Context, credentialID, channelID string, platform models.Platform) error
}

// AfterFunc runs f once d has elapsed. [time.AfterFunc] in production.
type AfterFunc func(d time.Duration, f func())

// QueueOptions configures a [Queue].
type QueueOptions struct {
	CleanupDelay time.Duration
	StatusTTL    time.Duration
	AfterFunc    AfterFunc
	// Progress receives non-blocking updates; a full channel drops them.
	Progress chan<- ProgressUpdate
	// OnFinish is called with every terminal status.
	OnFinish func(models.JobStatus)
	Logger   *log.Logger
	Context  context.Context
	Now      func() time.Time
}

// Queue is an in-memory FIFO of publish jobs drained by a single worker.
type Queue struct {
	mu      sync.Mutex
	pending []models.PublishJob
	running bool
	wg      sync.WaitGroup

	statuses   *StatusStore
	assembler  Assembler
	sessions   SessionStore
	publishers PublisherSource
	usage      UsageRecorder
	opts       QueueOptions
	logger     *log.Logger
}

// NewQueue creates a Queue. usage may be nil.
func NewQueue(asm Assembler, sessions SessionStore, publishers PublisherSource, usage UsageRecorder, opts QueueOptions) *Queue {
	if opts.AfterFunc == nil {
		opts.AfterFunc = func(d time.Duration, f func()) { time.AfterFunc(d, f) }
	}
	if opts.CleanupDelay <= 0 {
		opts.CleanupDelay = 30 * time.Second
	}
	if opts.StatusTTL <= 0 {
		opts.StatusTTL = 10 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Queue{
		statuses:   NewStatusStore(),
		assembler:  asm,
		sessions:   sessions,
		publishers: publishers,
		usage:      usage,
		opts:       opts,
		logger:     shared.WithLogger(opts.Logger, "component", "queue"),
	}
}

// Statuses exposes the per-session status store.
func (q *Queue) Statuses() *StatusStore {
	return q.statuses
}

// Status returns the current status of a session's job.
func (q *Queue) Status(session string) (models.JobStatus, bool) {
	return q.statuses.Get(session)
}

// Pending returns the number of jobs waiting behind the active one.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Enqueue appends job and starts the worker if it is idle. It never blocks on the job itself.
func (q *Queue) Enqueue(job models.PublishJob) models.JobStatus {
	status := models.JobStatus{
		SessionID: job.SessionID,
		State:     models.JobQueued,
		Message:   "queued",
		UpdatedAt: q.opts.Now(),
	}
	q.statuses.Set(status)

	q.wg.Add(1)
	q.mu.Lock()
	q.pending = append(q.pending, job)
	position := len(q.pending)
	start := !q.running
	q.running = true
	q.mu.Unlock()

	metrics.QueueDepth.Inc()
	q.sendProgress(queuedUpdate(job, position))
	q.logger.Info("job queued", "session", job.SessionID, "platform", job.Platform, "position", position)

	if start {
		go q.drain()
	}
	return status
}

// Wait blocks until every enqueued job has reached a terminal state.
func (q *Queue) Wait() {
	q.wg.Wait()
}

func (q *Queue) drain() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		job := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		metrics.QueueDepth.Dec()
		q.runJob(job)
	}
}

// runJob processes one job and never lets a panic escape the worker.
func (q *Queue) runJob(job models.PublishJob) {
	defer q.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			metrics.WorkerPanics.Inc()
			q.logger.Error("worker panic", "session", job.SessionID, "panic", r)
			q.finish(job, "", models.JobStatus{}, fmt.Errorf("panic: %v", r))
		}
	}()

	status, video, err := q.process(job)
	q.finish(job, video, status, err)
}

func (q *Queue) process(job models.PublishJob) (models.JobStatus, string, error) {
	ctx := q.opts.Context
	status := models.JobStatus{SessionID: job.SessionID}

	q.setState(job.SessionID, models.JobProcessing, "rendering video")
	q.sendProgress(assemblingUpdate(job))

	started := time.Now()
	video, err := q.assembler.Assemble(ctx, assembler.Request{
		SessionID:  job.SessionID,
		SessionDir: q.sessions.Dir(job.SessionID),
		ImagePath:  job.ImagePath,
		Overlay:    job.Overlay,
		Plan:       job.Plan,
	})
	if err != nil {
		return status, "", err
	}
	status.CreationTimeSeconds = time.Since(started).Seconds()

	q.setState(job.SessionID, models.JobUploading, "uploading video")
	q.sendProgress(uploadingUpdate(job, video))

	publisher, err := q.publishers.Publisher(job.CredentialID, job.Platform)
	if err != nil {
		return status, video, err
	}
	if publisher.Platform() != job.Platform {
		return status, video, fmt.Errorf("%w: %s publisher cannot post to %s", shared.ErrPublisher, publisher.Platform(), job.Platform)
	}

	started = time.Now()
	mediaID, err := publisher.Upload(ctx, video)
	if err != nil {
		return status, video, err
	}

	q.sendProgress(postingUpdate(job))
	result, err := publisher.Post(ctx, services.PostRequest{
		ChannelID:   job.ChannelID,
		MediaID:     mediaID,
		Title:       job.Title,
		Text:        job.Caption(),
		Tags:        job.Tags,
		Visibility:  job.Visibility,
		ScheduledAt: job.PublishAt,
	})
	if err != nil {
		return status, video, err
	}
	status.UploadTimeSeconds = time.Since(started).Seconds()
	metrics.UploadDuration.WithLabelValues(string(job.Platform)).Observe(status.UploadTimeSeconds)

	status.VideoURL = result.URL
	if q.usage != nil {
		if err := q.usage.RecordUpload(ctx, job.CredentialID, job.ChannelID, job.Platform); err != nil {
			q.logger.Warn("failed to record upload", "session", job.SessionID, "credential", job.CredentialID, "error", err)
		}
	}
	return status, video, nil
}

// finish writes the terminal status and schedules cleanup of temporaries and the status itself.
func (q *Queue) finish(job models.PublishJob, video string, status models.JobStatus, err error) {
	status.SessionID = job.SessionID
	status.UpdatedAt = q.opts.Now()

	if err != nil {
		status.State = models.JobFailed
		status.Message = FailureMessage(err)
		status.VideoURL = ""
		metrics.JobsTotal.WithLabelValues(string(job.Platform), "failed").Inc()
		q.logger.Error("job failed", "session", job.SessionID, "platform", job.Platform, "error", err)
		q.statuses.Set(status)
		q.sendProgress(failedUpdate(status))
	} else {
		status.State = models.JobComplete
		status.Message = "published"
		metrics.JobsTotal.WithLabelValues(string(job.Platform), "complete").Inc()
		q.logger.Info("job complete", "session", job.SessionID, "platform", job.Platform, "url", status.VideoURL)
		q.statuses.Set(status)
		q.sendProgress(completeUpdate(status))
	}

	if video == "" && q.assembler != nil {
		video = q.assembler.OutputPath(job.SessionID)
	}
	session := job.SessionID
	q.opts.AfterFunc(q.opts.CleanupDelay, func() { q.cleanup(session, video) })
	q.opts.AfterFunc(q.opts.StatusTTL, func() { q.statuses.DeleteTerminal(session) })

	if q.opts.OnFinish != nil {
		q.opts.OnFinish(status)
	}
}

func (q *Queue) cleanup(session, video string) {
	if err := q.sessions.Remove(session); err != nil {
		q.logger.Warn("failed to remove session", "session", session, "error", err)
	}
	if video == "" {
		return
	}
	if err := os.Remove(video); err != nil && !errors.Is(err, os.ErrNotExist) {
		q.logger.Warn("failed to remove video", "path", video, "error", err)
	}
}

func (q *Queue) setState(session string, state models.JobState, message string) {
	q.statuses.Set(models.JobStatus{
		SessionID: session,
		State:     state,
		Message:   message,
		UpdatedAt: q.opts.Now(),
	})
}

// sendProgress sends a progress update through the channel without blocking.
func (q *Queue) sendProgress(update ProgressUpdate) {
	if q.opts.Progress == nil {
		return
	}
	select {
	case q.opts.Progress <- update:
	default:
	}
}

// FailureMessage is the status message shown for a failed job.
func FailureMessage(err error) string {
	return "an error occurred: " + err.Error()
}
