package tasks

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/vidpub/internal/assembler"
	"github.com/desertthunder/vidpub/internal/models"
	"github.com/desertthunder/vidpub/internal/services"
	"github.com/desertthunder/vidpub/internal/shared"
	tu "github.com/desertthunder/vidpub/internal/testing"
)

type mockAssembler struct {
	mu      sync.Mutex
	dir     string
	calls   []string
	active  int
	maxSeen int
	err     error
	panics  bool
	block   chan struct{}
	started chan string
}

func (m *mockAssembler) Assemble(_ context.Context, req assembler.Request) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req.SessionID)
	m.active++
	m.maxSeen = max(m.maxSeen, m.active)
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.active--
		m.mu.Unlock()
	}()

	if m.started != nil {
		m.started <- req.SessionID
	}
	if m.block != nil {
		<-m.block
	}
	if m.panics {
		panic("ffmpeg exploded")
	}
	if m.err != nil {
		return "", m.err
	}

	out := m.OutputPath(req.SessionID)
	if err := os.WriteFile(out, []byte("video"), 0o644); err != nil {
		return "", err
	}
	return out, nil
}

func (m *mockAssembler) OutputPath(session string) string {
	return filepath.Join(m.dir, session+".mp4")
}

func (m *mockAssembler) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

type mockSessions struct {
	mu      sync.Mutex
	root    string
	removed []string
}

func (m *mockSessions) Dir(session string) string { return filepath.Join(m.root, session) }

func (m *mockSessions) Remove(session string) error {
	m.mu.Lock()
	m.removed = append(m.removed, session)
	m.mu.Unlock()
	return os.RemoveAll(m.Dir(session))
}

type mockPublisher struct {
	mu        sync.Mutex
	platform  models.Platform
	uploads   []string
	posts     []services.PostRequest
	uploadErr error
	postErr   error
}

func (m *mockPublisher) Platform() models.Platform { return m.platform }

func (m *mockPublisher) Upload(_ context.Context, videoPath string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.uploadErr != nil {
		return "", m.uploadErr
	}
	m.uploads = append(m.uploads, videoPath)
	return "media-" + filepath.Base(videoPath), nil
}

func (m *mockPublisher) Post(_ context.Context, req services.PostRequest) (*services.PostResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.postErr != nil {
		return nil, m.postErr
	}
	m.posts = append(m.posts, req)
	return &services.PostResult{URL: "https://social.test/" + req.MediaID}, nil
}

func (m *mockPublisher) Posts() []services.PostRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]services.PostRequest(nil), m.posts...)
}

type mockPublishers map[string]*mockPublisher

func (m mockPublishers) Publisher(credentialID string, platform models.Platform) (services.Publisher, error) {
	p, ok := m[credentialID+"/"+string(platform)]
	if !ok {
		return nil, shared.ErrCredentialNotFound
	}
	return p, nil
}

type mockUsage struct {
	mu      sync.Mutex
	records []string
}

func (m *mockUsage) RecordUpload(_ context.Context, credentialID, channelID string, platform models.Platform) error {
	m.mu.Lock()
	m.records = append(m.records, credentialID+"/"+channelID+"/"+string(platform))
	m.mu.Unlock()
	return nil
}

type timer struct {
	d time.Duration
	f func()
}

type fakeTimers struct {
	mu     sync.Mutex
	timers []timer
}

func (f *fakeTimers) AfterFunc(d time.Duration, fn func()) {
	f.mu.Lock()
	f.timers = append(f.timers, timer{d, fn})
	f.mu.Unlock()
}

// Fire runs and clears every pending timer with the given delay.
func (f *fakeTimers) Fire(d time.Duration) int {
	f.mu.Lock()
	var run []func()
	kept := f.timers[:0]
	for _, t := range f.timers {
		if t.d == d {
			run = append(run, t.f)
		} else {
			kept = append(kept, t)
		}
	}
	f.timers = kept
	f.mu.Unlock()

	for _, fn := range run {
		fn()
	}
	return len(run)
}

type queueFixture struct {
	asm      *mockAssembler
	sessions *mockSessions
	youtube  *mockPublisher
	facebook *mockPublisher
	usage    *mockUsage
	timers   *fakeTimers
	progress chan ProgressUpdate
	finished chan models.JobStatus
	queue    *Queue
}

const (
	cleanupDelay = 30 * time.Second
	statusTTL    = 10 * time.Minute
)

func newQueueFixture(t *testing.T) *queueFixture {
	t.Helper()
	root := t.TempDir()
	f := &queueFixture{
		asm:      &mockAssembler{dir: filepath.Join(root, "videos")},
		sessions: &mockSessions{root: filepath.Join(root, "sessions")},
		youtube:  &mockPublisher{platform: models.PlatformYouTube},
		facebook: &mockPublisher{platform: models.PlatformFacebook},
		usage:    &mockUsage{},
		timers:   &fakeTimers{},
		progress: make(chan ProgressUpdate, 100),
		finished: make(chan models.JobStatus, 100),
	}
	if err := os.MkdirAll(f.asm.dir, 0o755); err != nil {
		t.Fatal(err)
	}

	publishers := mockPublishers{
		"primary/youtube":  f.youtube,
		"primary/facebook": f.facebook,
	}
	f.queue = NewQueue(f.asm, f.sessions, publishers, f.usage, QueueOptions{
		CleanupDelay: cleanupDelay,
		StatusTTL:    statusTTL,
		AfterFunc:    f.timers.AfterFunc,
		Progress:     f.progress,
		OnFinish:     func(s models.JobStatus) { f.finished <- s },
		Logger:       shared.NewLogger(&strings.Builder{}),
	})
	return f
}

func (f *queueFixture) job(t *testing.T, session string, platform models.Platform) models.PublishJob {
	t.Helper()
	dir := f.sessions.Dir(session)
	tu.MustWriteFile(t, filepath.Join(dir, "audio_001.mp3"), "a")
	tu.MustWriteFile(t, filepath.Join(dir, "image.png"), "i")
	return models.PublishJob{
		SessionID:    session,
		AudioPath:    filepath.Join(dir, "audio_001.mp3"),
		ImagePath:    filepath.Join(dir, "image.png"),
		Title:        "Title " + session,
		Description:  "desc",
		Tags:         []string{"lofi"},
		ChannelID:    "chan-" + string(platform),
		Platform:     platform,
		Plan:         models.PlanFree,
		CredentialID: "primary",
	}
}

func TestQueue(t *testing.T) {
	t.Run("jobs complete in FIFO order", func(t *testing.T) {
		f := newQueueFixture(t)
		for _, s := range []string{"s1", "s2", "s3"} {
			status := f.queue.Enqueue(f.job(t, s, models.PlatformYouTube))
			if status.State != models.JobQueued {
				t.Errorf("Enqueue state = %s, want queued", status.State)
			}
		}
		f.queue.Wait()

		if got := strings.Join(f.asm.Calls(), ","); got != "s1,s2,s3" {
			t.Errorf("assembly order = %s", got)
		}
		posts := f.youtube.Posts()
		if len(posts) != 3 || posts[0].MediaID != "media-s1.mp4" || posts[2].MediaID != "media-s3.mp4" {
			t.Errorf("posts = %+v", posts)
		}
		for _, s := range []string{"s1", "s2", "s3"} {
			st, ok := f.queue.Status(s)
			if !ok || st.State != models.JobComplete {
				t.Fatalf("status(%s) = %+v", s, st)
			}
			if st.VideoURL != "https://social.test/media-"+s+".mp4" {
				t.Errorf("video url = %q", st.VideoURL)
			}
		}
		if len(f.usage.records) != 3 || f.usage.records[0] != "primary/chan-youtube/youtube" {
			t.Errorf("usage records = %v", f.usage.records)
		}
		if f.asm.maxSeen != 1 {
			t.Errorf("concurrent assemblies = %d, want 1", f.asm.maxSeen)
		}
	})

	t.Run("progress follows the state machine", func(t *testing.T) {
		f := newQueueFixture(t)
		f.queue.Enqueue(f.job(t, "s1", models.PlatformYouTube))
		f.queue.Wait()
		close(f.progress)

		var phases []string
		for u := range f.progress {
			phases = append(phases, u.Phase.String())
		}
		want := "queued,assembling,uploading,posting,complete"
		if got := strings.Join(phases, ","); got != want {
			t.Errorf("phases = %s, want %s", got, want)
		}
	})

	t.Run("enqueue does not wait for the active job", func(t *testing.T) {
		f := newQueueFixture(t)
		f.asm.block = make(chan struct{})
		f.asm.started = make(chan string, 2)

		f.queue.Enqueue(f.job(t, "s1", models.PlatformYouTube))
		<-f.asm.started

		st, _ := f.queue.Status("s1")
		if st.State != models.JobProcessing {
			t.Errorf("active job state = %s, want processing", st.State)
		}

		f.queue.Enqueue(f.job(t, "s2", models.PlatformYouTube))
		st, _ = f.queue.Status("s2")
		if st.State != models.JobQueued {
			t.Errorf("waiting job state = %s, want queued", st.State)
		}
		if f.queue.Pending() != 1 {
			t.Errorf("pending = %d, want 1", f.queue.Pending())
		}

		close(f.asm.block)
		<-f.asm.started
		f.queue.Wait()
		if st, _ := f.queue.Status("s2"); st.State != models.JobComplete {
			t.Errorf("s2 state = %s", st.State)
		}
	})

	t.Run("assembly failure fails only that job", func(t *testing.T) {
		f := newQueueFixture(t)
		f.asm.err = errors.New("ffmpeg error: exit status 1")
		f.queue.Enqueue(f.job(t, "bad", models.PlatformYouTube))
		f.queue.Wait()

		st, _ := f.queue.Status("bad")
		if st.State != models.JobFailed {
			t.Fatalf("state = %s, want failed", st.State)
		}
		if st.Message != "an error occurred: ffmpeg error: exit status 1" {
			t.Errorf("message = %q", st.Message)
		}
		if len(f.youtube.Posts()) != 0 {
			t.Error("failed assembly should not publish")
		}
		if len(f.usage.records) != 0 {
			t.Error("failed job should not count usage")
		}

		f.asm.err = nil
		f.queue.Enqueue(f.job(t, "good", models.PlatformYouTube))
		f.queue.Wait()
		if st, _ := f.queue.Status("good"); st.State != models.JobComplete {
			t.Errorf("next job state = %s, want complete", st.State)
		}
	})

	t.Run("publisher failures", func(t *testing.T) {
		tests := []struct {
			name    string
			setup   func(f *queueFixture, job *models.PublishJob)
			message string
		}{
			{
				name:    "upload",
				setup:   func(f *queueFixture, _ *models.PublishJob) { f.youtube.uploadErr = shared.ErrPublisher },
				message: "an error occurred: " + shared.ErrPublisher.Error(),
			},
			{
				name:    "post",
				setup:   func(f *queueFixture, _ *models.PublishJob) { f.youtube.postErr = errors.New("quota exceeded") },
				message: "an error occurred: quota exceeded",
			},
			{
				name:    "publisher for another platform",
				setup:   func(f *queueFixture, _ *models.PublishJob) { f.youtube.platform = models.PlatformFacebook },
				message: "an error occurred: " + shared.ErrPublisher.Error() + ": facebook publisher cannot post to youtube",
			},
			{
				name:    "unknown credential",
				setup:   func(_ *queueFixture, job *models.PublishJob) { job.CredentialID = "ghost" },
				message: "an error occurred: " + shared.ErrCredentialNotFound.Error(),
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				f := newQueueFixture(t)
				job := f.job(t, "s1", models.PlatformYouTube)
				tt.setup(f, &job)

				f.queue.Enqueue(job)
				f.queue.Wait()

				st, _ := f.queue.Status("s1")
				if st.State != models.JobFailed || st.Message != tt.message {
					t.Errorf("status = %s %q, want failed %q", st.State, st.Message, tt.message)
				}
				if st.VideoURL != "" {
					t.Errorf("failed job has url %q", st.VideoURL)
				}
			})
		}
	})

	t.Run("panic is recovered and the queue keeps draining", func(t *testing.T) {
		f := newQueueFixture(t)
		f.asm.panics = true
		f.queue.Enqueue(f.job(t, "boom", models.PlatformYouTube))
		f.queue.Wait()

		st, _ := f.queue.Status("boom")
		if st.State != models.JobFailed || !strings.Contains(st.Message, "ffmpeg exploded") {
			t.Errorf("status = %+v", st)
		}

		f.asm.panics = false
		f.queue.Enqueue(f.job(t, "after", models.PlatformFacebook))
		f.queue.Wait()
		if st, _ := f.queue.Status("after"); st.State != models.JobComplete {
			t.Errorf("state after panic = %s, want complete", st.State)
		}
	})

	t.Run("temporaries are removed after the cleanup delay", func(t *testing.T) {
		f := newQueueFixture(t)
		f.queue.Enqueue(f.job(t, "s1", models.PlatformYouTube))
		f.queue.Wait()

		video := f.asm.OutputPath("s1")
		tu.AssertFileExists(t, video)
		tu.AssertDirExists(t, f.sessions.Dir("s1"))

		if n := f.timers.Fire(cleanupDelay); n != 1 {
			t.Fatalf("cleanup timers = %d, want 1", n)
		}
		tu.AssertNoFile(t, video)
		tu.AssertNoFile(t, f.sessions.Dir("s1"))
	})

	t.Run("terminal status is dropped after its ttl", func(t *testing.T) {
		f := newQueueFixture(t)
		f.asm.err = shared.ErrAssembly
		f.queue.Enqueue(f.job(t, "s1", models.PlatformYouTube))
		f.queue.Wait()

		if _, ok := f.queue.Status("s1"); !ok {
			t.Fatal("status should exist before ttl")
		}
		f.timers.Fire(statusTTL)
		if _, ok := f.queue.Status("s1"); ok {
			t.Error("status should be dropped after ttl")
		}
	})

	t.Run("ttl does not drop a re-enqueued session", func(t *testing.T) {
		f := newQueueFixture(t)
		f.queue.Enqueue(f.job(t, "s1", models.PlatformYouTube))
		f.queue.Wait()

		f.queue.Statuses().Set(models.JobStatus{SessionID: "s1", State: models.JobQueued})
		f.timers.Fire(statusTTL)
		if _, ok := f.queue.Status("s1"); !ok {
			t.Error("non-terminal status must survive an earlier ttl timer")
		}
	})

	t.Run("finish hook sees every terminal status", func(t *testing.T) {
		f := newQueueFixture(t)
		f.queue.Enqueue(f.job(t, "s1", models.PlatformYouTube))
		f.queue.Wait()

		select {
		case st := <-f.finished:
			if st.SessionID != "s1" || st.State != models.JobComplete {
				t.Errorf("finished = %+v", st)
			}
		default:
			t.Error("OnFinish was not called")
		}
	})

	t.Run("full progress channel never blocks", func(t *testing.T) {
		f := newQueueFixture(t)
		full := make(chan ProgressUpdate)
		f.queue.opts.Progress = full

		f.queue.Enqueue(f.job(t, "s1", models.PlatformYouTube))
		f.queue.Wait()
		if st, _ := f.queue.Status("s1"); st.State != models.JobComplete {
			t.Errorf("state = %s", st.State)
		}
	})
}

func TestStatusStore(t *testing.T) {
	s := NewStatusStore()
	s.Set(models.JobStatus{SessionID: "b", State: models.JobComplete})
	s.Set(models.JobStatus{SessionID: "a", State: models.JobProcessing})

	list := s.List()
	if len(list) != 2 || list[0].SessionID != "a" {
		t.Errorf("List = %+v", list)
	}
	if s.DeleteTerminal("a") {
		t.Error("processing status must not be deleted")
	}
	if !s.DeleteTerminal("b") {
		t.Error("complete status should be deleted")
	}
	if s.DeleteTerminal("missing") {
		t.Error("missing status reported deleted")
	}

	s.Reset()
	if len(s.List()) != 0 {
		t.Error("Reset should clear statuses")
	}
}

func TestPhase(t *testing.T) {
	tests := []struct {
		phase    Phase
		name     string
		terminal bool
	}{
		{Queued, "queued", false},
		{Assembling, "assembling", false},
		{Uploading, "uploading", false},
		{Posting, "posting", false},
		{Complete, "complete", true},
		{Failed, "failed", true},
		{Phase(99), "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.phase.String() != tt.name {
				t.Errorf("String() = %q, want %q", tt.phase.String(), tt.name)
			}
			if tt.phase.Terminal() != tt.terminal {
				t.Errorf("Terminal() = %v", tt.phase.Terminal())
			}
		})
	}
}
