package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/vidpub/internal/assets"
	"github.com/desertthunder/vidpub/internal/automation"
	"github.com/desertthunder/vidpub/internal/models"
	"github.com/desertthunder/vidpub/internal/shared"
	"github.com/desertthunder/vidpub/internal/slots"
	tu "github.com/desertthunder/vidpub/internal/testing"
)

var now = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

type fakeQueue struct {
	mu       sync.Mutex
	jobs     []models.PublishJob
	statuses map[string]models.JobStatus
}

func (q *fakeQueue) Enqueue(job models.PublishJob) models.JobStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	st := models.JobStatus{SessionID: job.SessionID, State: models.JobQueued, Message: "queued"}
	q.jobs = append(q.jobs, job)
	q.statuses[job.SessionID] = st
	return st
}

func (q *fakeQueue) Status(session string) (models.JobStatus, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	st, ok := q.statuses[session]
	return st, ok
}

type fakeAutomation struct {
	users []string
}

func (f *fakeAutomation) Next(_ context.Context, userID string, job models.PublishJob) (*automation.Result, error) {
	if userID == "" {
		return nil, shared.ErrInvalidInput
	}
	f.users = append(f.users, userID)
	return &automation.Result{
		Slot:   automation.Slot{Position: 0, Visibility: job.Visibility},
		Status: models.JobStatus{SessionID: job.SessionID, State: models.JobQueued},
		Next:   1,
	}, nil
}

type fixture struct {
	store    *assets.Store
	queue    *fakeQueue
	channels *tu.MemoryChannels
	ledger   *tu.MemoryLedger
	apis     map[string]*tu.MockSlotAPI
	pool     *slots.Pool
	alloc    *slots.Allocator
	callback *ConnectCallback
	auto     *fakeAutomation
	handler  http.Handler
}

func newFixture(t *testing.T, state models.LedgerState) *fixture {
	t.Helper()
	logger := shared.NewLogger(&strings.Builder{})

	store, err := assets.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	f := &fixture{
		store: store,
		queue: &fakeQueue{statuses: map[string]models.JobStatus{}},
		channels: tu.NewMemoryChannels(models.Channel{
			ChannelID: "UC1", Title: "Lofi", Platform: models.PlatformYouTube,
			CredentialID: "primary", Status: models.ChannelActive,
		}),
		ledger: tu.NewMemoryLedger(state),
		apis:   map[string]*tu.MockSlotAPI{},
		auto:   &fakeAutomation{},
	}

	var instances []*slots.Instance
	for _, id := range []string{"primary", "spare"} {
		api := tu.NewMockSlotAPI(id)
		f.apis[id] = api
		instances = append(instances, &slots.Instance{ID: id, API: api})
	}
	f.pool = slots.NewPool(instances, f.ledger, slots.DefaultLimits(),
		slots.WithClock(func() time.Time { return now }), slots.WithLogger(logger))
	f.alloc = slots.NewAllocator(f.pool, f.channels, logger)

	f.callback = NewConnectCallback(func(ctx context.Context, id string) ([]models.Channel, error) {
		inst, err := f.pool.Instance(id)
		if err != nil {
			return nil, err
		}
		res := f.alloc.Scan(ctx, inst)
		return res.Channels, res.Err
	}, time.Hour, logger)

	f.handler = New(Deps{
		Assets:     store,
		Queue:      f.queue,
		Channels:   f.channels,
		Allocator:  f.alloc,
		Callback:   f.callback,
		Automation: f.auto,
		PublicURL:  "https://vidpub.test/",
		Logger:     logger,
	}, nil)
	return f
}

func (f *fixture) do(t *testing.T, method, target string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) upload(t *testing.T, method, target, filename, content string, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	if filename != "" {
		part, err := mw.CreateFormFile("file", filename)
		if err != nil {
			t.Fatal(err)
		}
		_, _ = part.Write([]byte(content))
	}
	mw.Close()
	return f.do(t, method, target, &buf, mw.FormDataContentType())
}

func (f *fixture) postJSON(t *testing.T, target string, v any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return f.do(t, http.MethodPost, target, bytes.NewReader(data), "application/json")
}

// readySession creates a session holding one audio part and an image.
func (f *fixture) readySession(t *testing.T) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/sessions", nil, "")
	var created map[string]string
	decode(t, rec, &created)
	id := created["sessionId"]

	if rec := f.upload(t, http.MethodPost, "/api/sessions/"+id+"/audio", "a.mp3", "audio", nil); rec.Code != http.StatusCreated {
		t.Fatalf("audio upload = %d", rec.Code)
	}
	if rec := f.upload(t, http.MethodPut, "/api/sessions/"+id+"/image", "cover.jpg", "img", nil); rec.Code != http.StatusOK {
		t.Fatalf("image upload = %d", rec.Code)
	}
	return id
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var e errorResponse
	decode(t, rec, &e)
	return e.Code
}

func TestSessions(t *testing.T) {
	t.Run("create", func(t *testing.T) {
		f := newFixture(t, nil)
		rec := f.do(t, http.MethodPost, "/api/sessions", nil, "")
		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d", rec.Code)
		}
		var body map[string]string
		decode(t, rec, &body)
		if !f.store.Exists(body["sessionId"]) {
			t.Errorf("session %q was not created", body["sessionId"])
		}
	})

	t.Run("audio parts accumulate", func(t *testing.T) {
		f := newFixture(t, nil)
		f.upload(t, http.MethodPost, "/api/sessions/s1/audio", "one.mp3", "1", nil)
		rec := f.upload(t, http.MethodPost, "/api/sessions/s1/audio", "two.mp3", "2", nil)
		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d: %s", rec.Code, rec.Body)
		}
		var body map[string]any
		decode(t, rec, &body)
		if body["parts"] != float64(2) {
			t.Errorf("parts = %v, want 2", body["parts"])
		}
	})

	t.Run("missing file field", func(t *testing.T) {
		f := newFixture(t, nil)
		rec := f.upload(t, http.MethodPut, "/api/sessions/s1/image", "", "", nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("invalid session id", func(t *testing.T) {
		f := newFixture(t, nil)
		rec := f.upload(t, http.MethodPut, "/api/sessions/bad.id/image", "x.png", "x", nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("overlay", func(t *testing.T) {
		f := newFixture(t, nil)
		fields := map[string]string{"type": "image", "x": "0.1", "y": "0.2", "w": "0.3", "h": "0.4"}
		rec := f.upload(t, http.MethodPut, "/api/sessions/s1/overlay", "logo.png", "png", fields)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", rec.Code, rec.Body)
		}
		var o models.Overlay
		decode(t, rec, &o)
		if o.Kind != models.OverlayImage || o.W != 0.3 {
			t.Errorf("overlay = %+v", o)
		}

		delete(fields, "x")
		rec = f.upload(t, http.MethodPut, "/api/sessions/s1/overlay", "logo.png", "png", fields)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("missing x: status = %d, want 400", rec.Code)
		}
	})
}

func TestJobs(t *testing.T) {
	t.Run("submit resolves the channel's credential", func(t *testing.T) {
		f := newFixture(t, nil)
		id := f.readySession(t)

		rec := f.postJSON(t, "/api/jobs", JobRequest{SessionID: id, Title: "Night drive", ChannelID: "UC1", Tags: []string{"lofi"}})
		if rec.Code != http.StatusAccepted {
			t.Fatalf("status = %d: %s", rec.Code, rec.Body)
		}
		var st models.JobStatus
		decode(t, rec, &st)
		if st.State != models.JobQueued {
			t.Errorf("state = %s", st.State)
		}

		if len(f.queue.jobs) != 1 {
			t.Fatalf("jobs = %d", len(f.queue.jobs))
		}
		job := f.queue.jobs[0]
		if job.CredentialID != "primary" || job.Platform != models.PlatformYouTube || job.Plan != models.PlanFree {
			t.Errorf("job = %+v", job)
		}
		if job.Visibility != models.VisibilityPublic || job.ImagePath == "" || job.AudioPath == "" {
			t.Errorf("job assets = %+v", job)
		}
	})

	t.Run("rejections", func(t *testing.T) {
		tests := []struct {
			name   string
			setup  func(t *testing.T, f *fixture) JobRequest
			status int
		}{
			{
				name: "missing image",
				setup: func(t *testing.T, f *fixture) JobRequest {
					f.upload(t, http.MethodPost, "/api/sessions/s1/audio", "a.mp3", "a", nil)
					return JobRequest{SessionID: "s1", ChannelID: "UC1"}
				},
				status: http.StatusBadRequest,
			},
			{
				name: "missing audio",
				setup: func(t *testing.T, f *fixture) JobRequest {
					f.upload(t, http.MethodPut, "/api/sessions/s1/image", "a.png", "a", nil)
					return JobRequest{SessionID: "s1", ChannelID: "UC1"}
				},
				status: http.StatusBadRequest,
			},
			{
				name: "unknown session",
				setup: func(*testing.T, *fixture) JobRequest {
					return JobRequest{SessionID: "nope", ChannelID: "UC1"}
				},
				status: http.StatusNotFound,
			},
			{
				name: "unknown channel",
				setup: func(t *testing.T, f *fixture) JobRequest {
					return JobRequest{SessionID: f.readySession(t), ChannelID: "UC404"}
				},
				status: http.StatusNotFound,
			},
			{
				name: "platform mismatch",
				setup: func(t *testing.T, f *fixture) JobRequest {
					return JobRequest{SessionID: f.readySession(t), ChannelID: "UC1", Platform: "facebook"}
				},
				status: http.StatusBadRequest,
			},
			{
				name: "disconnected channel",
				setup: func(t *testing.T, f *fixture) JobRequest {
					_ = f.channels.MarkDisconnected(context.Background(), "primary", models.PlatformYouTube)
					return JobRequest{SessionID: f.readySession(t), ChannelID: "UC1"}
				},
				status: http.StatusBadRequest,
			},
			{
				name: "bad visibility",
				setup: func(t *testing.T, f *fixture) JobRequest {
					return JobRequest{SessionID: f.readySession(t), ChannelID: "UC1", Visibility: "secret"}
				},
				status: http.StatusBadRequest,
			},
			{
				name: "overlay without media",
				setup: func(t *testing.T, f *fixture) JobRequest {
					o := &models.Overlay{Kind: models.OverlayImage, X: 0.1, Y: 0.1, W: 0.2, H: 0.2}
					return JobRequest{SessionID: f.readySession(t), ChannelID: "UC1", Overlay: o}
				},
				status: http.StatusBadRequest,
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				f := newFixture(t, nil)
				req := tt.setup(t, f)
				rec := f.postJSON(t, "/api/jobs", req)
				if rec.Code != tt.status {
					t.Errorf("status = %d, want %d: %s", rec.Code, tt.status, rec.Body)
				}
				if len(f.queue.jobs) != 0 {
					t.Error("rejected job was enqueued")
				}
			})
		}
	})

	t.Run("unknown fields are rejected", func(t *testing.T) {
		f := newFixture(t, nil)
		rec := f.do(t, http.MethodPost, "/api/jobs", strings.NewReader(`{"sessionId":"s1","bogus":1}`), "application/json")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("status", func(t *testing.T) {
		f := newFixture(t, nil)
		if rec := f.do(t, http.MethodGet, "/api/jobs/missing", nil, ""); rec.Code != http.StatusNotFound {
			t.Errorf("missing status = %d, want 404", rec.Code)
		}

		id := f.readySession(t)
		f.postJSON(t, "/api/jobs", JobRequest{SessionID: id, ChannelID: "UC1"})
		rec := f.do(t, http.MethodGet, "/api/jobs/"+id, nil, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var body map[string]any
		decode(t, rec, &body)
		if body["status"] != "queued" {
			t.Errorf("body = %v", body)
		}
	})

	t.Run("automated submission", func(t *testing.T) {
		f := newFixture(t, nil)
		id := f.readySession(t)

		rec := f.postJSON(t, "/api/jobs", JobRequest{SessionID: id, ChannelID: "UC1", Automate: true, UserID: "u1"})
		if rec.Code != http.StatusAccepted {
			t.Fatalf("status = %d: %s", rec.Code, rec.Body)
		}
		if len(f.auto.users) != 1 || f.auto.users[0] != "u1" {
			t.Errorf("automation calls = %v", f.auto.users)
		}
		if len(f.queue.jobs) != 0 {
			t.Error("automated jobs go through the scheduler")
		}
	})
}

func TestConnect(t *testing.T) {
	t.Run("returns an authorization url", func(t *testing.T) {
		f := newFixture(t, nil)
		rec := f.do(t, http.MethodGet, "/api/connect/youtube", nil, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", rec.Code, rec.Body)
		}
		var body map[string]string
		decode(t, rec, &body)
		if body["credentialId"] != "primary" || !strings.HasPrefix(body["url"], "https://connect.test/team-primary/youtube") {
			t.Errorf("body = %v", body)
		}
		if !strings.Contains(body["url"], "https://vidpub.test/api/connect/callback?state="+body["state"]) {
			t.Errorf("redirect missing from %q", body["url"])
		}
		if f.callback.Pending() != 1 {
			t.Errorf("pending = %d, want 1", f.callback.Pending())
		}
	})

	t.Run("redirect mode", func(t *testing.T) {
		f := newFixture(t, nil)
		rec := f.do(t, http.MethodGet, "/api/connect/facebook?redirect=1", nil, "")
		if rec.Code != http.StatusFound || !strings.Contains(rec.Header().Get("Location"), "team-primary/facebook") {
			t.Errorf("status = %d location = %q", rec.Code, rec.Header().Get("Location"))
		}
	})

	t.Run("busy", func(t *testing.T) {
		state := models.LedgerState{}
		for _, id := range []string{"primary", "spare"} {
			rec := models.NewUsageRecord(now)
			rec.SetConnected(models.PlatformYouTube, true)
			rec.Touch(id+"-ch", models.PlatformYouTube, now.Add(-time.Minute))
			state[id] = rec
		}
		f := newFixture(t, state)

		rec := f.do(t, http.MethodGet, "/api/connect/youtube", nil, "")
		if rec.Code != http.StatusServiceUnavailable || errorCode(t, rec) != "busy" {
			t.Errorf("status = %d body = %s", rec.Code, rec.Body)
		}
		if rec.Header().Get("Retry-After") == "" {
			t.Error("busy response should carry Retry-After")
		}
		if f.callback.Pending() != 0 {
			t.Error("refused connect should not register a state")
		}
	})

	t.Run("no capacity", func(t *testing.T) {
		state := models.LedgerState{}
		for _, id := range []string{"primary", "spare"} {
			rec := models.NewUsageRecord(now)
			rec.UploadsThisMonth = 100
			state[id] = rec
		}
		f := newFixture(t, state)

		rec := f.do(t, http.MethodGet, "/api/connect/youtube", nil, "")
		if rec.Code != http.StatusServiceUnavailable || errorCode(t, rec) != "no_capacity" {
			t.Errorf("status = %d body = %s", rec.Code, rec.Body)
		}
	})

	t.Run("unknown platform", func(t *testing.T) {
		f := newFixture(t, nil)
		if rec := f.do(t, http.MethodGet, "/api/connect/vimeo", nil, ""); rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func TestConnectCallback(t *testing.T) {
	t.Run("completes the flow once", func(t *testing.T) {
		f := newFixture(t, nil)
		rec := f.do(t, http.MethodGet, "/api/connect/youtube", nil, "")
		var body map[string]string
		decode(t, rec, &body)

		f.apis["primary"].Link(models.Account{ID: "UC9", Platform: models.PlatformYouTube, Name: "New"})

		target := "/api/connect/callback?" + url.Values{"state": {body["state"]}}.Encode()
		rec = f.do(t, http.MethodGet, target, nil, "")
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "youtube connected") {
			t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
		}

		res := awaitResult(t, f.callback)
		if res.Err() != nil || res.Pending.CredentialID != "primary" || len(res.Channels) != 1 {
			t.Errorf("result = %+v", res)
		}

		ch, err := f.channels.Get(context.Background(), "UC9")
		if err != nil || ch.CredentialID != "primary" {
			t.Errorf("channel = %+v, %v", ch, err)
		}

		if rec := f.do(t, http.MethodGet, target, nil, ""); rec.Code != http.StatusBadRequest {
			t.Errorf("replay status = %d, want 400", rec.Code)
		}
	})

	t.Run("callback is not routed as a platform", func(t *testing.T) {
		f := newFixture(t, nil)
		f.callback.Register("st", models.PlatformYouTube, "primary")

		rec := f.do(t, http.MethodGet, "/api/connect/callback?state=st", nil, "")
		if rec.Code != http.StatusOK || strings.Contains(rec.Body.String(), "unknown platform") {
			t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
		}
		if n := f.callback.Pending(); n != 0 {
			t.Errorf("pending = %d, want 0", n)
		}
		if res := awaitResult(t, f.callback); res.Pending.CredentialID != "primary" {
			t.Errorf("credential = %q, want primary", res.Pending.CredentialID)
		}
	})

	t.Run("unknown state", func(t *testing.T) {
		f := newFixture(t, nil)
		if rec := f.do(t, http.MethodGet, "/api/connect/callback?state=forged", nil, ""); rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("authorization denied", func(t *testing.T) {
		f := newFixture(t, nil)
		f.callback.Register("st", models.PlatformFacebook, "spare")

		rec := f.do(t, http.MethodGet, "/api/connect/callback?state=st&error=access_denied", nil, "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
		res := awaitResult(t, f.callback)
		if !errors.Is(res.Err(), shared.ErrAuthFailed) {
			t.Errorf("error = %v, want ErrAuthFailed", res.Err())
		}
	})

	t.Run("expired state", func(t *testing.T) {
		f := newFixture(t, nil)
		f.callback.Register("old", models.PlatformYouTube, "primary")
		f.callback.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

		if rec := f.do(t, http.MethodGet, "/api/connect/callback?state=old", nil, ""); rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func awaitResult(t *testing.T, cb *ConnectCallback) ConnectResult {
	t.Helper()
	select {
	case res := <-cb.Results():
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("no connect result sent")
		return ConnectResult{}
	}
}

func TestChannels(t *testing.T) {
	t.Run("listing rescans and resolves conflicts", func(t *testing.T) {
		f := newFixture(t, nil)
		f.apis["spare"].Link(models.Account{ID: "UC1", Platform: models.PlatformYouTube, Name: "Lofi"})

		rec := f.do(t, http.MethodGet, "/api/channels", nil, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var body channelsResponse
		decode(t, rec, &body)

		if len(body.Conflicts) != 1 || body.Conflicts[0].PreviousOwner != "primary" || body.Conflicts[0].NewOwner != "spare" {
			t.Errorf("conflicts = %+v", body.Conflicts)
		}
		if f.apis["primary"].Disconnects() != 1 {
			t.Errorf("old owner disconnects = %d, want 1", f.apis["primary"].Disconnects())
		}
		if len(body.Channels) != 1 || body.Channels[0].CredentialID != "spare" {
			t.Errorf("channels = %+v", body.Channels)
		}
	})

	t.Run("delete", func(t *testing.T) {
		f := newFixture(t, nil)
		if rec := f.do(t, http.MethodDelete, "/api/channels/UC1", nil, ""); rec.Code != http.StatusNoContent {
			t.Fatalf("status = %d", rec.Code)
		}
		if rec := f.do(t, http.MethodDelete, "/api/channels/UC1", nil, ""); rec.Code != http.StatusNotFound {
			t.Errorf("second delete = %d, want 404", rec.Code)
		}
	})
}

func TestPoolAndOps(t *testing.T) {
	f := newFixture(t, nil)

	t.Run("pool report json", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/pool", nil, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var body struct {
			Slots []map[string]any `json:"slots"`
		}
		decode(t, rec, &body)
		if len(body.Slots) != 4 {
			t.Errorf("slots = %d, want 4", len(body.Slots))
		}
	})

	t.Run("pool report csv", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/pool?format=csv", nil, "")
		if rec.Header().Get("Content-Type") != "text/csv" || !strings.HasPrefix(rec.Body.String(), "Credential,") {
			t.Errorf("content type = %q body = %q", rec.Header().Get("Content-Type"), rec.Body)
		}
	})

	t.Run("health", func(t *testing.T) {
		if rec := f.do(t, http.MethodGet, "/health", nil, ""); rec.Code != http.StatusOK {
			t.Errorf("status = %d", rec.Code)
		}
	})

	t.Run("metrics", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/metrics", nil, "")
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "vidpub_") {
			t.Errorf("status = %d", rec.Code)
		}
	})

	t.Run("method not allowed", func(t *testing.T) {
		if rec := f.do(t, http.MethodDelete, "/api/pool", nil, ""); rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("status = %d, want 405", rec.Code)
		}
	})

	t.Run("not found", func(t *testing.T) {
		if rec := f.do(t, http.MethodGet, "/nope", nil, ""); rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("recovery", func(t *testing.T) {
		var logs strings.Builder
		h := Recovery(shared.NewLogger(&logs))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic("boom")
		}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("status = %d, want 500", rec.Code)
		}
		if !strings.Contains(logs.String(), "handler panic") {
			t.Errorf("panic not logged: %q", logs.String())
		}
	})

	t.Run("middleware order", func(t *testing.T) {
		var order []string
		mw := func(name string) Middleware {
			return func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					order = append(order, name)
					next.ServeHTTP(w, r)
				})
			}
		}
		r := NewMuxRouter()
		r.Use(mw("first"), mw("second"))
		r.Handle(http.MethodGet, "/x", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			order = append(order, "handler")
		}))

		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))
		if got := strings.Join(order, ","); got != "first,second,handler" {
			t.Errorf("order = %s", got)
		}
	})

	t.Run("cors", func(t *testing.T) {
		h := New(Deps{Logger: shared.NewLogger(&strings.Builder{})}, []string{"https://app.test"})
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "https://app.test")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Header().Get("Access-Control-Allow-Origin") != "https://app.test" {
			t.Errorf("allow origin = %q", rec.Header().Get("Access-Control-Allow-Origin"))
		}
	})
}
