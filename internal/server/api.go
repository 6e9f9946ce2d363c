package server

import (
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/vidpub/internal/assets"
	"github.com/desertthunder/vidpub/internal/automation"
	"github.com/desertthunder/vidpub/internal/formatter"
	"github.com/desertthunder/vidpub/internal/models"
	"github.com/desertthunder/vidpub/internal/shared"
	"github.com/desertthunder/vidpub/internal/slots"
	"github.com/gorilla/mux"
)

// JobQueue accepts publish jobs and reports their status.
type JobQueue interface {
	Enqueue(job models.PublishJob) models.JobStatus
	Status(session string) (models.JobStatus, bool)
}

// ChannelRegistry is the persisted set of connected channels.
type ChannelRegistry interface {
	Get(ctx context.Context, channelID string) (*models.Channel, error)
	List(ctx context.Context) ([]models.Channel, error)
	Delete(ctx context.Context, channelID string) error
}

// Automation schedules jobs through a user's publish cycle.
type Automation interface {
	Next(ctx context.Context, userID string, job models.PublishJob) (*automation.Result, error)
}

// Deps are the collaborators behind the API.
type Deps struct {
	Assets     *assets.Store
	Queue      JobQueue
	Channels   ChannelRegistry
	Allocator  *slots.Allocator
	Callback   *ConnectCallback
	Automation Automation
	// PublicURL is the externally reachable base used for connect callbacks.
	PublicURL      string
	MaxUploadBytes int64
	Logger         *log.Logger
}

// API serves sessions, jobs, connections and channels.
type API struct {
	Deps
	logger *log.Logger
}

// NewAPI creates the API handler.
func NewAPI(deps Deps) *API {
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = 512 << 20
	}
	if deps.Logger == nil {
		deps.Logger = shared.NewLogger(nil)
	}
	deps.PublicURL = strings.TrimRight(deps.PublicURL, "/")
	return &API{Deps: deps, logger: shared.WithLogger(deps.Logger, "component", "api")}
}

// Routes returns the HTTP routes this handler serves.
func (a *API) Routes() []Route {
	return []Route{
		{http.MethodPost, "/api/sessions", a.createSession},
		{http.MethodPost, "/api/sessions/{session}/audio", a.uploadAudio},
		{http.MethodPut, "/api/sessions/{session}/image", a.uploadImage},
		{http.MethodPut, "/api/sessions/{session}/overlay", a.uploadOverlay},
		{http.MethodPost, "/api/jobs", a.submitJob},
		{http.MethodGet, "/api/jobs/{session}", a.jobStatus},
		{http.MethodGet, "/api/connect/{platform}", a.connect},
		{http.MethodGet, "/api/channels", a.listChannels},
		{http.MethodDelete, "/api/channels/{id}", a.deleteChannel},
		{http.MethodGet, "/api/pool", a.poolReport},
	}
}

func (a *API) createSession(w http.ResponseWriter, _ *http.Request) {
	id := shared.GenerateID()
	if _, err := a.Assets.Create(id); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"sessionId": id})
}

func (a *API) uploadAudio(w http.ResponseWriter, r *http.Request) {
	session := mux.Vars(r)["session"]
	file, ext, ok := a.formFile(w, r)
	if !ok {
		return
	}
	defer file.Close()

	path, err := a.Assets.AddAudioPart(session, ext, file)
	if err != nil {
		writeErr(w, err)
		return
	}
	parts, _ := a.Assets.AudioParts(session)
	writeJSON(w, http.StatusCreated, map[string]any{"part": filepath.Base(path), "parts": len(parts)})
}

func (a *API) uploadImage(w http.ResponseWriter, r *http.Request) {
	session := mux.Vars(r)["session"]
	file, ext, ok := a.formFile(w, r)
	if !ok {
		return
	}
	defer file.Close()

	path, err := a.Assets.SetImage(session, ext, file)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"image": filepath.Base(path)})
}

func (a *API) uploadOverlay(w http.ResponseWriter, r *http.Request) {
	session := mux.Vars(r)["session"]
	file, ext, ok := a.formFile(w, r)
	if !ok {
		return
	}
	defer file.Close()

	overlay := models.Overlay{Kind: models.OverlayKind(r.FormValue("type"))}
	for name, dst := range map[string]*float64{"x": &overlay.X, "y": &overlay.Y, "w": &overlay.W, "h": &overlay.H} {
		v, err := strconv.ParseFloat(r.FormValue(name), 64)
		if err != nil {
			writeErr(w, fmt.Errorf("%w: overlay %s must be a number", shared.ErrInvalidInput, name))
			return
		}
		*dst = v
	}

	stored, err := a.Assets.SetOverlay(session, ext, file, overlay)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

// formFile reads the "file" part of a multipart upload.
func (a *API) formFile(w http.ResponseWriter, r *http.Request) (multipart.File, string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, a.MaxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "a multipart \"file\" field is required")
		return nil, "", false
	}
	return file, filepath.Ext(header.Filename), true
}

// JobRequest is the body of a job submission.
type JobRequest struct {
	SessionID   string          `json:"sessionId"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Tags        []string        `json:"tags,omitempty"`
	Visibility  string          `json:"visibility,omitempty"`
	PublishAt   *time.Time      `json:"publishAt,omitempty"`
	ChannelID   string          `json:"channelId"`
	Platform    string          `json:"platform,omitempty"`
	Overlay     *models.Overlay `json:"overlay,omitempty"`
	Plan        string          `json:"plan,omitempty"`
	// UserID and Automate route the job through the user's publish cycle.
	UserID   string `json:"userId,omitempty"`
	Automate bool   `json:"automate,omitempty"`
}

func (a *API) submitJob(w http.ResponseWriter, r *http.Request) {
	var req JobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	job, err := a.BuildJob(r.Context(), req)
	if err != nil {
		writeErr(w, err)
		return
	}

	if req.Automate {
		if a.Automation == nil {
			writeError(w, http.StatusNotImplemented, "automation is not enabled")
			return
		}
		res, err := a.Automation.Next(r.Context(), req.UserID, *job)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{
			"status":    res.Status,
			"position":  res.Slot.Position,
			"publishAt": res.Slot.PublishAt,
			"next":      res.Next,
		})
		return
	}

	writeJSON(w, http.StatusAccepted, a.Queue.Enqueue(*job))
}

// BuildJob resolves a submission into a job: the channel decides the credential and platform,
// and the session must already hold its audio and image.
func (a *API) BuildJob(ctx context.Context, req JobRequest) (*models.PublishJob, error) {
	if !assets.ValidSessionID(req.SessionID) {
		return nil, fmt.Errorf("%w: invalid session id %q", shared.ErrInvalidInput, req.SessionID)
	}
	if !a.Assets.Exists(req.SessionID) {
		return nil, fmt.Errorf("%w: %s", shared.ErrSessionNotFound, req.SessionID)
	}
	if req.ChannelID == "" {
		return nil, fmt.Errorf("%w: channelId", shared.ErrMissingArgument)
	}

	channel, err := a.Channels.Get(ctx, req.ChannelID)
	if err != nil {
		return nil, err
	}
	if channel.Status != models.ChannelActive {
		return nil, fmt.Errorf("%w: channel %s is disconnected, connect it again", shared.ErrInvalidInput, channel.ChannelID)
	}
	if req.Platform != "" && models.Platform(req.Platform) != channel.Platform {
		return nil, fmt.Errorf("%w: channel %s is on %s, not %s", shared.ErrInvalidInput, channel.ChannelID, channel.Platform, req.Platform)
	}

	visibility, err := models.ParseVisibility(req.Visibility)
	if err != nil {
		return nil, err
	}

	image, err := a.Assets.ImagePath(req.SessionID)
	if err != nil {
		return nil, err
	}
	parts, err := a.Assets.AudioParts(req.SessionID)
	if err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: audio for session %s", shared.ErrMissingAsset, req.SessionID)
	}

	overlay, err := a.Assets.Overlay(req.SessionID)
	if err != nil {
		return nil, err
	}
	if req.Overlay != nil {
		if overlay == nil {
			return nil, fmt.Errorf("%w: overlay media for session %s", shared.ErrMissingAsset, req.SessionID)
		}
		placed := *req.Overlay
		placed.Path = overlay.Path
		if placed.Kind == "" {
			placed.Kind = overlay.Kind
		}
		overlay = &placed
	}

	plan := models.PlanFree
	if req.Plan == string(models.PlanPro) {
		plan = models.PlanPro
	}

	job := &models.PublishJob{
		SessionID:    req.SessionID,
		AudioPath:    parts[0],
		ImagePath:    image,
		Title:        req.Title,
		Description:  req.Description,
		Tags:         req.Tags,
		Visibility:   visibility,
		PublishAt:    req.PublishAt,
		ChannelID:    channel.ChannelID,
		Platform:     channel.Platform,
		Overlay:      overlay,
		Plan:         plan,
		CredentialID: channel.CredentialID,
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}
	return job, nil
}

func (a *API) jobStatus(w http.ResponseWriter, r *http.Request) {
	session := mux.Vars(r)["session"]
	status, ok := a.Queue.Status(session)
	if !ok {
		writeErr(w, fmt.Errorf("%w: no job for %s", shared.ErrSessionNotFound, session))
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (a *API) connect(w http.ResponseWriter, r *http.Request) {
	platform, err := models.ParsePlatform(mux.Vars(r)["platform"])
	if err != nil {
		writeErr(w, err)
		return
	}

	state := shared.GenerateID()
	conn, err := a.Allocator.ConnectURL(r.Context(), platform, RedirectURL(a.PublicURL, state))
	if err != nil {
		a.logger.Warn("connect refused", "platform", platform, "error", err)
		writeErr(w, err)
		return
	}
	if a.Callback != nil {
		a.Callback.Register(state, platform, conn.CredentialID)
	}

	if r.URL.Query().Get("redirect") == "1" {
		http.Redirect(w, r, conn.URL, http.StatusFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": conn.URL, "credentialId": conn.CredentialID, "state": state})
}

type channelsResponse struct {
	Channels  []models.Channel `json:"channels"`
	Conflicts []slots.Conflict `json:"conflicts,omitempty"`
	Errors    []string         `json:"errors,omitempty"`
}

func (a *API) listChannels(w http.ResponseWriter, r *http.Request) {
	var resp channelsResponse
	for _, res := range a.Allocator.Sync(r.Context()) {
		resp.Conflicts = append(resp.Conflicts, res.Conflicts...)
		if res.Err != nil {
			resp.Errors = append(resp.Errors, fmt.Sprintf("%s: scan failed", res.CredentialID))
		}
	}

	channels, err := a.Channels.List(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	resp.Channels = channels
	if resp.Channels == nil {
		resp.Channels = []models.Channel{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) deleteChannel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := a.Channels.Delete(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	if err := a.Allocator.Pool().Forget(r.Context(), id); err != nil {
		a.logger.Warn("failed to forget channel activity", "channel", id, "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) poolReport(w http.ResponseWriter, r *http.Request) {
	report, err := PoolReport(r.Context(), a.Allocator.Pool())
	if err != nil {
		writeErr(w, err)
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" || format == string(formatter.FormatJSON) {
		writeJSON(w, http.StatusOK, report)
		return
	}

	f, err := formatter.ParseFormat(format)
	if err != nil {
		writeErr(w, err)
		return
	}
	data, err := formatter.Render(report, f)
	if err != nil {
		writeErr(w, err)
		return
	}
	contentType := "text/plain; charset=utf-8"
	if f == formatter.FormatCSV {
		contentType = "text/csv"
	}
	w.Header().Set("Content-Type", contentType)
	_, _ = w.Write(data)
}

// PoolReport snapshots the pool into a report.
func PoolReport(ctx context.Context, pool *slots.Pool) (formatter.PoolReport, error) {
	state, err := pool.Snapshot(ctx)
	if err != nil {
		return formatter.PoolReport{}, err
	}
	ids := make([]string, 0, len(pool.Instances()))
	for _, inst := range pool.Instances() {
		ids = append(ids, inst.ID)
	}
	return formatter.BuildPoolReport(state, ids, pool.Limits().MonthlyQuota, pool.Now()), nil
}
