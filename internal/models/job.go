package models

import (
	"fmt"
	"time"

	"github.com/desertthunder/vidpub/internal/shared"
)

// OverlayKind is the media type of an overlay.
type OverlayKind string

const (
	OverlayImage OverlayKind = "image"
	OverlayVideo OverlayKind = "video"
)

// Overlay places an image or a looping video on the canvas.
//
// X, Y, W and H are fractions of the canvas in [0,1].
type Overlay struct {
	Kind OverlayKind `json:"type"`
	Path string      `json:"path"`
	X    float64     `json:"x"`
	Y    float64     `json:"y"`
	W    float64     `json:"w"`
	H    float64     `json:"h"`
}

// Validate checks the overlay kind, path and normalized geometry.
func (o Overlay) Validate() error {
	if o.Kind != OverlayImage && o.Kind != OverlayVideo {
		return fmt.Errorf("%w: overlay type must be image or video, got %q", shared.ErrInvalidInput, o.Kind)
	}
	if o.Path == "" {
		return fmt.Errorf("%w: overlay path is required", shared.ErrInvalidInput)
	}
	for name, v := range map[string]float64{"x": o.X, "y": o.Y, "w": o.W, "h": o.H} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%w: overlay %s must be within [0,1], got %g", shared.ErrInvalidInput, name, v)
		}
	}
	if o.W == 0 || o.H == 0 {
		return fmt.Errorf("%w: overlay must have a non-zero size", shared.ErrInvalidInput)
	}
	return nil
}

// PublishJob is a request to render a session and publish the result.
//
// A job is immutable once enqueued. CredentialID is resolved from the channel's owner before enqueueing.
type PublishJob struct {
	SessionID    string     `json:"sessionId"`
	AudioPath    string     `json:"audioPath"`
	ImagePath    string     `json:"imagePath"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	Tags         []string   `json:"tags,omitempty"`
	Visibility   Visibility `json:"visibility"`
	PublishAt    *time.Time `json:"publishAt,omitempty"`
	ChannelID    string     `json:"channelId"`
	Platform     Platform   `json:"platform"`
	Overlay      *Overlay   `json:"overlay,omitempty"`
	Plan         Plan       `json:"plan"`
	CredentialID string     `json:"credentialId"`
}

// Validate checks that the job names everything the worker needs.
func (j PublishJob) Validate() error {
	switch {
	case j.SessionID == "":
		return fmt.Errorf("%w: session id is required", shared.ErrInvalidInput)
	case j.ChannelID == "":
		return fmt.Errorf("%w: channel id is required", shared.ErrInvalidInput)
	case !j.Platform.Valid():
		return fmt.Errorf("%w: unknown platform %q", shared.ErrInvalidInput, j.Platform)
	case j.CredentialID == "":
		return fmt.Errorf("%w: job has no credential", shared.ErrInvalidInput)
	case j.ImagePath == "":
		return fmt.Errorf("%w: image", shared.ErrMissingAsset)
	case j.AudioPath == "":
		return fmt.Errorf("%w: audio", shared.ErrMissingAsset)
	}
	if j.Overlay != nil {
		return j.Overlay.Validate()
	}
	return nil
}

// Caption joins the title and description into post text.
func (j PublishJob) Caption() string {
	switch {
	case j.Description == "":
		return j.Title
	case j.Title == "":
		return j.Description
	default:
		return j.Title + "\n\n" + j.Description
	}
}

// JobState is the lifecycle stage of a job.
type JobState string

const (
	JobQueued     JobState = "queued"
	JobProcessing JobState = "processing"
	JobUploading  JobState = "uploading"
	JobComplete   JobState = "complete"
	JobFailed     JobState = "failed"
)

// Terminal reports whether no further transitions will happen.
func (s JobState) Terminal() bool {
	return s == JobComplete || s == JobFailed
}

// JobStatus is the externally visible progress of one session's job.
type JobStatus struct {
	SessionID           string    `json:"sessionId"`
	State               JobState  `json:"status"`
	Message             string    `json:"message"`
	VideoURL            string    `json:"videoUrl,omitempty"`
	CreationTimeSeconds float64   `json:"creationTimeSeconds,omitempty"`
	UploadTimeSeconds   float64   `json:"uploadTimeSeconds,omitempty"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

// AutomationCycle is a user's position in the round-robin publishing cycle.
type AutomationCycle struct {
	UserID    string    `json:"userId"`
	Position  int       `json:"position"`
	ChannelID string    `json:"channelId"`
	UpdatedAt time.Time `json:"updatedAt"`
}
