package tasks

import (
	"fmt"

	"github.com/desertthunder/vidpub/internal/models"
)

// ProgressUpdate represents a progress event for one job.
//
// Used to send real-time updates to the CLI or UI layer for display.
type ProgressUpdate struct {
	SessionID string // Job the update belongs to
	Phase     Phase  // Pipeline phase
	Step      int    // Current step number
	Total     int    // Total steps in the pipeline
	Message   string // Human-readable message for display
	Data      any    // Phase-specific data: the final [models.JobStatus] on terminal phases
}

// Phase is a step of the publish pipeline.
type Phase int

const (
	Queued Phase = iota
	Assembling
	Uploading
	Posting
	Complete
	Failed
)

const totalSteps = 4

func (p Phase) String() string {
	switch p {
	case Queued:
		return "queued"
	case Assembling:
		return "assembling"
	case Uploading:
		return "uploading"
	case Posting:
		return "posting"
	case Complete:
		return "complete"
	case Failed:
		return "failed"
	default:
		return ""
	}
}

// Terminal reports whether the phase ends the job.
func (p Phase) Terminal() bool {
	return p == Complete || p == Failed
}

func queuedUpdate(job models.PublishJob, position int) ProgressUpdate {
	return ProgressUpdate{
		SessionID: job.SessionID,
		Phase:     Queued,
		Step:      0,
		Total:     totalSteps,
		Message:   fmt.Sprintf("Queued at position %d", position),
	}
}

func assemblingUpdate(job models.PublishJob) ProgressUpdate {
	return ProgressUpdate{
		SessionID: job.SessionID,
		Phase:     Assembling,
		Step:      1,
		Total:     totalSteps,
		Message:   "Rendering video...",
	}
}

func uploadingUpdate(job models.PublishJob, video string) ProgressUpdate {
	return ProgressUpdate{
		SessionID: job.SessionID,
		Phase:     Uploading,
		Step:      2,
		Total:     totalSteps,
		Message:   fmt.Sprintf("Uploading to %s...", job.Platform),
		Data:      video,
	}
}

func postingUpdate(job models.PublishJob) ProgressUpdate {
	return ProgressUpdate{
		SessionID: job.SessionID,
		Phase:     Posting,
		Step:      3,
		Total:     totalSteps,
		Message:   fmt.Sprintf("Posting to channel %s...", job.ChannelID),
	}
}

func completeUpdate(status models.JobStatus) ProgressUpdate {
	return ProgressUpdate{
		SessionID: status.SessionID,
		Phase:     Complete,
		Step:      totalSteps,
		Total:     totalSteps,
		Message:   fmt.Sprintf("Published: %s", status.VideoURL),
		Data:      status,
	}
}

func failedUpdate(status models.JobStatus) ProgressUpdate {
	return ProgressUpdate{
		SessionID: status.SessionID,
		Phase:     Failed,
		Step:      totalSteps,
		Total:     totalSteps,
		Message:   status.Message,
		Data:      status,
	}
}
