package services

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/vidpub/internal/models"
	"github.com/desertthunder/vidpub/internal/shared"
)

// Publisher uploads finished videos and posts them to one platform.
type Publisher interface {
	// Platform returns the destination this publisher posts to.
	Platform() models.Platform

	// Upload sends the video to the API and returns its media id once it can be posted.
	Upload(ctx context.Context, videoPath string) (string, error)

	// Post creates or schedules a post of uploaded media on a channel.
	Post(ctx context.Context, req PostRequest) (*PostResult, error)
}

// PostRequest describes a post of previously uploaded media.
type PostRequest struct {
	ChannelID   string
	MediaID     string
	Title       string
	Text        string
	Tags        []string
	Visibility  models.Visibility
	ScheduledAt *time.Time
}

// PostResult is what a publisher reports back for a post.
type PostResult struct {
	URL string
}

// PublisherOptions tunes publisher behavior.
type PublisherOptions struct {
	PollInterval time.Duration
	PollTimeout  time.Duration
	PostTimeout  time.Duration
	Logger       *log.Logger
}

func (o PublisherOptions) withDefaults() PublisherOptions {
	if o.PollInterval <= 0 {
		o.PollInterval = 3 * time.Second
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = 2 * time.Minute
	}
	if o.PostTimeout <= 0 {
		o.PostTimeout = time.Minute
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	return o
}

// NewPublisher returns the publisher for platform backed by client.
func NewPublisher(platform models.Platform, client *Client, opts PublisherOptions) (Publisher, error) {
	opts = opts.withDefaults()
	base := publisher{client: client, platform: platform, logger: opts.Logger.With("platform", platform)}

	switch platform {
	case models.PlatformYouTube:
		return &YouTubePublisher{publisher: base, pollInterval: opts.PollInterval, pollTimeout: opts.PollTimeout}, nil
	case models.PlatformFacebook:
		return &FacebookPublisher{publisher: base, postTimeout: opts.PostTimeout}, nil
	default:
		return nil, fmt.Errorf("%w: no publisher for platform %q", shared.ErrInvalidInput, platform)
	}
}

// publisher holds the parts shared by every platform.
type publisher struct {
	client   *Client
	platform models.Platform
	logger   *log.Logger
}

func (p *publisher) Platform() models.Platform { return p.platform }

func (p *publisher) upload(ctx context.Context, videoPath string) (*Media, error) {
	media, err := p.client.UploadMedia(ctx, videoPath)
	if err != nil {
		return nil, fmt.Errorf("%w: upload to %s: %v", shared.ErrPublisher, p.platform, err)
	}
	return media, nil
}

func (p *publisher) postRequest(req PostRequest) CreatePostRequest {
	return CreatePostRequest{
		AccountID:   req.ChannelID,
		MediaID:     req.MediaID,
		Caption:     req.Text,
		Title:       req.Title,
		Tags:        req.Tags,
		Visibility:  string(req.Visibility),
		ScheduledAt: req.ScheduledAt,
	}
}
