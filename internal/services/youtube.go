package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/vidpub/internal/shared"
)

// YouTubePublisher posts to YouTube once the uploaded media has finished processing.
type YouTubePublisher struct {
	publisher
	pollInterval time.Duration
	pollTimeout  time.Duration
}

// Upload uploads the video and polls until the API reports it ready, failed, or the poll timeout passes.
func (y *YouTubePublisher) Upload(ctx context.Context, videoPath string) (string, error) {
	media, err := y.upload(ctx, videoPath)
	if err != nil {
		return "", err
	}
	if media.Status == MediaStatusReady {
		return media.ID, nil
	}

	ctx, cancel := context.WithTimeout(ctx, y.pollTimeout)
	defer cancel()

	ticker := time.NewTicker(y.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return "", fmt.Errorf("%w: media %s not ready after %s: %w", shared.ErrPublisher, media.ID, y.pollTimeout, shared.ErrTimeout)
			}
			return "", ctx.Err()
		case <-ticker.C:
		}

		status, err := y.client.MediaStatus(ctx, media.ID)
		if err != nil {
			y.logger.Warn("media status check failed", "media", media.ID, "error", err)
			continue
		}

		switch status.Status {
		case MediaStatusReady:
			return media.ID, nil
		case MediaStatusFailed:
			return "", fmt.Errorf("%w: media %s failed processing: %s", shared.ErrPublisher, media.ID, status.Error)
		}
	}
}

// Post creates the post and waits for the API's answer.
func (y *YouTubePublisher) Post(ctx context.Context, req PostRequest) (*PostResult, error) {
	post, err := y.client.CreatePost(ctx, y.postRequest(req))
	if err != nil {
		return nil, fmt.Errorf("%w: create youtube post: %v", shared.ErrPublisher, err)
	}

	url := post.URL
	if url == "" && post.ID != "" {
		url = "https://www.youtube.com/watch?v=" + post.ID
	}
	return &PostResult{URL: url}, nil
}
