package services

import (
	"context"
	"sync"
	"time"
)

// FacebookPublisher creates posts without waiting for the API to confirm them.
type FacebookPublisher struct {
	publisher
	postTimeout time.Duration
	wg          sync.WaitGroup
}

// Upload uploads the video; the API accepts posts against media still processing.
func (f *FacebookPublisher) Upload(ctx context.Context, videoPath string) (string, error) {
	media, err := f.upload(ctx, videoPath)
	if err != nil {
		return "", err
	}
	return media.ID, nil
}

// Post starts post creation in the background and returns the channel's page URL right away.
//
// The request outlives ctx's cancellation but not the post timeout. A failure is logged and not reported.
func (f *FacebookPublisher) Post(ctx context.Context, req PostRequest) (*PostResult, error) {
	body := f.postRequest(req)
	detached := context.WithoutCancel(ctx)

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()

		ctx, cancel := context.WithTimeout(detached, f.postTimeout)
		defer cancel()

		post, err := f.client.CreatePost(ctx, body)
		if err != nil {
			f.logger.Error("facebook post failed", "channel", body.AccountID, "media", body.MediaID, "error", err)
			return
		}
		f.logger.Info("facebook post created", "channel", body.AccountID, "post", post.ID)
	}()

	return &PostResult{URL: "https://www.facebook.com/" + req.ChannelID}, nil
}

// Wait blocks until every background post has finished.
func (f *FacebookPublisher) Wait() {
	f.wg.Wait()
}
