package models

import (
	"fmt"
	"time"

	"github.com/desertthunder/vidpub/internal/shared"
)

// ChannelStatus is the registry state of a channel.
type ChannelStatus string

const (
	ChannelActive       ChannelStatus = "active"
	ChannelDisconnected ChannelStatus = "disconnected"
)

// Channel is a destination channel owned by one credential.
//
// ChannelID is the remote account id and the reconciliation key.
type Channel struct {
	ChannelID    string        `json:"channelId"`
	Title        string        `json:"channelTitle"`
	Thumbnail    string        `json:"thumbnail,omitempty"`
	Platform     Platform      `json:"platform"`
	CredentialID string        `json:"credentialInstanceId"`
	Status       ChannelStatus `json:"status"`
	LastActiveAt time.Time     `json:"lastActiveAt,omitzero"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// Validate checks the fields the registry requires.
func (c Channel) Validate() error {
	if c.ChannelID == "" {
		return fmt.Errorf("%w: channel id is required", shared.ErrInvalidInput)
	}
	if !c.Platform.Valid() {
		return fmt.Errorf("%w: unknown platform %q", shared.ErrInvalidInput, c.Platform)
	}
	if c.CredentialID == "" {
		return fmt.Errorf("%w: channel %s has no owning credential", shared.ErrInvalidInput, c.ChannelID)
	}
	return nil
}

// Account is a connected account as reported by the publishing API.
type Account struct {
	ID        string   `json:"id"`
	Platform  Platform `json:"platform"`
	Name      string   `json:"name"`
	Thumbnail string   `json:"thumbnail,omitempty"`
}

// Channel converts the account into a registry channel owned by credentialID.
func (a Account) Channel(credentialID string, now time.Time) Channel {
	return Channel{
		ChannelID:    a.ID,
		Title:        a.Name,
		Thumbnail:    a.Thumbnail,
		Platform:     a.Platform,
		CredentialID: credentialID,
		Status:       ChannelActive,
		LastActiveAt: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
