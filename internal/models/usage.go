package models

import (
	"sort"
	"time"
)

// ChannelActivity is the last time a channel was seen active on a platform.
type ChannelActivity struct {
	Platform     Platform  `json:"platform"`
	LastActiveAt time.Time `json:"lastActiveAt"`
}

// UsageRecord is the capacity ledger entry for one credential.
type UsageRecord struct {
	UploadsThisMonth  int                        `json:"uploadsThisMonth"`
	FacebookConnected bool                       `json:"facebookConnected"`
	YouTubeConnected  bool                       `json:"youtubeConnected"`
	Month             string                     `json:"month"`
	Channels          map[string]ChannelActivity `json:"channels"`
}

// MonthStamp formats the calendar month (UTC) that t falls in.
func MonthStamp(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// NewUsageRecord returns an empty record stamped with the month of now.
func NewUsageRecord(now time.Time) *UsageRecord {
	return &UsageRecord{Month: MonthStamp(now), Channels: map[string]ChannelActivity{}}
}

// Rollover resets the upload counter when now is in a different month than the record.
// Connected flags and channel activity are kept. Reports whether a reset happened.
func (r *UsageRecord) Rollover(now time.Time) bool {
	month := MonthStamp(now)
	if r.Month == month {
		return false
	}
	r.Month = month
	r.UploadsThisMonth = 0
	return true
}

// HasQuota reports whether another upload fits under quota.
func (r *UsageRecord) HasQuota(quota int) bool {
	return r.UploadsThisMonth < quota
}

// RecordUpload counts one upload in the month of now.
func (r *UsageRecord) RecordUpload(now time.Time) {
	r.Rollover(now)
	r.UploadsThisMonth++
}

// Connected reports the local connected flag for p.
func (r *UsageRecord) Connected(p Platform) bool {
	switch p {
	case PlatformYouTube:
		return r.YouTubeConnected
	case PlatformFacebook:
		return r.FacebookConnected
	}
	return false
}

// SetConnected sets the local connected flag for p.
func (r *UsageRecord) SetConnected(p Platform, connected bool) {
	switch p {
	case PlatformYouTube:
		r.YouTubeConnected = connected
	case PlatformFacebook:
		r.FacebookConnected = connected
	}
}

// Touch records activity for a channel.
func (r *UsageRecord) Touch(channelID string, p Platform, at time.Time) {
	if r.Channels == nil {
		r.Channels = map[string]ChannelActivity{}
	}
	r.Channels[channelID] = ChannelActivity{Platform: p, LastActiveAt: at}
}

// Forget drops a channel from the activity map.
func (r *UsageRecord) Forget(channelID string) {
	delete(r.Channels, channelID)
}

// KnownChannels returns the ids of channels with recorded activity on p, sorted.
func (r *UsageRecord) KnownChannels(p Platform) []string {
	var ids []string
	for id, a := range r.Channels {
		if a.Platform == p {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// LastActive returns the most recent activity among channels on p.
// ok is false when no channel on p has recorded activity.
func (r *UsageRecord) LastActive(p Platform) (last time.Time, ok bool) {
	for _, a := range r.Channels {
		if a.Platform != p {
			continue
		}
		if !ok || a.LastActiveAt.After(last) {
			last, ok = a.LastActiveAt, true
		}
	}
	return last, ok
}

// AllIdle reports whether every known channel on p has been inactive longer than threshold.
// It is false when p has no known channels.
func (r *UsageRecord) AllIdle(p Platform, now time.Time, threshold time.Duration) bool {
	seen := false
	for _, a := range r.Channels {
		if a.Platform != p {
			continue
		}
		seen = true
		if now.Sub(a.LastActiveAt) <= threshold {
			return false
		}
	}
	return seen
}

// Clone returns a deep copy of the record.
func (r *UsageRecord) Clone() *UsageRecord {
	c := *r
	c.Channels = make(map[string]ChannelActivity, len(r.Channels))
	for k, v := range r.Channels {
		c.Channels[k] = v
	}
	return &c
}

// LedgerState holds every usage record keyed by credential id.
type LedgerState map[string]*UsageRecord

// Record returns the record for id, creating it and applying the monthly rollover.
func (s LedgerState) Record(id string, now time.Time) *UsageRecord {
	r, ok := s[id]
	if !ok || r == nil {
		r = NewUsageRecord(now)
		s[id] = r
		return r
	}
	if r.Channels == nil {
		r.Channels = map[string]ChannelActivity{}
	}
	r.Rollover(now)
	return r
}

// Clone returns a deep copy of the state.
func (s LedgerState) Clone() LedgerState {
	c := make(LedgerState, len(s))
	for k, v := range s {
		if v != nil {
			c[k] = v.Clone()
		}
	}
	return c
}
