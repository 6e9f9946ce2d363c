package models

import (
	"fmt"
	"strings"

	"github.com/desertthunder/vidpub/internal/shared"
)

// Platform is a publishing destination.
type Platform string

const (
	PlatformYouTube  Platform = "youtube"
	PlatformFacebook Platform = "facebook"
)

// Platforms lists every supported destination in a stable order.
func Platforms() []Platform {
	return []Platform{PlatformYouTube, PlatformFacebook}
}

// ParsePlatform parses a platform name case-insensitively.
func ParsePlatform(s string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("%w: unknown platform %q", shared.ErrInvalidInput, s)
	}
	return p, nil
}

// Valid reports whether p is a supported platform.
func (p Platform) Valid() bool {
	return p == PlatformYouTube || p == PlatformFacebook
}

func (p Platform) String() string { return string(p) }

// Plan is the subscription tier of the requesting user.
type Plan string

const (
	PlanFree Plan = "free"
	PlanPro  Plan = "pro"
)

// Watermarked reports whether videos rendered for this plan carry the watermark bar.
// Unknown or empty plans are treated as free.
func (p Plan) Watermarked() bool {
	return p != PlanPro
}

// Visibility is the audience of a published post.
type Visibility string

const (
	VisibilityPublic   Visibility = "public"
	VisibilityUnlisted Visibility = "unlisted"
	VisibilityPrivate  Visibility = "private"
)

// ParseVisibility parses a visibility, defaulting to public when empty.
func ParseVisibility(s string) (Visibility, error) {
	switch v := Visibility(strings.ToLower(strings.TrimSpace(s))); v {
	case "":
		return VisibilityPublic, nil
	case VisibilityPublic, VisibilityUnlisted, VisibilityPrivate:
		return v, nil
	default:
		return "", fmt.Errorf("%w: unknown visibility %q", shared.ErrInvalidInput, s)
	}
}
