// Package assets stores the raw inputs of a publish session on disk.
//
// Each session is a directory under the store root holding ordered audio parts named
// audio_<unixnano><ext>, at most one image, and an optional overlay descriptor with its media.
package assets

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/desertthunder/vidpub/internal/models"
	"github.com/desertthunder/vidpub/internal/shared"
)

const (
	AudioPrefix     = "audio_"
	imageBase       = "image"
	overlayMedia    = "overlay_media"
	overlayDescName = "overlay.json"
)

var sessionPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidSessionID reports whether id is safe to use as a directory name.
func ValidSessionID(id string) bool {
	return sessionPattern.MatchString(id)
}

// Store keeps session directories under a root.
type Store struct {
	root string
	now  func() time.Time

	mu       sync.Mutex
	lastPart int64
}

// NewStore creates the root directory if needed.
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create sessions directory: %w", err)
	}
	return &Store{root: root, now: time.Now}, nil
}

// Root returns the directory holding every session.
func (s *Store) Root() string {
	return s.root
}

// Dir returns the directory of a session without creating it.
func (s *Store) Dir(session string) string {
	return filepath.Join(s.root, session)
}

// Create makes an empty session directory.
func (s *Store) Create(session string) (string, error) {
	return s.ensure(session)
}

// Exists reports whether the session directory is present.
func (s *Store) Exists(session string) bool {
	if !ValidSessionID(session) {
		return false
	}
	info, err := os.Stat(s.Dir(session))
	return err == nil && info.IsDir()
}

func (s *Store) ensure(session string) (string, error) {
	if !ValidSessionID(session) {
		return "", fmt.Errorf("%w: invalid session id %q", shared.ErrInvalidInput, session)
	}
	dir := s.Dir(session)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create session directory: %w", err)
	}
	return dir, nil
}

// AddAudioPart appends an audio part to the session. Part names sort in arrival order.
func (s *Store) AddAudioPart(session, ext string, r io.Reader) (string, error) {
	dir, err := s.ensure(session)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	stamp := s.now().UnixNano()
	if stamp <= s.lastPart {
		stamp = s.lastPart + 1
	}
	s.lastPart = stamp
	s.mu.Unlock()

	path := filepath.Join(dir, fmt.Sprintf("%s%d%s", AudioPrefix, stamp, cleanExt(ext, ".mp3")))
	if err := writeFile(path, r); err != nil {
		return "", err
	}
	return path, nil
}

// SetImage stores the session's still image, replacing any previous one.
func (s *Store) SetImage(session, ext string, r io.Reader) (string, error) {
	dir, err := s.ensure(session)
	if err != nil {
		return "", err
	}
	if err := removeMatching(dir, imageBase+".*"); err != nil {
		return "", err
	}

	path := filepath.Join(dir, imageBase+cleanExt(ext, ".png"))
	if err := writeFile(path, r); err != nil {
		return "", err
	}
	return path, nil
}

// SetOverlay stores the overlay media and its descriptor. The descriptor's path is set to the stored file.
func (s *Store) SetOverlay(session, ext string, r io.Reader, overlay models.Overlay) (*models.Overlay, error) {
	dir, err := s.ensure(session)
	if err != nil {
		return nil, err
	}
	if err := removeMatching(dir, overlayMedia+".*"); err != nil {
		return nil, err
	}

	fallback := ".png"
	if overlay.Kind == models.OverlayVideo {
		fallback = ".mp4"
	}
	overlay.Path = filepath.Join(dir, overlayMedia+cleanExt(ext, fallback))
	if err := overlay.Validate(); err != nil {
		return nil, err
	}
	if err := writeFile(overlay.Path, r); err != nil {
		return nil, err
	}

	data, err := json.Marshal(overlay)
	if err != nil {
		return nil, fmt.Errorf("encode overlay: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, overlayDescName), data, 0o644); err != nil {
		return nil, fmt.Errorf("write overlay descriptor: %w", err)
	}
	return &overlay, nil
}

// Overlay returns the session's overlay, or nil when none was stored.
func (s *Store) Overlay(session string) (*models.Overlay, error) {
	data, err := os.ReadFile(filepath.Join(s.Dir(session), overlayDescName))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read overlay descriptor: %w", err)
	}

	var o models.Overlay
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("decode overlay descriptor: %w", err)
	}
	return &o, nil
}

// AudioParts returns the session's audio parts in arrival order.
func (s *Store) AudioParts(session string) ([]string, error) {
	return ListAudioParts(s.Dir(session))
}

// ImagePath returns the session's image or [shared.ErrMissingAsset].
func (s *Store) ImagePath(session string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(s.Dir(session), imageBase+".*"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%w: image for session %s", shared.ErrMissingAsset, session)
	}
	return matches[0], nil
}

// Remove deletes the session directory.
func (s *Store) Remove(session string) error {
	if !ValidSessionID(session) {
		return fmt.Errorf("%w: invalid session id %q", shared.ErrInvalidInput, session)
	}
	return os.RemoveAll(s.Dir(session))
}

// ReapAbandoned removes sessions not modified within maxAge and returns their ids.
func (s *Store) ReapAbandoned(maxAge time.Duration) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read sessions directory: %w", err)
	}

	cutoff := s.now().Add(-maxAge)
	var reaped []string
	for _, e := range entries {
		if !e.IsDir() || !ValidSessionID(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.root, e.Name())); err != nil {
			return reaped, fmt.Errorf("remove session %s: %w", e.Name(), err)
		}
		reaped = append(reaped, e.Name())
	}
	return reaped, nil
}

// ListAudioParts returns the audio_* files in dir sorted by name.
func ListAudioParts(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, AudioPrefix+"*"))
	if err != nil {
		return nil, err
	}

	parts := matches[:0]
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil && info.Mode().IsRegular() {
			parts = append(parts, m)
		}
	}
	sort.Strings(parts)
	return parts, nil
}

func cleanExt(ext, fallback string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" {
		return fallback
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	if strings.ContainsAny(ext[1:], `./\`) || len(ext) > 6 {
		return fallback
	}
	return ext
}

func removeMatching(dir, pattern string) error {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return err
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", filepath.Base(m), err)
		}
	}
	return nil
}

func writeFile(path string, r io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}
