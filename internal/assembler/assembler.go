package assembler

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/vidpub/internal/assets"
	"github.com/desertthunder/vidpub/internal/metrics"
	"github.com/desertthunder/vidpub/internal/models"
	"github.com/desertthunder/vidpub/internal/shared"
	"github.com/disintegration/imaging"
)

const (
	mergedAudioName = "merged_audio"
	concatListName  = "concat.txt"
	stillName       = "still.png"
	baseSuffix      = "_base.mp4"
)

// Options configures the ffmpeg invocations.
type Options struct {
	FFmpeg         string
	FFprobe        string
	FrameRate      int
	Preset         string
	MaxLoopSeconds int
	OutputDir      string
	WatermarkText  string
	WatermarkIcon  string
	FontFile       string
	Mux            shared.RetryPolicy
}

// OptionsFromConfig maps the transcoder and storage sections to [Options].
func OptionsFromConfig(t shared.TranscoderConfig, s shared.StorageConfig) Options {
	return Options{
		FFmpeg:         t.FFmpeg,
		FFprobe:        t.FFprobe,
		FrameRate:      t.FrameRate,
		Preset:         t.Preset,
		MaxLoopSeconds: t.MaxLoopSeconds,
		OutputDir:      s.OutputDir,
		WatermarkText:  t.WatermarkText,
		WatermarkIcon:  t.WatermarkIcon,
		FontFile:       t.FontFile,
		Mux:            shared.FixedDelay(t.MuxAttempts, t.MuxRetryDelay),
	}
}

// Request describes one render.
type Request struct {
	SessionID string
	// SessionDir holds the uploaded audio parts.
	SessionDir string
	ImagePath  string
	Overlay    *models.Overlay
	Plan       models.Plan
}

// Assembler renders sessions to mp4 files.
type Assembler struct {
	runner Runner
	opts   Options
	logger *log.Logger
}

// New creates an Assembler. A nil runner uses [ExecRunner].
func New(runner Runner, opts Options, logger *log.Logger) *Assembler {
	if runner == nil {
		runner = ExecRunner{}
	}
	if opts.FFmpeg == "" {
		opts.FFmpeg = "ffmpeg"
	}
	if opts.FFprobe == "" {
		opts.FFprobe = "ffprobe"
	}
	if opts.FrameRate <= 0 {
		opts.FrameRate = 24
	}
	if opts.Preset == "" {
		opts.Preset = "ultrafast"
	}
	if opts.MaxLoopSeconds <= 0 {
		opts.MaxLoopSeconds = 60
	}
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Assembler{runner: runner, opts: opts, logger: shared.WithLogger(logger, "component", "assembler")}
}

// OutputPath is where the finished video for a session is written.
func (a *Assembler) OutputPath(session string) string {
	return filepath.Join(a.opts.OutputDir, session+".mp4")
}

// Assemble renders req and returns the path of the finished video.
func (a *Assembler) Assemble(ctx context.Context, req Request) (string, error) {
	start := time.Now()

	if err := os.MkdirAll(a.opts.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("%w: create output dir: %v", shared.ErrAssembly, err)
	}

	audio, err := a.ConsolidateAudio(ctx, req.SessionDir)
	if err != nil {
		return "", err
	}

	duration, err := a.ProbeDuration(ctx, audio)
	if err != nil {
		return "", err
	}

	still := filepath.Join(req.SessionDir, stillName)
	if err := Letterbox(req.ImagePath, still); err != nil {
		return "", err
	}

	base := BaseLoopSeconds(duration, a.opts.MaxLoopSeconds)
	loops := LoopCount(duration, base)
	out := a.OutputPath(req.SessionID)
	baseVideo := strings.TrimSuffix(out, ".mp4") + baseSuffix

	a.logger.Info("assembling video", "session", req.SessionID, "duration", duration, "base", base, "loops", loops)

	if _, err := a.runner.Run(ctx, a.opts.FFmpeg, a.baseLoopArgs(still, req, base, baseVideo)...); err != nil {
		return "", fmt.Errorf("%w: render base loop: %v", shared.ErrAssembly, err)
	}

	mux := a.muxArgs(baseVideo, audio, loops, out)
	err = shared.Retry(ctx, a.opts.Mux, func(attempt int) error {
		_, err := a.runner.Run(ctx, a.opts.FFmpeg, mux...)
		if err != nil {
			a.logger.Warn("mux failed", "session", req.SessionID, "attempt", attempt, "error", err)
		}
		return err
	})
	if err != nil {
		return "", fmt.Errorf("%w: mux audio: %v", shared.ErrAssembly, err)
	}

	if err := os.Remove(baseVideo); err != nil && !os.IsNotExist(err) {
		a.logger.Warn("failed to remove base loop", "path", baseVideo, "error", err)
	}

	metrics.AssemblyDuration.Observe(time.Since(start).Seconds())
	return out, nil
}

// ConsolidateAudio joins the session's audio parts in upload order. A single part is returned
// untouched.
func (a *Assembler) ConsolidateAudio(ctx context.Context, dir string) (string, error) {
	parts, err := assets.ListAudioParts(dir)
	if err != nil {
		return "", fmt.Errorf("%w: list audio parts: %v", shared.ErrAssembly, err)
	}
	switch len(parts) {
	case 0:
		return "", fmt.Errorf("%w: no audio uploaded", shared.ErrMissingAsset)
	case 1:
		return parts[0], nil
	}

	var list strings.Builder
	for _, p := range parts {
		abs, err := filepath.Abs(p)
		if err != nil {
			return "", fmt.Errorf("%w: %v", shared.ErrAssembly, err)
		}
		fmt.Fprintf(&list, "file '%s'\n", strings.ReplaceAll(abs, "'", `'\''`))
	}

	listPath := filepath.Join(dir, concatListName)
	if err := os.WriteFile(listPath, []byte(list.String()), 0o644); err != nil {
		return "", fmt.Errorf("%w: write concat list: %v", shared.ErrAssembly, err)
	}
	defer os.Remove(listPath)

	merged := filepath.Join(dir, mergedAudioName+filepath.Ext(parts[0]))
	args := []string{"-y", "-f", "concat", "-safe", "0", "-i", listPath, "-c", "copy", merged}
	if _, err := a.runner.Run(ctx, a.opts.FFmpeg, args...); err != nil {
		return "", fmt.Errorf("%w: concatenate audio: %v", shared.ErrAssembly, err)
	}
	return merged, nil
}

// ProbeDuration returns the audio duration in seconds.
func (a *Assembler) ProbeDuration(ctx context.Context, path string) (float64, error) {
	out, err := a.runner.Run(ctx, a.opts.FFprobe,
		"-v", "error", "-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1", path)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", shared.ErrEmptyAudio, err)
	}

	d, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%w: duration %q", shared.ErrEmptyAudio, strings.TrimSpace(string(out)))
	}
	return d, nil
}

func (a *Assembler) baseLoopArgs(still string, req Request, base int, out string) []string {
	fps := strconv.Itoa(a.opts.FrameRate)
	secs := strconv.Itoa(base)
	// The still enters at one frame per second and is re-timed to fps on output.
	args := []string{"-y", "-loop", "1", "-framerate", "1", "-t", secs, "-i", still}

	var rect *Rect
	next := 1
	if req.Overlay != nil {
		r := OverlayGeometry(*req.Overlay)
		rect = &r
		if req.Overlay.Kind == models.OverlayVideo {
			args = append(args, "-stream_loop", "-1", "-i", req.Overlay.Path)
		} else {
			args = append(args, "-loop", "1", "-i", req.Overlay.Path)
		}
		next++
	}

	var wm *Watermark
	if req.Plan.Watermarked() {
		wm = &Watermark{Text: a.opts.WatermarkText, FontFile: a.opts.FontFile, IconInput: -1}
		if a.opts.WatermarkIcon != "" {
			args = append(args, "-loop", "1", "-i", a.opts.WatermarkIcon)
			wm.IconInput = next
		}
	}

	return append(args,
		"-filter_complex", FilterGraph(rect, wm),
		"-map", "[v]",
		"-t", secs,
		"-r", fps,
		"-c:v", "libx264",
		"-preset", a.opts.Preset,
		"-pix_fmt", "yuv420p",
		"-an",
		out,
	)
}

func (a *Assembler) muxArgs(base, audio string, loops int, out string) []string {
	return []string{
		"-y",
		"-stream_loop", strconv.Itoa(loops - 1),
		"-i", base,
		"-i", audio,
		"-map", "0:v", "-map", "1:a",
		"-c:v", "copy",
		"-c:a", "aac",
		"-shortest",
		"-movflags", "+faststart",
		out,
	}
}

// Letterbox fits the image at src inside a black canvas and writes it to dst as PNG.
func Letterbox(src, dst string) error {
	img, err := imaging.Open(src, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("%w: open image: %v", shared.ErrAssembly, err)
	}
	return LetterboxImage(img, dst)
}

// LetterboxImage is [Letterbox] for an already decoded image.
func LetterboxImage(img image.Image, dst string) error {
	fitted := imaging.Fit(img, CanvasWidth, CanvasHeight, imaging.Lanczos)
	canvas := imaging.New(CanvasWidth, CanvasHeight, color.Black)
	canvas = imaging.PasteCenter(canvas, fitted)

	if err := imaging.Save(canvas, dst); err != nil {
		return fmt.Errorf("%w: save still: %v", shared.ErrAssembly, err)
	}
	return nil
}
