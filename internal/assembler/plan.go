package assembler

import (
	"fmt"
	"math"
	"strings"

	"github.com/desertthunder/vidpub/internal/models"
)

// Output video dimensions. Stills are letterboxed and overlays are placed on this canvas.
const (
	CanvasWidth  = 1280
	CanvasHeight = 720
)

// Watermark bar geometry on the canvas.
const (
	watermarkBarX    = 0
	watermarkBarY    = CanvasHeight - 64
	watermarkBarW    = 420
	watermarkBarH    = 64
	watermarkIconX   = 12
	watermarkIconY   = watermarkBarY + 12
	watermarkIconSz  = 40
	watermarkTextX   = watermarkIconX + watermarkIconSz + 14
	watermarkTextY   = watermarkBarY + 20
	watermarkFontSz  = 26
	watermarkBarFill = "black@0.65"
)

// BaseLoopSeconds is the length of the silent base loop for audio of the given duration.
func BaseLoopSeconds(duration float64, max int) int {
	return min(int(math.Ceil(duration))+1, max)
}

// LoopCount is how many times the base loop is played to cover the audio.
func LoopCount(duration float64, base int) int {
	return int(math.Ceil(duration/float64(base))) + 1
}

// Rect is a pixel rectangle on the canvas.
type Rect struct {
	X, Y, W, H int
}

// OverlayGeometry converts a normalized overlay box to even pixel dimensions inside the canvas.
func OverlayGeometry(o models.Overlay) Rect {
	even := func(v float64) int { return int(math.Round(v)) &^ 1 }

	r := Rect{
		X: even(o.X * CanvasWidth),
		Y: even(o.Y * CanvasHeight),
		W: max(even(o.W*CanvasWidth), 2),
		H: max(even(o.H*CanvasHeight), 2),
	}
	r.W = min(r.W, CanvasWidth)
	r.H = min(r.H, CanvasHeight)
	r.X = min(r.X, CanvasWidth-r.W)
	r.Y = min(r.Y, CanvasHeight-r.H)
	return r
}

// Watermark is the branding drawn on free plan videos.
type Watermark struct {
	Text     string
	FontFile string
	// IconInput is the ffmpeg input index of the icon, or -1 when there is no icon.
	IconInput int
}

// FilterGraph builds the base loop's filter graph. Input 0 is the letterboxed still; when overlay
// is set it is input 1. The result is labeled [v].
func FilterGraph(overlay *Rect, wm *Watermark) string {
	var chains []string
	label := "[0:v]"

	if overlay != nil {
		chains = append(chains,
			fmt.Sprintf("[1:v]scale=%d:%d,setsar=1[ov]", overlay.W, overlay.H),
			fmt.Sprintf("%s[ov]overlay=%d:%d:shortest=0[base]", label, overlay.X, overlay.Y),
		)
		label = "[base]"
	}

	if wm != nil {
		bar := fmt.Sprintf("%sdrawbox=x=%d:y=%d:w=%d:h=%d:color=%s:t=fill", label, watermarkBarX, watermarkBarY, watermarkBarW, watermarkBarH, watermarkBarFill)
		text := fmt.Sprintf("drawtext=text='%s':fontcolor=white:fontsize=%d:x=%d:y=%d", escapeText(wm.Text), watermarkFontSz, watermarkTextX, watermarkTextY)
		if wm.FontFile != "" {
			text += ":fontfile='" + escapeText(wm.FontFile) + "'"
		}
		chains = append(chains, bar+","+text+"[wm]")
		label = "[wm]"

		if wm.IconInput >= 0 {
			chains = append(chains,
				fmt.Sprintf("[%d:v]scale=%d:%d[icon]", wm.IconInput, watermarkIconSz, watermarkIconSz),
				fmt.Sprintf("%s[icon]overlay=%d:%d[wmi]", label, watermarkIconX, watermarkIconY),
			)
			label = "[wmi]"
		}
	}

	chains = append(chains, label+"format=yuv420p[v]")
	return strings.Join(chains, ";")
}

// escapeText quotes a value for use inside a single-quoted filter option.
func escapeText(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `'\''`, `:`, `\:`, `%`, `\%`)
	return r.Replace(s)
}
