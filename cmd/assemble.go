package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/desertthunder/vidpub/internal/assembler"
	"github.com/desertthunder/vidpub/internal/assets"
	"github.com/desertthunder/vidpub/internal/models"
	"github.com/desertthunder/vidpub/internal/shared"
	"github.com/urfave/cli/v3"
)

// Assemble renders the given audio and image to an mp4 without publishing it.
func (r *Runner) Assemble(ctx context.Context, cmd *cli.Command) error {
	store, err := assets.NewStore(r.config.Storage.SessionsDir)
	if err != nil {
		return err
	}

	session, err := stageSession(store, cmd)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Remove(session); err != nil {
			r.logger.Warn("failed to remove session", "session", session, "error", err)
		}
	}()

	overlay, err := store.Overlay(session)
	if err != nil {
		return err
	}
	image, err := store.ImagePath(session)
	if err != nil {
		return err
	}

	asm := assembler.New(r.exec, assembler.OptionsFromConfig(r.config.Transcoder, r.config.Storage), r.logger)
	video, err := asm.Assemble(ctx, assembler.Request{
		SessionID:  session,
		SessionDir: store.Dir(session),
		ImagePath:  image,
		Overlay:    overlay,
		Plan:       models.Plan(cmd.String("plan")),
	})
	if err != nil {
		return err
	}

	out := cmd.String("output")
	if err := moveFile(video, out); err != nil {
		return err
	}
	r.writePlain("✓ Rendered %s\n", out)
	return nil
}

// stageSession copies the files named by the job flags into a fresh session.
func stageSession(store *assets.Store, cmd *cli.Command) (string, error) {
	session := shared.GenerateID()
	if _, err := store.Create(session); err != nil {
		return "", err
	}

	stage := func() error {
		for _, path := range cmd.StringSlice("audio") {
			if err := copyInto(path, func(ext string, r io.Reader) error {
				_, err := store.AddAudioPart(session, ext, r)
				return err
			}); err != nil {
				return err
			}
		}

		if err := copyInto(cmd.String("image"), func(ext string, r io.Reader) error {
			_, err := store.SetImage(session, ext, r)
			return err
		}); err != nil {
			return err
		}

		path := cmd.String("overlay")
		if path == "" {
			return nil
		}
		overlay, err := parseOverlay(cmd.String("overlay-type"), cmd.String("overlay-rect"))
		if err != nil {
			return err
		}
		return copyInto(path, func(ext string, r io.Reader) error {
			_, err := store.SetOverlay(session, ext, r, overlay)
			return err
		})
	}

	if err := stage(); err != nil {
		_ = store.Remove(session)
		return "", err
	}
	return session, nil
}

func copyInto(path string, put func(ext string, r io.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrMissingAsset, err)
	}
	defer f.Close()
	return put(filepath.Ext(path), f)
}

// parseOverlay reads an "x,y,w,h" placement.
func parseOverlay(kind, rect string) (models.Overlay, error) {
	fields := strings.Split(rect, ",")
	if len(fields) != 4 {
		return models.Overlay{}, fmt.Errorf("%w: overlay rect must be x,y,w,h, got %q", shared.ErrInvalidArgument, rect)
	}

	var v [4]float64
	for i, f := range fields {
		n, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return models.Overlay{}, fmt.Errorf("%w: overlay rect %q: %v", shared.ErrInvalidArgument, rect, err)
		}
		v[i] = n
	}
	return models.Overlay{Kind: models.OverlayKind(kind), X: v[0], Y: v[1], W: v[2], H: v[3]}, nil
}

// moveFile renames src to dst, copying when they sit on different filesystems.
func moveFile(src, dst string) error {
	if dir := filepath.Dir(dst); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open rendered video: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy rendered video: %w", err)
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
