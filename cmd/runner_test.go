package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/desertthunder/vidpub/internal/formatter"
	"github.com/desertthunder/vidpub/internal/models"
	"github.com/desertthunder/vidpub/internal/shared"
	tu "github.com/desertthunder/vidpub/internal/testing"
)

const testConfig = `
[database]
driver = "sqlite3"
path = %q
max_open_conns = 1
max_idle_conns = 1

[storage]
sessions_dir = %q
output_dir = %q
session_ttl = "1h"

[pool]
api_url = %q
monthly_quota = 100
requests_per_second = 0.0
media_poll_interval = "5ms"
media_poll_timeout = "2s"
ledger = "sql"

[[pool.credentials]]
id = "primary"
key = "k1"

[[pool.credentials]]
id = "spare"
key = "k2"
`

type cliFixture struct {
	dir    string
	config string
	api    *tu.FakeAPI
	exec   *tu.FakeRunner
}

func newCLIFixture(t *testing.T) *cliFixture {
	t.Helper()
	dir := t.TempDir()
	api := tu.NewFakeAPI(t, "k1", "k2")

	config := filepath.Join(dir, "config.toml")
	content := fmt.Sprintf(testConfig,
		filepath.Join(dir, "vidpub.db"),
		filepath.Join(dir, "sessions"),
		filepath.Join(dir, "videos"),
		api.URL,
	)
	tu.MustWriteFile(t, config, content)

	return &cliFixture{dir: dir, config: config, api: api, exec: &tu.FakeRunner{ProbeOutput: "12.5\n"}}
}

// run executes one command line with a fresh runner, like a separate process would.
func (f *cliFixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	output := &bytes.Buffer{}
	runner := NewRunner(RunnerOpts{
		Logger: shared.NewLogger(&bytes.Buffer{}),
		Output: output,
		Exec:   f.exec,
		OpenBrowser: func(string) error {
			return errors.New("no browser in tests")
		},
	})
	err := newApp(runner).Run(context.Background(), append([]string{"vidpub", "--config", f.config}, args...))
	return output.String(), err
}

func (f *cliFixture) writeAssets(t *testing.T) (audio, img string) {
	t.Helper()
	audio = filepath.Join(f.dir, "track.mp3")
	tu.MustWriteFile(t, audio, "ID3")

	img = filepath.Join(f.dir, "cover.png")
	out, err := os.Create(img)
	if err != nil {
		t.Fatalf("create image: %v", err)
	}
	defer out.Close()

	pic := image.NewRGBA(image.Rect(0, 0, 32, 16))
	for x := range 32 {
		for y := range 16 {
			pic.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}
	if err := png.Encode(out, pic); err != nil {
		t.Fatalf("encode image: %v", err)
	}
	return audio, img
}

func TestRunner(t *testing.T) {
	t.Run("NewRunner", func(t *testing.T) {
		t.Run("with all dependencies provided", func(t *testing.T) {
			config := shared.DefaultConfig()
			logger := shared.NewLogger(nil)
			output := &bytes.Buffer{}
			httpClient := &http.Client{}
			exec := &tu.FakeRunner{}

			runner := NewRunner(RunnerOpts{
				Config:     config,
				Logger:     logger,
				Output:     output,
				HTTPClient: httpClient,
				Exec:       exec,
			})

			if runner.config != config {
				t.Error("expected config to be set")
			}
			if runner.logger != logger {
				t.Error("expected logger to be set")
			}
			if runner.output != output {
				t.Error("expected output to be set")
			}
			if runner.httpClient != httpClient {
				t.Error("expected httpClient to be set")
			}
			if runner.exec != exec {
				t.Error("expected exec to be set")
			}
		})

		t.Run("with nil dependencies uses defaults", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{})

			if runner.logger == nil {
				t.Error("expected default logger to be set")
			}
			if runner.output != os.Stdout {
				t.Error("expected output to default to os.Stdout")
			}
			if runner.httpClient != http.DefaultClient {
				t.Error("expected httpClient to default to http.DefaultClient")
			}
			if runner.exec == nil || runner.openBrowser == nil {
				t.Error("expected exec and openBrowser defaults")
			}
		})

		t.Run("with configPath sets field", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{ConfigPath: "/test/path/config.toml"})

			if runner.configPath != "/test/path/config.toml" {
				t.Errorf("expected configPath to be set, got %s", runner.configPath)
			}
		})
	})

	t.Run("writeJSON", func(t *testing.T) {
		t.Run("writes formatted JSON successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			if err := runner.writeJSON(map[string]string{"key": "value"}, true); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			result := output.String()
			if !strings.Contains(result, `"key": "value"`) {
				t.Errorf("expected formatted JSON, got %s", result)
			}
			if !strings.HasSuffix(result, "\n") {
				t.Error("expected output to end with newline")
			}
		})

		t.Run("writes compact JSON successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			if err := runner.writeJSON(map[string]string{"key": "value"}, false); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			expected := `{"key":"value"}` + "\n"
			if output.String() != expected {
				t.Errorf("expected %q, got %q", expected, output.String())
			}
		})

		t.Run("handles marshal error with non-serializable data", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &bytes.Buffer{}})

			err := runner.writeJSON(make(chan int), false)
			if err == nil || !strings.Contains(err.Error(), "failed to marshal JSON") {
				t.Errorf("expected marshal error, got %v", err)
			}
		})

		t.Run("handles write failure", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &tu.FWriter{}})

			err := runner.writeJSON(map[string]string{"key": "value"}, false)
			if err == nil || !strings.Contains(err.Error(), "failed to write output") {
				t.Errorf("expected write error, got %v", err)
			}
		})

		t.Run("handles newline write failure", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: tu.NewLimitedWriter(1, &bytes.Buffer{})})

			err := runner.writeJSON(map[string]string{"key": "value"}, false)
			if err == nil || !strings.Contains(err.Error(), "failed to write newline") {
				t.Errorf("expected newline error, got %v", err)
			}
		})
	})

	t.Run("exitCode", func(t *testing.T) {
		tests := []struct {
			name string
			err  error
			want int
		}{
			{"nil", nil, 0},
			{"busy", fmt.Errorf("connect: %w", shared.ErrAllAccountsBusy), 75},
			{"no capacity", shared.ErrNoCapacity, 75},
			{"other", errors.New("boom"), 1},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if got := exitCode(tt.err); got != tt.want {
					t.Errorf("exitCode = %d, want %d", got, tt.want)
				}
			})
		}
	})
}

func TestLoadConfig(t *testing.T) {
	t.Run("missing file falls back to defaults", func(t *testing.T) {
		runner := NewRunner(RunnerOpts{Logger: shared.NewLogger(&bytes.Buffer{}), Output: &bytes.Buffer{}})
		path := filepath.Join(t.TempDir(), "absent.toml")

		if err := runner.loadConfigFile(path); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if runner.config == nil || runner.config.Server.Port != 3000 {
			t.Errorf("expected default config, got %+v", runner.config)
		}
		if runner.configPath != path {
			t.Errorf("configPath = %q, want %q", runner.configPath, path)
		}
	})

	t.Run("invalid file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.toml")
		tu.MustWriteFile(t, path, "[server\nport = ")
		runner := NewRunner(RunnerOpts{Logger: shared.NewLogger(&bytes.Buffer{}), Output: &bytes.Buffer{}})

		if err := runner.loadConfigFile(path); err == nil {
			t.Error("expected a parse error")
		}
	})

	t.Run("reads the file", func(t *testing.T) {
		f := newCLIFixture(t)
		runner := NewRunner(RunnerOpts{Logger: shared.NewLogger(&bytes.Buffer{}), Output: &bytes.Buffer{}})

		if err := newApp(runner).Run(context.Background(), []string{"vidpub", "--config", f.config, "setup", "database"}); err != nil {
			t.Fatalf("setup database failed: %v", err)
		}
		if got := len(runner.config.Pool.Credentials); got != 2 {
			t.Errorf("expected 2 credentials, got %d", got)
		}
		tu.AssertFileExists(t, filepath.Join(f.dir, "vidpub.db"))
	})

	t.Run("keeps a provided config", func(t *testing.T) {
		config := shared.DefaultConfig()
		config.Server.Port = 9999
		runner := NewRunner(RunnerOpts{Config: config, Logger: shared.NewLogger(&bytes.Buffer{}), Output: &bytes.Buffer{}})

		if _, err := runner.loadConfig(context.Background(), newApp(runner)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if runner.config.Server.Port != 9999 {
			t.Errorf("expected provided config to be kept")
		}
	})
}

func TestSetupConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	output := &bytes.Buffer{}
	runner := NewRunner(RunnerOpts{Logger: shared.NewLogger(&bytes.Buffer{}), Output: output})

	if err := newApp(runner).Run(context.Background(), []string{"vidpub", "--config", path, "setup", "config"}); err != nil {
		t.Fatalf("setup config failed: %v", err)
	}
	tu.AssertFileExists(t, path)
	if !strings.Contains(output.String(), "VIDPUB_CREDENTIAL_PRIMARY") {
		t.Errorf("expected next steps to name the env override, got %q", output.String())
	}

	runner = NewRunner(RunnerOpts{Logger: shared.NewLogger(&bytes.Buffer{}), Output: &bytes.Buffer{}})
	if err := newApp(runner).Run(context.Background(), []string{"vidpub", "--config", path, "setup", "config"}); err == nil {
		t.Error("expected an error when the file already exists")
	}
}

func TestPoolCommands(t *testing.T) {
	t.Run("status lists every slot", func(t *testing.T) {
		f := newCLIFixture(t)

		out, err := f.run(t, "pool", "status", "--format", "json")
		if err != nil {
			t.Fatalf("pool status failed: %v", err)
		}

		var report formatter.PoolReport
		if err := json.Unmarshal([]byte(out), &report); err != nil {
			t.Fatalf("invalid json %q: %v", out, err)
		}
		if want := 2 * len(models.Platforms()); len(report.Slots) != want {
			t.Fatalf("expected %d slots, got %d", want, len(report.Slots))
		}
		if report.Slots[0].CredentialID != "primary" {
			t.Errorf("expected config order, got %s first", report.Slots[0].CredentialID)
		}
	})

	t.Run("status writes a file", func(t *testing.T) {
		f := newCLIFixture(t)
		path := filepath.Join(f.dir, "pool.csv")

		if _, err := f.run(t, "pool", "status", "--format", "csv", "--output", path); err != nil {
			t.Fatalf("pool status failed: %v", err)
		}
		if content := tu.MustReadFile(t, path); !strings.HasPrefix(content, "Credential,") {
			t.Errorf("unexpected csv header: %q", content)
		}
	})

	t.Run("status rejects an unknown format", func(t *testing.T) {
		f := newCLIFixture(t)
		if _, err := f.run(t, "pool", "status", "--format", "xml"); !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("sync records channels and status shows them", func(t *testing.T) {
		f := newCLIFixture(t)
		f.api.Link("k2", models.Account{ID: "UC1", Platform: models.PlatformYouTube, Name: "Main"})

		out, err := f.run(t, "pool", "sync")
		if err != nil {
			t.Fatalf("pool sync failed: %v", err)
		}
		if !strings.Contains(out, "✓ spare: 1 channel(s)") {
			t.Errorf("unexpected sync output %q", out)
		}

		out, err = f.run(t, "pool", "status", "--format", "json")
		if err != nil {
			t.Fatalf("pool status failed: %v", err)
		}
		var report formatter.PoolReport
		if err := json.Unmarshal([]byte(out), &report); err != nil {
			t.Fatalf("invalid json: %v", err)
		}
		var found bool
		for _, row := range report.Slots {
			if row.CredentialID == "spare" && row.Platform == models.PlatformYouTube {
				found = true
				if !row.Connected || row.Channels != 1 {
					t.Errorf("expected a connected slot with one channel, got %+v", row)
				}
			}
		}
		if !found {
			t.Error("missing spare/youtube row")
		}
	})

	t.Run("disconnect frees the slot", func(t *testing.T) {
		f := newCLIFixture(t)
		f.api.Link("k1", models.Account{ID: "UC1", Platform: models.PlatformYouTube, Name: "Main"})
		if _, err := f.run(t, "pool", "sync"); err != nil {
			t.Fatalf("pool sync failed: %v", err)
		}

		out, err := f.run(t, "pool", "disconnect", "primary", "youtube")
		if err != nil {
			t.Fatalf("pool disconnect failed: %v", err)
		}
		if !strings.Contains(out, "Freed youtube on primary") {
			t.Errorf("unexpected output %q", out)
		}
		if f.api.IsConnected("k1", models.PlatformYouTube) {
			t.Error("expected the remote connection to be removed")
		}
	})

	t.Run("disconnect rejects an unknown credential", func(t *testing.T) {
		f := newCLIFixture(t)
		if _, err := f.run(t, "pool", "disconnect", "ghost", "youtube"); !errors.Is(err, shared.ErrCredentialNotFound) {
			t.Errorf("expected ErrCredentialNotFound, got %v", err)
		}
	})

	t.Run("reap with nothing idle", func(t *testing.T) {
		f := newCLIFixture(t)
		out, err := f.run(t, "pool", "reap")
		if err != nil {
			t.Fatalf("pool reap failed: %v", err)
		}
		if !strings.Contains(out, "No idle slots") {
			t.Errorf("unexpected output %q", out)
		}
	})

	t.Run("requires credentials", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.toml")
		tu.MustWriteFile(t, path, "[server]\nport = 3000\n")
		runner := NewRunner(RunnerOpts{Logger: shared.NewLogger(&bytes.Buffer{}), Output: &bytes.Buffer{}})

		err := newApp(runner).Run(context.Background(), []string{"vidpub", "--config", path, "pool", "status"})
		if !errors.Is(err, shared.ErrMissingConfig) {
			t.Errorf("expected ErrMissingConfig, got %v", err)
		}
	})
}

func TestAssemble(t *testing.T) {
	f := newCLIFixture(t)
	audio, img := f.writeAssets(t)
	out := filepath.Join(f.dir, "out", "video.mp4")

	stdout, err := f.run(t, "assemble", "--audio", audio, "--image", img, "--plan", "pro", "--output", out)
	if err != nil {
		t.Fatalf("assemble failed: %v", err)
	}

	tu.AssertFileExists(t, out)
	if !strings.Contains(stdout, "Rendered "+out) {
		t.Errorf("unexpected output %q", stdout)
	}
	if n := len(f.exec.CallsTo("ffmpeg")); n != 2 {
		t.Errorf("expected base loop and mux ffmpeg calls, got %d", n)
	}

	entries, err := os.ReadDir(filepath.Join(f.dir, "sessions"))
	if err != nil {
		t.Fatalf("read sessions: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected the staged session to be removed, found %d", len(entries))
	}
}

func TestParseOverlay(t *testing.T) {
	tests := []struct {
		name    string
		rect    string
		wantErr bool
	}{
		{"valid", "0.1,0.2,0.3,0.4", false},
		{"spaces", " 0.1, 0.2 ,0.3,0.4", false},
		{"too few", "0.1,0.2,0.3", true},
		{"not a number", "a,0.2,0.3,0.4", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, err := parseOverlay("image", tt.rect)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && (o.X != 0.1 || o.H != 0.4 || o.Kind != models.OverlayImage) {
				t.Errorf("unexpected overlay %+v", o)
			}
		})
	}
}

func TestJobRun(t *testing.T) {
	t.Run("renders and publishes", func(t *testing.T) {
		f := newCLIFixture(t)
		f.api.Link("k1", models.Account{ID: "UC1", Platform: models.PlatformYouTube, Name: "Main"})
		if _, err := f.run(t, "pool", "sync"); err != nil {
			t.Fatalf("pool sync failed: %v", err)
		}
		audio, img := f.writeAssets(t)

		out, err := f.run(t, "job", "run", "--audio", audio, "--image", img, "--channel", "UC1", "--title", "Song")
		if err != nil {
			t.Fatalf("job run failed: %v\n%s", err, out)
		}
		if !strings.Contains(out, "✓ Published https://social.test/") {
			t.Errorf("unexpected output %q", out)
		}
		if n := f.api.PostCount("k1"); n != 1 {
			t.Errorf("expected one post, got %d", n)
		}

		out, err = f.run(t, "pool", "status", "--format", "json")
		if err != nil {
			t.Fatalf("pool status failed: %v", err)
		}
		var report formatter.PoolReport
		if err := json.Unmarshal([]byte(out), &report); err != nil {
			t.Fatalf("invalid json: %v", err)
		}
		if report.Slots[0].Uploads != 1 {
			t.Errorf("expected the upload to be counted, got %d", report.Slots[0].Uploads)
		}
	})

	t.Run("unknown channel", func(t *testing.T) {
		f := newCLIFixture(t)
		audio, img := f.writeAssets(t)

		_, err := f.run(t, "job", "run", "--audio", audio, "--image", img, "--channel", "UC404")
		if !errors.Is(err, shared.ErrChannelNotFound) {
			t.Errorf("expected ErrChannelNotFound, got %v", err)
		}
	})

	t.Run("failed post", func(t *testing.T) {
		f := newCLIFixture(t)
		f.api.Link("k1", models.Account{ID: "UC1", Platform: models.PlatformYouTube, Name: "Main"})
		if _, err := f.run(t, "pool", "sync"); err != nil {
			t.Fatalf("pool sync failed: %v", err)
		}
		f.api.FailPosts = true
		audio, img := f.writeAssets(t)

		_, err := f.run(t, "job", "run", "--audio", audio, "--image", img, "--channel", "UC1")
		if err == nil || !strings.Contains(err.Error(), "failed") {
			t.Errorf("expected the job to fail, got %v", err)
		}
	})

	t.Run("bad publish time", func(t *testing.T) {
		f := newCLIFixture(t)
		audio, img := f.writeAssets(t)

		_, err := f.run(t, "job", "run", "--audio", audio, "--image", img, "--channel", "UC1", "--publish-at", "tomorrow")
		if !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})
}

func TestAutomationNext(t *testing.T) {
	f := newCLIFixture(t)
	f.api.Link("k1", models.Account{ID: "UC1", Platform: models.PlatformYouTube, Name: "Main"})
	if _, err := f.run(t, "pool", "sync"); err != nil {
		t.Fatalf("pool sync failed: %v", err)
	}
	audio, img := f.writeAssets(t)

	out, err := f.run(t, "automation", "next", "--user", "u1", "--audio", audio, "--image", img, "--channel", "UC1")
	if err != nil {
		t.Fatalf("automation next failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Cycle position 0") {
		t.Errorf("unexpected output %q", out)
	}
	if n := f.api.PostCount("k1"); n != 1 {
		t.Errorf("expected one post, got %d", n)
	}
}
