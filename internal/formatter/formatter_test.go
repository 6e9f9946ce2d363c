package formatter

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/vidpub/internal/models"
	"github.com/desertthunder/vidpub/internal/shared"
	th "github.com/desertthunder/vidpub/internal/testing"
)

var now = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func sampleReport() PoolReport {
	busy := models.NewUsageRecord(now)
	busy.UploadsThisMonth = 42
	busy.SetConnected(models.PlatformYouTube, true)
	busy.Touch("UC1", models.PlatformYouTube, now.Add(-20*time.Minute))

	state := models.LedgerState{"primary": busy}
	return BuildPoolReport(state, []string{"primary", "spare"}, 100, now)
}

func TestBuildPoolReport(t *testing.T) {
	report := sampleReport()

	if len(report.Slots) != 4 {
		t.Fatalf("slots = %d, want 4", len(report.Slots))
	}

	var yt *SlotRow
	for i := range report.Slots {
		s := &report.Slots[i]
		if s.CredentialID == "primary" && s.Platform == models.PlatformYouTube {
			yt = s
		}
	}
	if yt == nil {
		t.Fatal("missing primary/youtube slot")
	}
	if !yt.Connected || yt.Channels != 1 || yt.Uploads != 42 || yt.Remaining() != 58 {
		t.Errorf("primary/youtube = %+v", yt)
	}
	if got := yt.Idle(now); got != 20*time.Minute {
		t.Errorf("idle = %s, want 20m", got)
	}

	for _, s := range report.Slots {
		if s.CredentialID == "spare" {
			if s.Connected || s.Uploads != 0 || s.Month != "2025-06" || !s.LastActive.IsZero() {
				t.Errorf("spare slot = %+v", s)
			}
			if s.Idle(now) != 0 {
				t.Error("slot without activity should report no idle time")
			}
		}
	}
}

func TestExporters(t *testing.T) {
	report := sampleReport()

	t.Run("ExportToCSV", func(t *testing.T) {
		data, err := ExportToCSV(report)
		if err != nil {
			t.Fatalf("ExportToCSV failed: %v", err)
		}
		output := string(data)

		if !strings.Contains(output, "Credential,Platform,Connected,Channels,LastActive,Uploads,Quota,Month") {
			t.Errorf("CSV missing headers, got: %s", output)
		}
		if !strings.Contains(output, "primary,youtube,true,1,2025-06-15T11:40:00Z,42,100,2025-06") {
			t.Errorf("CSV missing connected slot, got: %s", output)
		}
		if lines := strings.Count(output, "\n"); lines != 5 {
			t.Errorf("CSV lines = %d, want 5", lines)
		}
	})

	t.Run("ExportToMarkdown", func(t *testing.T) {
		data, err := ExportToMarkdown(report)
		if err != nil {
			t.Fatalf("ExportToMarkdown failed: %v", err)
		}
		output := string(data)

		for _, want := range []string{
			"# Credential pool",
			"**Slots**: 4 (1 connected)",
			"| primary | youtube | yes | 1 | 20m0s | 42/100 |",
			"| spare | facebook | no | 0 | - | 0/100 |",
		} {
			if !strings.Contains(output, want) {
				t.Errorf("Markdown missing %q, got:\n%s", want, output)
			}
		}
	})

	t.Run("ExportToText", func(t *testing.T) {
		data, err := ExportToText(report)
		if err != nil {
			t.Fatalf("ExportToText failed: %v", err)
		}
		output := string(data)
		if !strings.Contains(output, "Slots: 4 (1 connected)") || !strings.Contains(output, "connected") {
			t.Errorf("unexpected text output:\n%s", output)
		}
	})

	t.Run("ExportToJSON", func(t *testing.T) {
		data, err := ExportToJSON(report)
		if err != nil {
			t.Fatalf("ExportToJSON failed: %v", err)
		}

		var decoded PoolReport
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if len(decoded.Slots) != 4 {
			t.Errorf("decoded slots = %d", len(decoded.Slots))
		}
		var raw struct {
			Slots []map[string]any `json:"slots"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			t.Fatal(err)
		}
		if _, ok := raw.Slots[0]["lastActiveAt"]; !ok {
			t.Error("active slot should carry lastActiveAt")
		}
		if _, ok := raw.Slots[3]["lastActiveAt"]; ok {
			t.Error("zero lastActiveAt should be omitted")
		}
	})
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatText, false},
		{"text", FormatText, false},
		{"CSV", FormatCSV, false},
		{"markdown", FormatMarkdown, false},
		{"md", FormatMarkdown, false},
		{"json", FormatJSON, false},
		{"yaml", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				if !errors.Is(err, shared.ErrInvalidInput) {
					t.Errorf("error = %v, want ErrInvalidInput", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("ParseFormat(%q) = %q, %v", tt.in, got, err)
			}
		})
	}
}

func TestWritePoolReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.csv")
	if err := WritePoolReport(sampleReport(), FormatCSV, path); err != nil {
		t.Fatalf("WritePoolReport failed: %v", err)
	}
	content := th.MustReadFile(t, path)
	if !strings.HasPrefix(content, "Credential,") {
		t.Errorf("file content = %q", content)
	}

	if err := WritePoolReport(sampleReport(), FormatText, filepath.Join(t.TempDir(), "missing", "pool.txt")); err == nil {
		t.Error("expected error writing into a missing directory")
	}
}
