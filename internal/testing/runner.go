package testing

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FakeRunner records commands instead of running ffmpeg or ffprobe.
//
// Without a Handler, ffprobe calls print ProbeOutput and other calls create their last argument
// as an empty file, mimicking an output path.
type FakeRunner struct {
	mu    sync.Mutex
	calls [][]string

	ProbeOutput string
	Handler     func(name string, args []string) ([]byte, error)
}

func (f *FakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string{name}, args...))
	handler := f.Handler
	f.mu.Unlock()

	if handler != nil {
		return handler(name, args)
	}
	return f.Default(name, args)
}

// Default is the behavior used when no Handler is set; handlers may delegate to it.
func (f *FakeRunner) Default(name string, args []string) ([]byte, error) {
	if strings.Contains(filepath.Base(name), "ffprobe") {
		return []byte(f.ProbeOutput), nil
	}
	if len(args) > 0 {
		out := args[len(args)-1]
		if err := os.WriteFile(out, nil, 0o644); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

// Calls returns every recorded command line, program first.
func (f *FakeRunner) Calls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]string, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallsTo returns the recorded argument lists for one program.
func (f *FakeRunner) CallsTo(name string) [][]string {
	var out [][]string
	for _, c := range f.Calls() {
		if c[0] == name {
			out = append(out, c[1:])
		}
	}
	return out
}
