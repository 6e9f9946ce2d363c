package shared

import (
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// browserCommand returns the program and arguments that open link on goos.
//
// $BROWSER wins when set, so headless hosts can point connect links at a script.
func browserCommand(goos, link string) (string, []string, error) {
	if b := strings.TrimSpace(os.Getenv("BROWSER")); b != "" {
		return b, []string{link}, nil
	}
	switch goos {
	case "darwin":
		return "open", []string{link}, nil
	case "linux", "freebsd", "openbsd":
		return "xdg-open", []string{link}, nil
	case "windows":
		return "rundll32", []string{"url.dll,FileProtocolHandler", link}, nil
	default:
		return "", nil, fmt.Errorf("%w: cannot open a browser on %s", ErrNotImplemented, goos)
	}
}

// OpenBrowser opens an http(s) link, usually a platform authorization page, in the user's browser.
func OpenBrowser(link string) error {
	u, err := url.Parse(link)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: refusing to open %q", ErrInvalidArgument, link)
	}

	name, args, err := browserCommand(runtime.GOOS, link)
	if err != nil {
		return err
	}
	if err := exec.Command(name, args...).Start(); err != nil {
		return fmt.Errorf("failed to open browser: %w", err)
	}
	return nil
}
