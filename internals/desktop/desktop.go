package desktop

import (
	"errors"
	"fmt"
	"net/url"
	"os/exec"
	"runtime"
)

var ExecCommand = exec.Command
var RuntimeGOOS = runtime.GOOS

var ErrUnsupportedPlatform = errors.New("unsupported platform")

var openers = map[string][]string{
	"darwin":  {"open"},
	"linux":   {"xdg-open"},
	"freebsd": {"xdg-open"},
	"windows": {"rundll32", "url.dll,FileProtocolHandler"},
}

// OpenURL opens an http(s) link, such as a task's pull request, in the
// user's browser without waiting for it.
func OpenURL(raw string) error {
	if raw == "" {
		return errors.New("url is empty")
	}
	parsed, err := url.Parse(raw)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("refusing to open %q: not an http(s) url", raw)
	}

	opener, ok := openers[RuntimeGOOS]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedPlatform, RuntimeGOOS)
	}
	args := append(append([]string(nil), opener[1:]...), raw)
	return ExecCommand(opener[0], args...).Start()
}
