package term

import (
	"os"

	"github.com/mattn/go-isatty"
)

// hyperlinkEnv lists variables set by terminals known to render OSC 8 links.
var hyperlinkEnv = []string{
	"WT_SESSION",
	"VTE_VERSION",
	"KONSOLE_VERSION",
	"KITTY_WINDOW_ID",
	"WEZTERM_EXECUTABLE",
	"DOMTERM",
	"TERM_PROGRAM",
}

var isTerminal = func(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Interactive reports whether f is attached to a terminal.
func Interactive(f *os.File) bool {
	return f != nil && isTerminal(f)
}

// SupportsHyperlinks reports whether links written to f will be clickable.
func SupportsHyperlinks(f *os.File) bool {
	if !Interactive(f) {
		return false
	}
	switch os.Getenv("TERM") {
	case "", "dumb", "alacritty":
		return false
	}
	for _, key := range hyperlinkEnv {
		if os.Getenv(key) != "" {
			return true
		}
	}
	return false
}

// Link renders label as a hyperlink to url on f, or as plain text.
func Link(f *os.File, label, url string) string {
	if url == "" {
		return label
	}
	if label == "" {
		label = url
	}
	if !SupportsHyperlinks(f) {
		return label
	}
	return "\x1b]8;;" + url + "\x1b\\" + label + "\x1b]8;;\x1b\\"
}
