// Package validation guards the places where configuration reaches the shell
// or the network: external tool commands, configured paths, and the origins
// allowed to open a live-reload socket.
package validation

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// ToolCommands lists the external transform tools a producer may execute.
var ToolCommands = map[string]bool{
	"sass":           true,
	"dart-sass":      true,
	"sassc":          true,
	"postcss":        true,
	"npx":            true,
	"fontforge":      true,
	"svg2ttf":        true,
	"ttf2woff":       true,
	"ttf2woff2":      true,
	"woff2_compress": true,
	"notify-send":    true,
	"osascript":      true,
}

const (
	// argumentMeta is rejected in anything handed to exec.
	argumentMeta = ";&|$`()<>\\\"'"
	// pathMeta is rejected in configured paths, which may legitimately
	// contain quotes or parentheses.
	pathMeta = ";&|$`<>"
)

// trustedPrefixes are the absolute locations tool binaries may live under.
var trustedPrefixes = []string{"/usr/", "/bin/", "/opt/"}

// firstMeta returns the first character of s found in set.
func firstMeta(s, set string) (rune, bool) {
	if i := strings.IndexAny(s, set); i >= 0 {
		return rune(s[i]), true
	}
	return 0, false
}

// ValidateArgument rejects an exec argument that carries shell
// metacharacters, climbs out of the working directory, or names an
// absolute path outside the trusted tool prefixes.
func ValidateArgument(arg string) error {
	if c, ok := firstMeta(arg, argumentMeta); ok {
		return fmt.Errorf("contains dangerous character: %c", c)
	}
	if strings.Contains(arg, "..") {
		return fmt.Errorf("contains path traversal: %s", arg)
	}
	if filepath.IsAbs(arg) && !trusted(arg) {
		return fmt.Errorf("absolute path not allowed: %s", arg)
	}
	return nil
}

func trusted(path string) bool {
	for _, prefix := range trustedPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// ValidateCommand checks command against allowed. Absolute tool paths are
// accepted when their base name is allowed.
func ValidateCommand(command string, allowed map[string]bool) error {
	switch {
	case command == "":
		return fmt.Errorf("command cannot be empty")
	case !allowed[filepath.Base(command)]:
		return fmt.Errorf("command %q is not allowed", command)
	}
	if err := ValidateArgument(command); err != nil {
		return fmt.Errorf("invalid command %q: %w", command, err)
	}
	return nil
}

// ValidatePath validates a configured project path.
func ValidatePath(path string) error {
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}
	clean := filepath.Clean(path)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || strings.Contains(path, "/../") {
		return fmt.Errorf("path traversal detected: %s", path)
	}
	if c, ok := firstMeta(path, pathMeta); ok {
		return fmt.Errorf("path contains dangerous character: %c", c)
	}
	return nil
}

// ValidateOrigin checks the Origin header of a reload socket upgrade.
// Entries of allowed may be full origins or bare host[:port] values.
func ValidateOrigin(origin string, allowed []string) error {
	if origin == "" {
		return fmt.Errorf("origin header is required")
	}
	u, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("invalid origin format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid origin scheme %q: only http and https are allowed", u.Scheme)
	}
	for _, a := range allowed {
		if origin == a || u.Host == a {
			return nil
		}
	}
	return fmt.Errorf("origin %q is not in allowed origins list", origin)
}
