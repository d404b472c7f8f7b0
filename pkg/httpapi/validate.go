package httpapi

import (
	"fmt"
	"net/url"
)

// validateURL checks callback and topic URLs the way is_valid_url does in
// original_source/hub/main.py: scheme must be http/https, any non-default
// port must be 80 or 443 unless devMode is set, and fragments are rejected.
func validateURL(raw string, devMode bool) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid URL %q: scheme must be http or https", raw)
	}
	if u.Fragment != "" {
		return fmt.Errorf("invalid URL %q: fragments are not allowed", raw)
	}
	if port := u.Port(); port != "" && !devMode && port != "80" && port != "443" {
		return fmt.Errorf("invalid URL %q: port must be 80 or 443", raw)
	}
	return nil
}

var validVerifyModes = map[string]bool{
	"sync":       true,
	"async":      true,
	"sync,async": true,
	"async,sync": true,
}

func firstSupportedVerifyMode(verify string) (string, bool) {
	if validVerifyModes[verify] {
		if verify == "sync" || verify == "sync,async" {
			return "sync", true
		}
		return "async", true
	}
	return "", false
}
