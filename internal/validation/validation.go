// Package validation provides centralized input validation for viewtally.
package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/xtxerr/viewtally/internal/errors"
)

// MaxURLLength bounds accepted source URLs.
const MaxURLLength = 2048

// =============================================================================
// URL Validation
// =============================================================================

// ValidateURL checks a source URL and returns it trimmed.
//
// The URL must be absolute with an http or https scheme and a host.
func ValidateURL(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", errors.NewMissingField("url")
	}
	if len(s) > MaxURLLength {
		return "", fmt.Errorf("url too long: maximum %d characters allowed: %w", MaxURLLength, errors.ErrInvalidURL)
	}

	for i, r := range s {
		if r < 32 || r == 127 {
			return "", fmt.Errorf("url cannot contain control characters at position %d: %w", i, errors.ErrInvalidURL)
		}
	}

	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("%v: %w", err, errors.ErrInvalidURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q: %w", u.Scheme, errors.ErrInvalidURL)
	}
	if u.Host == "" {
		return "", fmt.Errorf("missing host: %w", errors.ErrInvalidURL)
	}
	return s, nil
}

// =============================================================================
// Video ID Extraction
// =============================================================================

var youtubeID = regexp.MustCompile(
	`(?:youtu\.be/|youtube\.com/(?:shorts/|[^/]+/\S+/|(?:v|e(?:mbed)?)/|.*[?&]v=))([a-zA-Z0-9_-]{11})`)

// ExtractVideoID returns the 11 character YouTube video id embedded in a
// watch, short link, embed, v/ or shorts URL.
func ExtractVideoID(raw string) (string, bool) {
	m := youtubeID.FindStringSubmatch(raw)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// =============================================================================
// Threshold Parsing
// =============================================================================

// ParseDeleteLoad parses an optional deletion threshold.
//
// An empty string yields nil. Anything else must be a positive integer.
func ParseDeleteLoad(raw string) (*int64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, errors.NewInvalidValue("deleteLoad", raw, "not an integer")
	}
	if n <= 0 {
		return nil, errors.NewInvalidValue("deleteLoad", raw, "must be positive")
	}
	return &n, nil
}

// =============================================================================
// Entity Input
// =============================================================================

// EntityInput is a validated request to start tracking a URL.
type EntityInput struct {
	URL        string
	DeleteLoad *int64
	VideoID    string // empty for non-YouTube URLs
}

// ValidateEntityInput validates both fields of an add request and reports
// every problem at once.
func ValidateEntityInput(rawURL, rawDeleteLoad string) (EntityInput, error) {
	v := errors.NewValidationErrors()

	u, err := ValidateURL(rawURL)
	v.Add(err)
	deleteLoad, err := ParseDeleteLoad(rawDeleteLoad)
	v.Add(err)

	if err := v.Err(); err != nil {
		return EntityInput{}, err
	}

	in := EntityInput{URL: u, DeleteLoad: deleteLoad}
	in.VideoID, _ = ExtractVideoID(u)
	return in, nil
}
