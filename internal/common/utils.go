package common

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"regexp"
	"strings"
	"unicode"

	"github.com/zeebo/xxh3"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ContentHash computes the xxh3-128 hash of content and returns a hex string.
func ContentHash(data []byte) string {
	h := xxh3.Hash128(data)
	return fmt.Sprintf("%016x%016x", h.Hi, h.Lo)
}

// FileHash streams a file through xxh3-128.
func FileHash(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := xxh3.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("failed to hash %s: %w", path, err)
	}
	sum := h.Sum128()
	return fmt.Sprintf("%016x%016x", sum.Hi, sum.Lo), n, nil
}

var invalidSlugChars = regexp.MustCompile(`[^a-z0-9\-_]+`)

// Slug turns a display name into a filesystem-safe token: accents are
// folded, everything is lower-cased and runs of other characters become "_".
// Returns "" when nothing usable is left.
func Slug(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}
	s := invalidSlugChars.ReplaceAllString(strings.ToLower(folded), "_")
	return strings.Trim(s, "_")
}

// SanitizeURL performs basic cleanup on URLs to handle common copy-paste issues.
// Removes whitespace, trailing punctuation and wrapping quotes or brackets.
func SanitizeURL(rawURL string) string {
	cleaned := strings.TrimSpace(rawURL)

	trailingChars := []string{",", ".", ")", "}", "]", "\"", "'", ">", ";"}
	for _, char := range trailingChars {
		cleaned = strings.TrimSuffix(cleaned, char)
	}
	leadingChars := []string{"(", "[", "<", "\"", "'"}
	for _, char := range leadingChars {
		cleaned = strings.TrimPrefix(cleaned, char)
	}

	return strings.TrimSpace(cleaned)
}

// ValidateStartURL sanitizes rawURL and checks it is an absolute http(s) URL.
func ValidateStartURL(rawURL string) (string, error) {
	cleaned := SanitizeURL(rawURL)
	if cleaned == "" {
		return "", fmt.Errorf("empty start URL")
	}
	if strings.Contains(cleaned, " ") {
		return "", fmt.Errorf("start URL contains spaces: %q", rawURL)
	}
	parsed, err := url.Parse(cleaned)
	if err != nil {
		return "", fmt.Errorf("invalid start URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("start URL must be http or https: %q", rawURL)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("start URL has no host: %q", rawURL)
	}
	return cleaned, nil
}
