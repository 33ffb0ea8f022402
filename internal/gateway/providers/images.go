package providers

import "strings"

// parseDataURL splits a "data:<media type>;base64,<payload>" URL into its
// media type and base64 payload. ok is false for any other URL shape, in
// which case the image is externally referenced.
func parseDataURL(url string) (mediaType, data string, ok bool) {
	if !strings.HasPrefix(url, "data:") {
		return "", "", false
	}
	rest := strings.TrimPrefix(url, "data:")
	idx := strings.Index(rest, ";base64,")
	if idx < 0 {
		return "", "", false
	}
	return rest[:idx], rest[idx+len(";base64,"):], true
}
