package storage

import (
	"fmt"
	"strings"
)

const uriScheme = "s3://"

// FormatURI builds s3://bucket/key.
func FormatURI(bucket, key string) string {
	return uriScheme + bucket + "/" + strings.TrimPrefix(key, "/")
}

// ParseURI splits s3://bucket/key into bucket and key.
// Parameters:
//   - uri: object URI in s3://bucket/key form.
// Returns:
//   - string: bucket name.
//   - string: object key, without a leading slash.
//   - error: non-nil if uri is not a well-formed s3 URI.
func ParseURI(uri string) (string, string, error) {
	if !strings.HasPrefix(uri, uriScheme) {
		return "", "", fmt.Errorf("not an s3 uri: %q", uri)
	}
	rest := strings.TrimPrefix(uri, uriScheme)
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("s3 uri missing bucket or key: %q", uri)
	}
	return bucket, key, nil
}

// JoinKey joins key segments with "/", dropping empty ones.
func JoinKey(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "/")
}
