package tlecache

import "fmt"

// NetworkError represents a failure to reach the element file: malformed URL,
// DNS or connection failure, timeout, or a non-2xx response.
type NetworkError struct {
	URL        string // The URL that was requested
	StatusCode int    // HTTP status code, if a response was received (0 otherwise)
	Err        error  // Underlying error, if any
}

func (e *NetworkError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("network error fetching %s (HTTP %d)", e.URL, e.StatusCode)
	}

	if e.Err != nil {
		return fmt.Sprintf("network error fetching %s: %v", e.URL, e.Err)
	}

	return fmt.Sprintf("network error fetching %s", e.URL)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NoFingerprintError is returned when the server omitted the ETag header, or
// sent one that sanitizes to an unusable file name. Nothing is written.
type NoFingerprintError struct {
	URL string
}

func (e *NoFingerprintError) Error() string {
	return fmt.Sprintf("response from %s carries no usable fingerprint", e.URL)
}

// IOError represents a local filesystem failure while writing a cache entry.
type IOError struct {
	Path string // File being written or created
	Op   string // The operation that failed (e.g., "create", "write", "rename")
	Err  error  // Underlying error, if any
}

func (e *IOError) Error() string {
	return fmt.Sprintf("cache %s failed for %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}
