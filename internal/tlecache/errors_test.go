package tlecache

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNetworkError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *NetworkError
		want string
	}{
		{
			name: "with HTTP status code",
			err:  &NetworkError{URL: "http://host/a.txt", StatusCode: 503},
			want: "network error fetching http://host/a.txt (HTTP 503)",
		},
		{
			name: "with cause",
			err:  &NetworkError{URL: "http://host/a.txt", Err: errors.New("connection refused")},
			want: "network error fetching http://host/a.txt: connection refused",
		},
		{
			name: "bare",
			err:  &NetworkError{URL: "http://host/a.txt"},
			want: "network error fetching http://host/a.txt",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestNoFingerprintError_Error(t *testing.T) {
	err := &NoFingerprintError{URL: "http://host/a.txt"}
	assert.Equal(t, "response from http://host/a.txt carries no usable fingerprint", err.Error())
}

func TestIOError_Error(t *testing.T) {
	err := &IOError{Path: "/tmp/x", Op: "rename", Err: errors.New("disk full")}
	assert.Equal(t, "cache rename failed for /tmp/x: disk full", err.Error())
}

func TestErrors_Unwrap(t *testing.T) {
	cause := errors.New("underlying cause")

	tests := []struct {
		name string
		err  error
	}{
		{"NetworkError", &NetworkError{URL: "u", Err: cause}},
		{"IOError", &IOError{Path: "p", Op: "write", Err: cause}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Same(t, cause, errors.Unwrap(tt.err))

			wrapped := fmt.Errorf("context: %w", tt.err)
			assert.ErrorIs(t, wrapped, cause)
		})
	}
}

func TestErrors_As(t *testing.T) {
	wrapped := fmt.Errorf("context: %w", &NetworkError{URL: "http://host/a.txt", StatusCode: 404})

	var netErr *NetworkError
	require.ErrorAs(t, wrapped, &netErr)
	assert.Equal(t, 404, netErr.StatusCode)
	assert.Equal(t, "http://host/a.txt", netErr.URL)

	var fpErr *NoFingerprintError
	assert.False(t, errors.As(wrapped, &fpErr))
}

func TestErrors_NilCause(t *testing.T) {
	for _, err := range []error{
		&NetworkError{URL: "u"},
		&IOError{Path: "p", Op: "create"},
	} {
		assert.Nil(t, errors.Unwrap(err))
		assert.NotEmpty(t, err.Error())
	}
}
