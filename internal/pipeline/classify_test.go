package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"syscall"
	"testing"

	"github.com/docuforge/docuforge/internal/collab"
)

type slowDialError struct{}

func (slowDialError) Error() string   { return "dial tcp: i/o timeout" }
func (slowDialError) Timeout() bool   { return true }
func (slowDialError) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		transient bool
		category  string
	}{
		{
			name:      "cli exit 124 is a cli timeout",
			err:       &collab.ScriptError{Command: "ffmpeg", ExitCode: 124, Output: "killed"},
			transient: true,
			category:  CategoryCLITimeout,
		},
		{
			name:      "wrapped cli exit 124",
			err:       fmt.Errorf("composite 7: %w", &collab.ScriptError{Command: "ffmpeg", ExitCode: 124}),
			transient: true,
			category:  CategoryCLITimeout,
		},
		{
			name:      "other cli exit codes are unknown",
			err:       &collab.ScriptError{Command: "ffmpeg", ExitCode: 1, Output: "bad filter"},
			transient: false,
			category:  CategoryUnknownError,
		},
		{
			name:      "context deadline",
			err:       context.DeadlineExceeded,
			transient: true,
			category:  CategoryTimeout,
		},
		{
			name:      "net timeout",
			err:       slowDialError{},
			transient: true,
			category:  CategoryTimeout,
		},
		{
			name:      "connection refused",
			err:       &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED},
			transient: true,
			category:  CategoryConnection,
		},
		{
			name:      "connection reset",
			err:       fmt.Errorf("read body: %w", syscall.ECONNRESET),
			transient: true,
			category:  CategoryConnection,
		},
		{
			name:      "rate limit by message",
			err:       errors.New("upstream said: rate limit exceeded, slow down"),
			transient: true,
			category:  CategoryTransientAPIError,
		},
		{
			name:      "429 by message",
			err:       errors.New("unexpected status 429 from generation API"),
			transient: true,
			category:  CategoryTransientAPIError,
		},
		{
			name:      "timeout by message only",
			err:       errors.New("gateway timeout while polling job"),
			transient: true,
			category:  CategoryTransientAPIError,
		},
		{
			name:      "missing file",
			err:       fmt.Errorf("clip source: %w", fs.ErrNotExist),
			transient: false,
			category:  CategoryFileNotFound,
		},
		{
			name:      "invalid parameters",
			err:       fmt.Errorf("%w: topic is empty", collab.ErrInvalidParameters),
			transient: false,
			category:  CategoryInvalidParameters,
		},
		{
			name:      "anything else fails closed",
			err:       errors.New("segmentation fault in codec"),
			transient: false,
			category:  CategoryUnknownError,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			transient, category := Classify(tc.err)
			if transient != tc.transient {
				t.Errorf("transient: got %v, want %v", transient, tc.transient)
			}
			if category != tc.category {
				t.Errorf("category: got %q, want %q", category, tc.category)
			}
		})
	}
}

func TestClassifyNil(t *testing.T) {
	transient, category := Classify(nil)
	if transient || category != "" {
		t.Errorf("got (%v, %q), want (false, \"\")", transient, category)
	}
}

// Deadline errors must win over their message text, which also contains
// the word "timeout".
func TestClassifyDeadlinePrecedence(t *testing.T) {
	err := fmt.Errorf("image-to-video call: %w", context.DeadlineExceeded)
	_, category := Classify(err)
	if category != CategoryTimeout {
		t.Errorf("got %q, want %q", category, CategoryTimeout)
	}
}
