package pipeline

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"strings"
	"syscall"

	"github.com/docuforge/docuforge/internal/collab"
)

// Error categories recorded alongside step failures. Transient categories
// tell the external retry policy a re-queue is worth attempting; permanent
// ones require manual intervention. The orchestrator itself never retries.
const (
	CategoryTimeout           = "timeout"
	CategoryCLITimeout        = "cli_timeout"
	CategoryConnection        = "connection"
	CategoryTransientAPIError = "transient_api_error"
	CategoryFileNotFound      = "file_not_found"
	CategoryInvalidParameters = "invalid_parameters"
	CategoryUnknownError      = "unknown_error"
)

// Classify buckets a step failure as transient or permanent. Unrecognized
// errors are permanent: retriability is never assumed for an error we can't
// identify.
func Classify(err error) (transient bool, category string) {
	if err == nil {
		return false, ""
	}

	var scriptErr *collab.ScriptError
	if errors.As(err, &scriptErr) && scriptErr.ExitCode == 124 {
		// Conventional timeout(1) exit code from a wrapped CLI.
		return true, CategoryCLITimeout
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true, CategoryTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true, CategoryTimeout
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) {
		return true, CategoryConnection
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "429") {
		return true, CategoryTransientAPIError
	}

	if errors.Is(err, fs.ErrNotExist) {
		return false, CategoryFileNotFound
	}
	if errors.Is(err, collab.ErrInvalidParameters) {
		return false, CategoryInvalidParameters
	}

	return false, CategoryUnknownError
}
