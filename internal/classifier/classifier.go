// Package classifier derives a test-run's final status from its container
// exit code and accumulated log output, catching runners whose exit-code
// discipline doesn't match what actually happened inside the suite.
package classifier

import (
	"strings"

	"github.com/volaticloud/runbox/internal/execution"
)

const (
	retryMarker   = "retry #"
	failureMarker = "failed"
	failureGlyph  = "✗"
)

// Classify applies the four rules from spec §4.4, in order:
//  1. nonzero exit code -> FAILED
//  2. exit 0 but a retry marker in the log -> UNSTABLE
//  3. exit 0, no retry marker, but a failure marker in the log -> FAILED
//  4. otherwise -> PASSED
func Classify(exitCode int, logBuffer string) execution.Status {
	if exitCode != 0 {
		return execution.StatusFailed
	}

	lower := strings.ToLower(logBuffer)
	if strings.Contains(lower, retryMarker) {
		return execution.StatusUnstable
	}

	if strings.Contains(lower, failureMarker) || strings.Contains(logBuffer, failureGlyph) {
		return execution.StatusFailed
	}

	return execution.StatusPassed
}
