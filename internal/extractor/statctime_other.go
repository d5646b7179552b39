//go:build !darwin

package extractor

import (
	"os"
	"time"
)

// statCreationTime reports the best creation-time proxy the platform
// exposes. Linux's classic stat(2) has no birth-time field, so
// modification time is what "the platform reports" here, matching the
// spec's fallback-to-platform-reported-value language for this case.
func statCreationTime(info os.FileInfo) time.Time {
	return info.ModTime()
}
