package domain

import "strings"

// FailureClass partitions download failures into retryable and terminal.
type FailureClass string

const (
	FailureTransient FailureClass = "transient"
	FailurePermanent FailureClass = "permanent"
)

// Transient patterns are checked first: a fragment error that also mentions
// a removed video is still retried.
var transientPatterns = []string{
	"no such file",
	"errno 2",
	"connection reset",
	"connection refused",
	"timeout",
	"network",
	"fragment",
	"part-frag",
	".part",
	"http error 5",
	"http error 429",
}

var permanentPatterns = []string{
	"video unavailable",
	"not available",
	"has been removed",
	"private video",
	"deleted video",
	"members-only",
	"join this channel",
	"age-restricted",
	"copyright",
}

// ClassifyFailure maps a raw downloader or extractor message to a failure
// class using case-insensitive substring search. Unknown messages default
// to transient, the safer outcome to retry.
func ClassifyFailure(message string) FailureClass {
	msg := strings.ToLower(message)
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return FailureTransient
		}
	}
	for _, pattern := range permanentPatterns {
		if strings.Contains(msg, pattern) {
			return FailurePermanent
		}
	}
	if strings.Contains(msg, "account") && strings.Contains(msg, "terminated") {
		return FailurePermanent
	}
	return FailureTransient
}
