package extractor

import (
	"strings"

	"github.com/nijaru/catchup/errors"
)

var (
	blockedMarkers = []string{
		"http error 401",
		"http error 403",
		"http error 429",
		"403: forbidden",
		"429: too many requests",
		"sign in to confirm",
		"not a bot",
		"confirm your age",
		"not available in your country",
		"geo restricted",
		"geo-restricted",
		"members-only",
		"private video",
		"login required",
		"subscriber-only",
	}
	transientMarkers = []string{
		"timed out",
		"timeout",
		"connection reset",
		"connection refused",
		"connection aborted",
		"remote end closed connection",
		"temporary failure in name resolution",
		"name or service not known",
		"no address associated with hostname",
		"network is unreachable",
		"incompleteread",
		"http error 500",
		"http error 502",
		"http error 503",
		"http error 504",
	}
	formatMarkers = []string{
		"unsupported url",
		"unable to extract",
		"requested format is not available",
		"no video formats found",
		"postprocessing",
		"invalid data found",
		"decod",
	}
)

// classify maps yt-dlp's stderr onto the failure taxonomy. Blocking wins
// over everything else since retrying a block only makes it worse.
func classify(op, stderr string, cause error) error {
	msg := lastErrorLine(stderr)
	lower := strings.ToLower(stderr)

	switch {
	case containsAny(lower, blockedMarkers):
		return errors.Blocked(op, cause, msg)
	case containsAny(lower, transientMarkers):
		return errors.Transient(op, cause, msg)
	case containsAny(lower, formatMarkers):
		return errors.FormatOrProtocol(op, cause, msg)
	default:
		return errors.FormatOrProtocol(op, cause, msg)
	}
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// lastErrorLine returns the last "ERROR:" line yt-dlp printed, or a
// generic message.
func lastErrorLine(stderr string) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if strings.HasPrefix(line, "ERROR:") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "ERROR:"))
			if len(line) > 300 {
				line = line[:300]
			}
			return line
		}
	}
	return "media extraction failed"
}
