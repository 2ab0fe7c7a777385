package fallback

import (
	"fmt"

	"github.com/nijaru/catchup/models"
)

var messages = map[models.FallbackReason]string{
	models.ReasonBlocked:             "%s is blocking automated access right now. Open the link to watch the last %d minutes yourself.",
	models.ReasonNoArchiveAvailable:  "No archive of this broadcast is available yet. Open the channel to see what is on.",
	models.ReasonBudgetExceeded:      "The catch-up took too long while %s. Open the link to watch the last %d minutes yourself.",
	models.ReasonTranscriptionFailed: "The audio could not be transcribed. Open the link to watch the last %d minutes yourself.",
}

// Compose builds the manual-access result for a request that could not be
// summarized. It never fails. The link jumps to the window start when an
// archive was resolved and falls back to the channel page otherwise.
func Compose(request models.CatchUpRequest, archive *models.ResolvedArchive, reason models.FallbackReason, stage string) models.Result {
	link := request.Channel.URL
	if archive != nil && archive.ArchiveURL != "" {
		link = archive.StartLink()
	}

	return models.Fallback(reason, link, Message(request, reason, stage), stage)
}

// Message returns the fixed user-facing text for reason.
func Message(request models.CatchUpRequest, reason models.FallbackReason, stage string) string {
	platform := request.Channel.Platform.Title()
	if platform == "" {
		platform = "The platform"
	}
	if stage == "" {
		stage = "processing"
	}

	switch reason {
	case models.ReasonBlocked:
		return fmt.Sprintf(messages[reason], platform, request.DurationMinutes)
	case models.ReasonNoArchiveAvailable:
		return messages[reason]
	case models.ReasonBudgetExceeded:
		return fmt.Sprintf(messages[reason], stage, request.DurationMinutes)
	case models.ReasonTranscriptionFailed:
		return fmt.Sprintf(messages[reason], request.DurationMinutes)
	default:
		return fmt.Sprintf("Open the link to watch the last %d minutes yourself.", request.DurationMinutes)
	}
}
