package summary

import (
	"github.com/nijaru/catchup/models"
	"github.com/nijaru/catchup/utils"
)

const (
	maxKeyMoments   = 5
	momentTextChars = 100
)

// KeyMoments picks up to max segments spread evenly across the window and
// links each one into the archive.
func KeyMoments(transcript models.Transcript, archive models.ResolvedArchive, max int) []models.KeyMoment {
	segs := transcript.Segments
	if len(segs) == 0 || max <= 0 {
		return nil
	}

	picks := len(segs)
	if picks > max {
		picks = max
	}

	moments := make([]models.KeyMoment, 0, picks)
	for i := 0; i < picks; i++ {
		seg := segs[i*len(segs)/picks]
		offset := archive.Start + seg.StartOffset()
		moments = append(moments, models.KeyMoment{
			Timestamp: models.Clock(seg.StartOffset()),
			Offset:    offset.Seconds(),
			Content:   utils.Truncate(seg.Text, momentTextChars),
			Link:      models.DeepLink(archive.ArchiveURL, offset),
		})
	}
	return moments
}
