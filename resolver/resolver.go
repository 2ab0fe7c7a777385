package resolver

import (
	"context"
	"fmt"
	"time"

	"github.com/nijaru/catchup/errors"
	"github.com/nijaru/catchup/logger"
	"github.com/nijaru/catchup/models"
	"github.com/nijaru/catchup/validation"
	"github.com/sirupsen/logrus"
)

// Archive is what a platform catalog knows about the archive of a
// channel's current (or most recent) broadcast.
type Archive struct {
	ID       string
	URL      string
	Title    string
	Duration time.Duration
	Live     bool
}

// Catalog looks up the archive for a channel on one platform.
type Catalog interface {
	Lookup(ctx context.Context, channel models.Channel) (Archive, error)
}

type Resolver struct {
	catalogs   map[models.Platform]Catalog
	maxMinutes int
	now        func() time.Time
}

func New(maxMinutes int, catalogs map[models.Platform]Catalog) *Resolver {
	return &Resolver{
		catalogs:   catalogs,
		maxMinutes: maxMinutes,
		now:        time.Now,
	}
}

// Resolve finds the archive covering the last minutes of the channel's
// broadcast and computes the window offsets into it.
func (r *Resolver) Resolve(ctx context.Context, channel models.Channel, minutes int) (models.ResolvedArchive, error) {
	const op = "Resolver.Resolve"

	if err := validation.ValidateDuration(minutes, r.maxMinutes); err != nil {
		return models.ResolvedArchive{}, err
	}

	catalog, ok := r.catalogs[channel.Platform]
	if !ok {
		return models.ResolvedArchive{}, errors.InvalidRequest(op, nil, fmt.Sprintf("platform %q is not supported", channel.Platform))
	}

	archive, err := catalog.Lookup(ctx, channel)
	if err != nil {
		return models.ResolvedArchive{}, err
	}
	if archive.Duration <= 0 {
		return models.ResolvedArchive{}, errors.NoArchive(op, nil, "archive has no recorded content yet")
	}

	start, end := Window(archive.Duration, time.Duration(minutes)*time.Minute)

	resolved := models.ResolvedArchive{
		Platform:   channel.Platform,
		ArchiveID:  archive.ID,
		ArchiveURL: archive.URL,
		Title:      archive.Title,
		Duration:   archive.Duration,
		Start:      start,
		End:        end,
		ResolvedAt: r.now(),
		Live:       archive.Live,
	}

	logger.FromContext(ctx).WithFields(logrus.Fields{
		"platform":   channel.Platform,
		"channel":    channel.Login,
		"archive_id": resolved.ArchiveID,
		"duration":   resolved.Duration,
		"start":      resolved.Start,
		"end":        resolved.End,
		"live":       resolved.Live,
	}).Info("Archive resolved")

	return resolved, nil
}

// Window returns the offsets of the last want of an archive of length
// duration, clamped so that 0 <= start <= end <= duration.
func Window(duration, want time.Duration) (start, end time.Duration) {
	if duration < 0 {
		duration = 0
	}
	if want < 0 {
		want = 0
	}
	start = duration - want
	if start < 0 {
		start = 0
	}
	return start.Truncate(time.Second), duration
}
