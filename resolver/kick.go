package resolver

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/nijaru/catchup/config"
	"github.com/nijaru/catchup/errors"
	"github.com/nijaru/catchup/logger"
	"github.com/nijaru/catchup/models"
	"github.com/nijaru/catchup/retry"
	"github.com/sirupsen/logrus"
)

// kickTimeLayout is how the channel API reports start times, in UTC.
const kickTimeLayout = "2006-01-02 15:04:05"

// KickCatalog resolves archives through Kick's public channel API. A live
// broadcast records into a VOD that is listed while it is still growing.
type KickCatalog struct {
	cfg       config.KickConfig
	userAgent string
	client    *http.Client
	policy    retry.Policy
	now       func() time.Time
}

func NewKickCatalog(cfg config.KickConfig, userAgent string, policy retry.Policy) *KickCatalog {
	return &KickCatalog{
		cfg:       cfg,
		userAgent: userAgent,
		client:    &http.Client{Timeout: cfg.Timeout},
		policy:    policy,
		now:       time.Now,
	}
}

type kickLivestream struct {
	ID           int64  `json:"id"`
	SessionTitle string `json:"session_title"`
	IsLive       bool   `json:"is_live"`
	StartTime    string `json:"start_time"`
}

type kickChannel struct {
	Livestream *kickLivestream `json:"livestream"`
}

type kickVideo struct {
	ID           int64  `json:"id"`
	SessionTitle string `json:"session_title"`
	IsLive       bool   `json:"is_live"`
	StartTime    string `json:"start_time"`
	// milliseconds; zero while the broadcast is running
	Duration int64 `json:"duration"`
	Video    struct {
		UUID string `json:"uuid"`
	} `json:"video"`
}

// Lookup returns the VOD of the running broadcast, or the newest VOD of an
// offline channel.
func (k *KickCatalog) Lookup(ctx context.Context, channel models.Channel) (Archive, error) {
	const op = "KickCatalog.Lookup"

	var ch kickChannel
	if err := k.get(ctx, "/channels/"+channel.Login, &ch); err != nil {
		return Archive{}, err
	}

	var videos []kickVideo
	if err := k.get(ctx, "/channels/"+channel.Login+"/videos", &videos); err != nil {
		return Archive{}, err
	}

	live := ch.Livestream != nil && ch.Livestream.IsLive
	log := logger.FromContext(ctx).WithFields(logrus.Fields{
		"channel": channel.Login,
		"live":    live,
		"videos":  len(videos),
	})

	video, ok := pickKickVideo(ch.Livestream, videos)
	if !ok {
		log.Info("No archive available")
		if live {
			return Archive{}, errors.NoArchive(op, nil, "channel is live but has no archive for this broadcast")
		}
		return Archive{}, errors.NoArchive(op, nil, "channel has no archived broadcasts")
	}
	if video.Video.UUID == "" {
		return Archive{}, errors.FormatOrProtocol(op, nil, "archive has no video id")
	}

	duration, err := k.videoDuration(video)
	if err != nil {
		return Archive{}, errors.FormatOrProtocol(op, err, "unrecognised archive start time")
	}

	return Archive{
		ID:       video.Video.UUID,
		URL:      strings.TrimRight(k.cfg.VideoURL, "/") + "/" + video.Video.UUID,
		Title:    video.SessionTitle,
		Duration: duration,
		Live:     video.IsLive,
	}, nil
}

// pickKickVideo prefers the VOD recorded by the running livestream. Offline
// channels fall back to the newest VOD.
func pickKickVideo(stream *kickLivestream, videos []kickVideo) (kickVideo, bool) {
	if stream != nil && stream.IsLive {
		for _, v := range videos {
			if v.ID == stream.ID {
				v.IsLive = true
				if v.StartTime == "" {
					v.StartTime = stream.StartTime
				}
				return v, true
			}
		}
		return kickVideo{}, false
	}
	if len(videos) == 0 {
		return kickVideo{}, false
	}
	return videos[0], true
}

// videoDuration measures a running broadcast from its start time; finished
// ones carry their length.
func (k *KickCatalog) videoDuration(v kickVideo) (time.Duration, error) {
	if !v.IsLive {
		if v.Duration < 0 {
			return 0, errors.FormatOrProtocol("KickCatalog.videoDuration", nil, "negative duration")
		}
		return (time.Duration(v.Duration) * time.Millisecond).Truncate(time.Second), nil
	}
	start, err := ParseKickTime(v.StartTime)
	if err != nil {
		return 0, err
	}
	d := k.now().Sub(start)
	if d < 0 {
		d = 0
	}
	return d.Truncate(time.Second), nil
}

// ParseKickTime accepts the API's "2006-01-02 15:04:05" form as well as
// RFC 3339.
func ParseKickTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.ParseInLocation(kickTimeLayout, s, time.UTC); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

func (k *KickCatalog) get(ctx context.Context, path string, target interface{}) error {
	const op = "KickCatalog.get"

	return retry.Do(ctx, op, "resolving", retry.BudgetFrom(ctx), k.policy, func(attempt int) error {
		req, err := http.NewRequest(http.MethodGet, strings.TrimRight(k.cfg.APIURL, "/")+path, nil)
		if err != nil {
			return errors.Internal(op, err, "failed to build request")
		}
		req.Header.Set("Accept", "application/json")
		if k.userAgent != "" {
			req.Header.Set("User-Agent", k.userAgent)
		}

		body, err := fetch(ctx, k.client, op, req)
		if err != nil {
			return err
		}
		// Cloudflare answers some clients with a 200 challenge page
		if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 && trimmed[0] == '<' {
			return errors.Blocked(op, nil, "Kick served a challenge page")
		}
		return decode(op, body, target)
	})
}
