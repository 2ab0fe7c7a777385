package resolver

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/nijaru/catchup/config"
	"github.com/nijaru/catchup/errors"
	"github.com/nijaru/catchup/logger"
	"github.com/nijaru/catchup/models"
	"github.com/nijaru/catchup/retry"
	"github.com/sirupsen/logrus"
)

// TwitchCatalog resolves archives through the Helix API.
type TwitchCatalog struct {
	cfg    config.TwitchConfig
	client *http.Client
	policy retry.Policy
	now    func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func NewTwitchCatalog(cfg config.TwitchConfig, policy retry.Policy) *TwitchCatalog {
	return &TwitchCatalog{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		policy: policy,
		now:    time.Now,
		token:  cfg.AppToken,
	}
}

type helixUser struct {
	ID    string `json:"id"`
	Login string `json:"login"`
}

type helixStream struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	StartedAt time.Time `json:"started_at"`
}

type helixVideo struct {
	ID        string    `json:"id"`
	StreamID  string    `json:"stream_id"`
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Duration  string    `json:"duration"`
	CreatedAt time.Time `json:"created_at"`
}

type helixPage[T any] struct {
	Data []T `json:"data"`
}

// Lookup returns the in-progress archive of a live channel, or the most
// recent archive of an offline one.
func (t *TwitchCatalog) Lookup(ctx context.Context, channel models.Channel) (Archive, error) {
	const op = "TwitchCatalog.Lookup"

	if t.cfg.AppToken == "" && (t.cfg.ClientID == "" || t.cfg.ClientSecret == "") {
		return Archive{}, errors.Internal(op, nil, "Twitch credentials are not configured")
	}

	var users helixPage[helixUser]
	if err := t.get(ctx, "/users", url.Values{"login": {channel.Login}}, &users); err != nil {
		return Archive{}, err
	}
	if len(users.Data) == 0 {
		return Archive{}, errors.NoArchive(op, nil, "Twitch channel not found")
	}
	userID := users.Data[0].ID

	var streams helixPage[helixStream]
	if err := t.get(ctx, "/streams", url.Values{"user_id": {userID}}, &streams); err != nil {
		return Archive{}, err
	}

	var videos helixPage[helixVideo]
	query := url.Values{"user_id": {userID}, "type": {"archive"}, "first": {"5"}}
	if err := t.get(ctx, "/videos", query, &videos); err != nil {
		return Archive{}, err
	}

	log := logger.FromContext(ctx).WithFields(logrus.Fields{
		"channel": channel.Login,
		"user_id": userID,
		"live":    len(streams.Data) > 0,
		"videos":  len(videos.Data),
	})

	video, live, ok := pickArchive(streams.Data, videos.Data)
	if !ok {
		log.Info("No archive available")
		if live {
			return Archive{}, errors.NoArchive(op, nil, "channel is live but has no archive for this broadcast")
		}
		return Archive{}, errors.NoArchive(op, nil, "channel has no archived broadcasts")
	}

	duration, err := ParseTwitchDuration(video.Duration)
	if err != nil {
		return Archive{}, errors.FormatOrProtocol(op, err, "unrecognised archive duration")
	}

	archiveURL := video.URL
	if archiveURL == "" {
		archiveURL = strings.TrimRight(t.cfg.VideoURL, "/") + "/" + video.ID
	}

	return Archive{
		ID:       video.ID,
		URL:      archiveURL,
		Title:    video.Title,
		Duration: duration,
		Live:     live,
	}, nil
}

// pickArchive prefers the archive whose stream id matches the live
// stream. Offline channels fall back to the newest archive.
func pickArchive(streams []helixStream, videos []helixVideo) (helixVideo, bool, bool) {
	if len(streams) > 0 {
		for _, v := range videos {
			if v.StreamID == streams[0].ID {
				return v, true, true
			}
		}
		return helixVideo{}, true, false
	}
	if len(videos) == 0 {
		return helixVideo{}, false, false
	}
	return videos[0], false, true
}

// ParseTwitchDuration parses Helix durations such as "2h15m30s".
func ParseTwitchDuration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, errors.FormatOrProtocol("ParseTwitchDuration", nil, "negative duration")
	}
	return d, nil
}

func (t *TwitchCatalog) get(ctx context.Context, path string, query url.Values, target interface{}) error {
	const op = "TwitchCatalog.get"

	return retry.Do(ctx, op, "resolving", retry.BudgetFrom(ctx), t.policy, func(attempt int) error {
		token, err := t.appToken(ctx)
		if err != nil {
			return err
		}

		req, err := http.NewRequest(http.MethodGet, strings.TrimRight(t.cfg.APIURL, "/")+path+"?"+query.Encode(), nil)
		if err != nil {
			return errors.Internal(op, err, "failed to build request")
		}
		req.Header.Set("Client-Id", t.cfg.ClientID)
		req.Header.Set("Authorization", "Bearer "+token)

		body, err := fetch(ctx, t.client, op, req)
		if err != nil {
			if errors.Is(err, errors.KindBlocked) && t.cfg.AppToken == "" {
				t.invalidateToken()
			}
			return err
		}
		return decode(op, body, target)
	})
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// appToken returns a cached app access token, exchanging client
// credentials when it is missing or about to expire.
func (t *TwitchCatalog) appToken(ctx context.Context) (string, error) {
	const op = "TwitchCatalog.appToken"

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cfg.AppToken != "" {
		return t.cfg.AppToken, nil
	}
	if t.token != "" && t.now().Before(t.tokenExpiry) {
		return t.token, nil
	}

	form := url.Values{
		"client_id":     {t.cfg.ClientID},
		"client_secret": {t.cfg.ClientSecret},
		"grant_type":    {"client_credentials"},
	}
	req, err := http.NewRequest(http.MethodPost, t.cfg.AuthURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", errors.Internal(op, err, "failed to build token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := fetch(ctx, t.client, op, req)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, errors.KindTransient) {
			return "", err
		}
		return "", errors.Internal(op, err, "Twitch authentication failed")
	}

	var tok tokenResponse
	if err := decode(op, body, &tok); err != nil {
		return "", err
	}
	if tok.AccessToken == "" {
		return "", errors.FormatOrProtocol(op, nil, "token response has no access token")
	}

	t.token = tok.AccessToken
	// refresh a minute early
	t.tokenExpiry = t.now().Add(time.Duration(tok.ExpiresIn)*time.Second - time.Minute)
	return t.token, nil
}

func (t *TwitchCatalog) invalidateToken() {
	t.mu.Lock()
	t.token = ""
	t.mu.Unlock()
}
