package validation

import (
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/nijaru/catchup/errors"
	"github.com/nijaru/catchup/models"
)

var (
	twitchLogin   = regexp.MustCompile(`^[a-z0-9_]{3,25}$`)
	youtubeHandle = regexp.MustCompile(`^[A-Za-z0-9_.\-]{2,100}$`)
	kickSlug      = regexp.MustCompile(`^[a-z0-9_\-]{3,25}$`)

	// first path segments on twitch.tv that are not channels
	twitchReserved = map[string]bool{
		"directory": true, "videos": true, "settings": true, "search": true,
		"downloads": true, "p": true, "subscriptions": true, "inventory": true,
	}
	kickReserved = map[string]bool{
		"video": true, "categories": true, "browse": true, "following": true,
		"search": true, "dashboard": true, "category": true,
	}
)

// ParseStreamURL detects the platform of a stream URL and extracts the
// channel it points at.
func ParseStreamURL(raw string) (models.Channel, error) {
	const op = "validation.ParseStreamURL"

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return models.Channel{}, errors.InvalidRequest(op, nil, "stream_url is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return models.Channel{}, errors.InvalidRequest(op, err, "Invalid URL format")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return models.Channel{}, errors.InvalidRequest(op, nil, "URL must use HTTP or HTTPS")
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	host = strings.TrimPrefix(host, "m.")
	segments := pathSegments(u.Path)

	switch host {
	case "twitch.tv":
		return parseTwitch(op, segments)
	case "youtube.com":
		return parseYouTube(op, segments)
	case "kick.com":
		return parseKick(op, segments)
	default:
		return models.Channel{}, errors.InvalidRequest(op, nil, "Only Twitch, YouTube and Kick stream URLs are supported")
	}
}

func parseTwitch(op string, segments []string) (models.Channel, error) {
	if len(segments) == 0 {
		return models.Channel{}, errors.InvalidRequest(op, nil, "Twitch URL must name a channel")
	}
	login := strings.ToLower(segments[0])
	if twitchReserved[login] || !twitchLogin.MatchString(login) {
		return models.Channel{}, errors.InvalidRequest(op, nil, "Twitch URL must name a channel")
	}
	return models.Channel{
		Platform: models.PlatformTwitch,
		Login:    login,
		URL:      "https://www.twitch.tv/" + login,
	}, nil
}

// parseYouTube keeps the path form of the channel (@handle, channel/<id> or
// c/<name>) since each maps to a different live page. Channel ids are case
// sensitive.
func parseYouTube(op string, segments []string) (models.Channel, error) {
	var login string
	switch {
	case len(segments) >= 1 && strings.HasPrefix(segments[0], "@"):
		if youtubeHandle.MatchString(segments[0][1:]) {
			login = segments[0]
		}
	case len(segments) >= 2 && (segments[0] == "channel" || segments[0] == "c"):
		if youtubeHandle.MatchString(segments[1]) {
			login = segments[0] + "/" + segments[1]
		}
	}
	if login == "" {
		return models.Channel{}, errors.InvalidRequest(op, nil, "YouTube URL must name a channel (/@handle, /channel/<id> or /c/<name>)")
	}
	return models.Channel{
		Platform: models.PlatformYouTube,
		Login:    login,
		URL:      "https://www.youtube.com/" + login,
	}, nil
}

func parseKick(op string, segments []string) (models.Channel, error) {
	if len(segments) == 0 {
		return models.Channel{}, errors.InvalidRequest(op, nil, "Kick URL must name a channel")
	}
	slug := strings.ToLower(segments[0])
	if kickReserved[slug] || !kickSlug.MatchString(slug) {
		return models.Channel{}, errors.InvalidRequest(op, nil, "Kick URL must name a channel")
	}
	return models.Channel{
		Platform: models.PlatformKick,
		Login:    slug,
		URL:      "https://kick.com/" + slug,
	}, nil
}

func pathSegments(p string) []string {
	var out []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// ValidateDuration checks the requested window before any external call.
func ValidateDuration(minutes, max int) error {
	const op = "validation.ValidateDuration"

	if minutes < 1 || minutes > max {
		return errors.InvalidRequest(op, nil, fmt.Sprintf("duration_minutes must be between 1 and %d", max))
	}
	return nil
}

type Validator struct {
	maxMinutes int
}

func NewValidator(maxMinutes int) *Validator {
	return &Validator{maxMinutes: maxMinutes}
}

// CatchUpInput is the decoded client payload before validation.
type CatchUpInput struct {
	StreamURL       string
	DurationMinutes int
	UserID          string
}

// CatchUp turns client input into an accepted request.
func (v *Validator) CatchUp(in CatchUpInput) (models.CatchUpRequest, error) {
	channel, err := ParseStreamURL(in.StreamURL)
	if err != nil {
		return models.CatchUpRequest{}, err
	}
	if err := ValidateDuration(in.DurationMinutes, v.maxMinutes); err != nil {
		return models.CatchUpRequest{}, err
	}
	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		userID = "anonymous"
	}
	return models.CatchUpRequest{
		Channel:         channel,
		DurationMinutes: in.DurationMinutes,
		UserID:          userID,
	}, nil
}

// RequestValidationOpts holds options for request validation
type RequestValidationOpts struct {
	MaxContentLength int64
	AllowedMethods   []string
	RequireJSON      bool
}

// ValidateRequest validates HTTP requests
func (v *Validator) ValidateRequest(r *http.Request, opts RequestValidationOpts) error {
	const op = "Validator.ValidateRequest"

	if len(opts.AllowedMethods) > 0 {
		methodAllowed := false
		for _, method := range opts.AllowedMethods {
			if r.Method == method {
				methodAllowed = true
				break
			}
		}
		if !methodAllowed {
			return errors.InvalidRequest(op, nil, fmt.Sprintf("Method %s not allowed", r.Method))
		}
	}

	if opts.RequireJSON {
		if contentType := r.Header.Get("Content-Type"); !strings.Contains(contentType, "application/json") {
			return errors.InvalidRequest(op, nil, "Content-Type must be application/json")
		}
	}

	if opts.MaxContentLength > 0 && r.ContentLength > opts.MaxContentLength {
		return errors.InvalidRequest(op, nil, "Request body too large")
	}

	return nil
}
