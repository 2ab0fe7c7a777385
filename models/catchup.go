package models

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

type Platform string

const (
	PlatformTwitch  Platform = "twitch"
	PlatformYouTube Platform = "youtube"
	PlatformKick    Platform = "kick"
)

// Channel identifies a live stream by platform and channel login.
type Channel struct {
	Platform Platform `json:"platform"`
	Login    string   `json:"login"`
	URL      string   `json:"url"`
}

// CatchUpRequest is accepted once and never modified.
type CatchUpRequest struct {
	Channel         Channel
	DurationMinutes int
	UserID          string
}

// ResolvedArchive is valid for a single request only; the window is
// relative to "now" at resolution time.
type ResolvedArchive struct {
	Platform   Platform
	ArchiveID  string
	ArchiveURL string
	Title      string
	Duration   time.Duration
	Start      time.Duration
	End        time.Duration
	ResolvedAt time.Time
	Live       bool
}

func (a ResolvedArchive) Window() time.Duration {
	return a.End - a.Start
}

// StartLink points at the first second of the window.
func (a ResolvedArchive) StartLink() string {
	return DeepLink(a.ArchiveURL, a.Start)
}

type AudioSegment struct {
	Data     []byte
	Duration time.Duration
	Format   string
	MIMEType string
}

func (a AudioSegment) Size() int {
	return len(a.Data)
}

// FormatOffset renders an offset the way Twitch and YouTube accept it in
// the t= query parameter, e.g. 1h02m03s.
func FormatOffset(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	return fmt.Sprintf("%dh%02dm%02ds", total/3600, (total%3600)/60, total%60)
}

// DeepLink returns rawURL with t= set to offset. Unparseable URLs are
// returned unchanged.
func DeepLink(rawURL string, offset time.Duration) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	q.Set("t", FormatOffset(offset))
	u.RawQuery = q.Encode()
	return u.String()
}

// Clock renders an offset as m:ss, or h:mm:ss past the hour.
func Clock(d time.Duration) string {
	total := int(d / time.Second)
	if total < 0 {
		total = 0
	}
	if total >= 3600 {
		return fmt.Sprintf("%d:%02d:%02d", total/3600, (total%3600)/60, total%60)
	}
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

func (p Platform) Title() string {
	if p == "" {
		return ""
	}
	return strings.ToUpper(string(p[:1])) + string(p[1:])
}
