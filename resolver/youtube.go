package resolver

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/nijaru/catchup/config"
	"github.com/nijaru/catchup/errors"
	"github.com/nijaru/catchup/models"
	"github.com/nijaru/catchup/retry"
)

// YouTubeCatalog reads a channel's /live page. A live broadcast with DVR
// enabled is its own archive.
type YouTubeCatalog struct {
	baseURL   string
	userAgent string
	client    *http.Client
	policy    retry.Policy
	now       func() time.Time
}

func NewYouTubeCatalog(cfg config.YouTubeConfig, userAgent string, policy retry.Policy) *YouTubeCatalog {
	return &YouTubeCatalog{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		userAgent: userAgent,
		client:    &http.Client{Timeout: cfg.Timeout},
		policy:    policy,
		now:       time.Now,
	}
}

func (y *YouTubeCatalog) Lookup(ctx context.Context, channel models.Channel) (Archive, error) {
	const op = "YouTubeCatalog.Lookup"

	var page []byte
	err := retry.Do(ctx, op, "resolving", retry.BudgetFrom(ctx), y.policy, func(attempt int) error {
		req, err := http.NewRequest(http.MethodGet, y.baseURL+"/"+channel.Login+"/live", nil)
		if err != nil {
			return errors.Internal(op, err, "failed to build request")
		}
		req.Header.Set("User-Agent", y.userAgent)
		req.Header.Set("Accept-Language", "en-US,en;q=0.9")

		resp, err := y.client.Do(req.WithContext(ctx))
		if err != nil {
			return classifyTransport(ctx, op, err)
		}
		defer resp.Body.Close()

		if strings.HasPrefix(resp.Request.URL.Host, "consent.") {
			return errors.Blocked(op, nil, "YouTube served a consent wall")
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return classifyTransport(ctx, op, err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return classifyStatus(op, resp.StatusCode, body)
		}
		page = body
		return nil
	})
	if err != nil {
		return Archive{}, err
	}

	return y.parseLivePage(op, page)
}

func (y *YouTubeCatalog) parseLivePage(op string, page []byte) (Archive, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return Archive{}, errors.FormatOrProtocol(op, err, "failed to parse live page")
	}

	if doc.Find(`form[action*="consent"]`).Length() > 0 || strings.Contains(doc.Find("title").Text(), "Before you continue") {
		return Archive{}, errors.Blocked(op, nil, "YouTube served a consent wall")
	}

	canonical, _ := doc.Find(`link[rel="canonical"]`).Attr("href")
	videoID := watchID(canonical)
	if videoID == "" {
		return Archive{}, errors.NoArchive(op, nil, "channel is not live")
	}

	if live, ok := doc.Find(`meta[itemprop="isLiveBroadcast"]`).Attr("content"); ok && !strings.EqualFold(live, "true") {
		return Archive{}, errors.NoArchive(op, nil, "channel is not live")
	}

	startRaw, ok := doc.Find(`meta[itemprop="startDate"]`).Attr("content")
	if !ok {
		return Archive{}, errors.NoArchive(op, nil, "live broadcast has not started")
	}
	start, err := time.Parse(time.RFC3339, startRaw)
	if err != nil {
		return Archive{}, errors.FormatOrProtocol(op, err, "unrecognised broadcast start time")
	}

	end := y.now()
	live := true
	if endRaw, ok := doc.Find(`meta[itemprop="endDate"]`).Attr("content"); ok {
		if t, err := time.Parse(time.RFC3339, endRaw); err == nil {
			end = t
			live = false
		}
	}
	if !end.After(start) {
		return Archive{}, errors.NoArchive(op, nil, "live broadcast has not started")
	}

	title, _ := doc.Find(`meta[property="og:title"]`).Attr("content")
	if title == "" {
		title, _ = doc.Find(`meta[name="title"]`).Attr("content")
	}

	return Archive{
		ID:       videoID,
		URL:      "https://www.youtube.com/watch?v=" + videoID,
		Title:    title,
		Duration: end.Sub(start).Truncate(time.Second),
		Live:     live,
	}, nil
}

func watchID(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || !strings.HasSuffix(u.Path, "/watch") {
		return ""
	}
	return u.Query().Get("v")
}
