package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"dispatch/internal/core"
)

const (
	StatusNamespace = "status"

	KindAtom       = "atom"
	KindRSS        = "rss"
	KindGCloudJSON = "gcloud-json"

	StatusInvestigating = "investigating"
	StatusIdentified    = "identified"
	StatusMonitoring    = "monitoring"
	StatusResolved      = "resolved"
	StatusUnknown       = "unknown"

	maxStatusContent = 500
)

const feedAccept = "application/atom+xml, application/rss+xml, application/json, application/xml, text/xml, */*"

// DefaultAIKeywords select the Google Cloud incidents worth relaying.
var DefaultAIKeywords = []string{"vertex", "gemini", "ai platform", "ai studio", "machine learning"}

type StatusConfig struct {
	// Keywords filter gcloud-json incidents by description.
	Keywords []string
}

// StatusFetcher reads provider status feeds. The source kind selects the
// parser: atom, rss or gcloud-json.
type StatusFetcher struct {
	config StatusConfig
	opts   Options
}

type gcloudIncident struct {
	ID           string `json:"id"`
	Number       string `json:"number"`
	Begin        string `json:"begin"`
	End          string `json:"end"`
	Modified     string `json:"modified"`
	ExternalDesc string `json:"external_desc"`
	Updates      []struct {
		Text string `json:"text"`
		When string `json:"when"`
	} `json:"updates"`
}

func NewStatusFetcher(config StatusConfig, opts Options) *StatusFetcher {
	if len(config.Keywords) == 0 {
		config.Keywords = DefaultAIKeywords
	}

	return &StatusFetcher{
		config: config,
		opts:   opts.withDefaults(),
	}
}

func (s *StatusFetcher) Fetch(ctx context.Context, src core.SourceDescriptor) ([]*core.Item, error) {
	body, err := get(ctx, s.opts, src.URL, map[string]string{"Accept": feedAccept})
	if err != nil {
		return nil, fmt.Errorf("status %s: %w", src.Name, err)
	}

	var items []*core.Item
	switch kind := strings.ToLower(src.Kind); kind {
	case KindGCloudJSON:
		items, err = s.parseGCloud(body, src)
	case KindAtom, KindRSS, "":
		items, err = s.parseFeed(body, src)
	default:
		return nil, fmt.Errorf("status %s: unsupported feed kind %q", src.Name, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("status %s: %w", src.Name, err)
	}

	slog.Debug("Status feed fetched", "provider", src.Name, "count", len(items))
	return items, nil
}

func (s *StatusFetcher) parseFeed(body []byte, src core.SourceDescriptor) ([]*core.Item, error) {
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	items := make([]*core.Item, 0, len(feed.Items))
	for _, entry := range feed.Items {
		id := entry.GUID
		if id == "" {
			id = entry.Link
		}

		raw := entry.Content
		if raw == "" {
			raw = entry.Description
		}
		content := stripHTML(raw)
		title := stripHTML(entry.Title)

		var ts time.Time
		switch {
		case entry.UpdatedParsed != nil:
			ts = *entry.UpdatedParsed
		case entry.PublishedParsed != nil:
			ts = *entry.PublishedParsed
		}

		status := normalizeStatus(badgeStatus(raw))
		if status == StatusUnknown {
			status = detectStatus(title + " " + content)
		}

		items = append(items, &core.Item{
			ID:        id,
			Namespace: StatusNamespace,
			Source:    src.Name,
			Status:    status,
			Title:     title,
			Body:      content,
			Link:      entry.Link,
			Author:    src.Name,
			Timestamp: ts,
			Metadata:  map[string]any{"provider": src.Name},
		})
	}

	return items, nil
}

func (s *StatusFetcher) parseGCloud(body []byte, src core.SourceDescriptor) ([]*core.Item, error) {
	var incidents []gcloudIncident
	if err := json.Unmarshal(body, &incidents); err != nil {
		return nil, fmt.Errorf("failed to parse incidents: %w", err)
	}

	items := make([]*core.Item, 0)
	for _, incident := range incidents {
		if !containsAny(strings.ToLower(incident.ExternalDesc), s.config.Keywords) {
			continue
		}

		latest := incident.ExternalDesc
		if len(incident.Updates) > 0 && incident.Updates[0].Text != "" {
			latest = incident.Updates[0].Text
		}

		// An unparsable time leaves the zero value, which the dedup
		// filter treats as stale.
		modified, _ := time.Parse(time.RFC3339, incident.Modified)

		status := detectStatus(latest)
		if incident.End != "" {
			status = StatusResolved
		}

		items = append(items, &core.Item{
			ID:        incident.ID,
			Namespace: StatusNamespace,
			Source:    src.Name,
			Status:    status,
			Title:     incident.ExternalDesc,
			Body:      truncateRunes(latest, maxStatusContent),
			Link:      "https://status.cloud.google.com/incidents/" + incident.ID,
			Author:    src.Name,
			Timestamp: modified,
			Metadata:  map[string]any{"provider": src.Name, "number": incident.Number},
		})
	}

	return items, nil
}

// detectStatus infers the incident state from free text.
func detectStatus(text string) string {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "resolved"), strings.Contains(lower, "completed"), strings.Contains(lower, "恢复"):
		return StatusResolved
	case strings.Contains(lower, "monitoring"):
		return StatusMonitoring
	case strings.Contains(lower, "identified"):
		return StatusIdentified
	case strings.Contains(lower, "investigating"):
		return StatusInvestigating
	default:
		return StatusUnknown
	}
}

func normalizeStatus(badge string) string {
	if badge == "" {
		return StatusUnknown
	}
	return detectStatus(badge)
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

func truncateRunes(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
