package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/feeds"

	"dispatch/internal/core"
)

type feedType string

const (
	feedRSS  feedType = "rss"
	feedAtom feedType = "atom"
	feedJSON feedType = "json"
)

var feedContentTypes = map[feedType]string{
	feedRSS:  "application/rss+xml; charset=utf-8",
	feedAtom: "application/atom+xml; charset=utf-8",
	feedJSON: "application/feed+json; charset=utf-8",
}

type feedKey struct {
	Name string
	Type feedType
}

func (k feedKey) String() string {
	return fmt.Sprintf("%s:%s", k.Name, k.Type)
}

func (s *Server) handleFeed(kind feedType) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := feedKey{Name: s.config.Name, Type: kind}

		body, ok := s.feeds.Get(key)
		if !ok {
			rendered, err := s.renderFeed(c, kind)
			if err != nil {
				s.logger.Error("Failed to render feed", "type", string(kind), "error", err)
				c.String(http.StatusInternalServerError, "Error: %v", err)
				return
			}
			body = rendered
			s.feeds.SetWithTTL(key, body, s.config.FeedCacheTTL)
		}

		c.Header("Cache-Control", "public, max-age=60")
		c.Data(http.StatusOK, feedContentTypes[kind], []byte(body))
	}
}

func (s *Server) renderFeed(c *gin.Context, kind feedType) (string, error) {
	entries, err := s.journal.Recent(c.Request.Context(), s.config.FeedSize)
	if err != nil {
		return "", fmt.Errorf("list journal: %w", err)
	}

	feed := s.buildFeed(entries)
	switch kind {
	case feedAtom:
		return feed.ToAtom()
	case feedJSON:
		return feed.ToJSON()
	default:
		return feed.ToRss()
	}
}

func (s *Server) buildFeed(entries []core.JournalEntry) *feeds.Feed {
	items := make([]*feeds.Item, 0, len(entries))
	for _, entry := range entries {
		created := entry.PublishedAt
		if created.IsZero() {
			created = entry.DeliveredAt
		}

		items = append(items, &feeds.Item{
			Id:          entry.Key,
			Title:       entry.Title,
			Link:        &feeds.Link{Href: entry.Link},
			Description: entry.Description,
			Author:      &feeds.Author{Name: entry.Author},
			Source:      &feeds.Link{Href: entry.Source},
			Created:     created,
			Updated:     entry.DeliveredAt,
		})
	}

	return &feeds.Feed{
		Title:       s.config.FeedTitle,
		Link:        &feeds.Link{Href: s.config.FeedLink},
		Description: fmt.Sprintf("Items relayed by %s", s.config.Name),
		Author:      &feeds.Author{Name: s.config.Name},
		Created:     time.Now().UTC(),
		Items:       items,
	}
}
