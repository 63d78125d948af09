package sources

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"dispatch/internal/core"
)

const (
	RedditNamespace    = "reddit"
	defaultRedditBase  = "https://www.reddit.com"
	defaultListing     = "top"
	defaultPeriod      = "day"
	defaultRedditLimit = 10
)

type RedditConfig struct {
	BaseURL string
	Listing string
	Period  string
	Limit   int
}

// RedditFetcher reads a subreddit listing. The source name is the
// subreddit without the r/ prefix.
type RedditFetcher struct {
	config RedditConfig
	opts   Options
}

type redditPost struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Author      string  `json:"author"`
	URL         string  `json:"url"`
	Permalink   string  `json:"permalink"`
	Score       int     `json:"score"`
	NumComments int     `json:"num_comments"`
	Subreddit   string  `json:"subreddit"`
	Thumbnail   string  `json:"thumbnail"`
	Selftext    string  `json:"selftext"`
	CreatedUTC  float64 `json:"created_utc"`
	IsSelf      bool    `json:"is_self"`
	Preview     *struct {
		Images []struct {
			Source struct {
				URL string `json:"url"`
			} `json:"source"`
		} `json:"images"`
	} `json:"preview"`
}

type redditListing struct {
	Data struct {
		Children []struct {
			Data redditPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

func NewRedditFetcher(config RedditConfig, opts Options) *RedditFetcher {
	if config.BaseURL == "" {
		config.BaseURL = defaultRedditBase
	}
	if config.Listing == "" {
		config.Listing = defaultListing
	}
	if config.Period == "" {
		config.Period = defaultPeriod
	}
	if config.Limit <= 0 {
		config.Limit = defaultRedditLimit
	}

	return &RedditFetcher{
		config: config,
		opts:   opts.withDefaults(),
	}
}

func (r *RedditFetcher) Fetch(ctx context.Context, src core.SourceDescriptor) ([]*core.Item, error) {
	subreddit := strings.TrimPrefix(settingString(src, "subreddit", src.Name), "r/")
	listing := settingString(src, "listing", r.config.Listing)
	period := settingString(src, "period", r.config.Period)
	limit := settingInt(src, "limit", r.config.Limit)

	url := fmt.Sprintf("%s/r/%s/%s.json?t=%s&limit=%d",
		strings.TrimRight(r.config.BaseURL, "/"), subreddit, listing, period, limit)

	var resp redditListing
	if err := getJSON(ctx, r.opts, url, nil, &resp); err != nil {
		return nil, fmt.Errorf("reddit r/%s: %w", subreddit, err)
	}

	slog.Debug("Reddit posts fetched", "subreddit", subreddit, "count", len(resp.Data.Children))

	items := make([]*core.Item, 0, len(resp.Data.Children))
	for _, child := range resp.Data.Children {
		post := child.Data
		link := "https://reddit.com" + post.Permalink

		items = append(items, &core.Item{
			ID:        post.ID,
			Namespace: RedditNamespace,
			Source:    subreddit,
			Title:     post.Title,
			Body:      post.Selftext,
			Link:      link,
			Author:    post.Author,
			AuthorURL: "https://reddit.com/u/" + post.Author,
			ImageURL:  postImage(post),
			Score:     post.Score,
			Comments:  post.NumComments,
			Timestamp: time.Unix(int64(post.CreatedUTC), 0).UTC(),
			Metadata: map[string]any{
				"subreddit": post.Subreddit,
				"url":       post.URL,
				"is_self":   post.IsSelf,
			},
		})
	}

	return items, nil
}

// postImage prefers the preview image and falls back to an http thumbnail.
// Reddit sends preview URLs HTML-escaped.
func postImage(post redditPost) string {
	if post.Preview != nil && len(post.Preview.Images) > 0 && post.Preview.Images[0].Source.URL != "" {
		return strings.ReplaceAll(post.Preview.Images[0].Source.URL, "&amp;", "&")
	}
	if strings.HasPrefix(post.Thumbnail, "http") {
		return post.Thumbnail
	}
	return ""
}
