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
	GitHubNamespace      = "github"
	defaultGitHubAPI     = "https://api.github.com"
	defaultGitHubPerPage = 10
)

type GitHubConfig struct {
	APIURL  string
	Token   string
	PerPage int
}

// GitHubFetcher lists the latest commits of a repository. The source name
// is the "owner/repo" path unless the repo setting overrides it.
type GitHubFetcher struct {
	config GitHubConfig
	opts   Options
}

type gitHubCommit struct {
	SHA     string `json:"sha"`
	HTMLURL string `json:"html_url"`
	Commit  struct {
		Message string `json:"message"`
		Author  struct {
			Name string    `json:"name"`
			Date time.Time `json:"date"`
		} `json:"author"`
	} `json:"commit"`
	Author *struct {
		Login     string `json:"login"`
		AvatarURL string `json:"avatar_url"`
		HTMLURL   string `json:"html_url"`
	} `json:"author"`
}

func NewGitHubFetcher(config GitHubConfig, opts Options) *GitHubFetcher {
	if config.APIURL == "" {
		config.APIURL = defaultGitHubAPI
	}
	if config.PerPage <= 0 {
		config.PerPage = defaultGitHubPerPage
	}

	return &GitHubFetcher{
		config: config,
		opts:   opts.withDefaults(),
	}
}

func (g *GitHubFetcher) Fetch(ctx context.Context, src core.SourceDescriptor) ([]*core.Item, error) {
	repo := settingString(src, "repo", src.Name)
	perPage := settingInt(src, "per_page", g.config.PerPage)
	url := fmt.Sprintf("%s/repos/%s/commits?per_page=%d", strings.TrimRight(g.config.APIURL, "/"), repo, perPage)

	headers := map[string]string{"Accept": "application/vnd.github.v3+json"}
	if g.config.Token != "" {
		headers["Authorization"] = "Bearer " + g.config.Token
	}

	var commits []gitHubCommit
	if err := getJSON(ctx, g.opts, url, headers, &commits); err != nil {
		return nil, fmt.Errorf("github %s: %w", repo, err)
	}

	slog.Debug("GitHub commits fetched", "repo", repo, "count", len(commits))

	items := make([]*core.Item, 0, len(commits))
	for _, c := range commits {
		title, body, _ := strings.Cut(c.Commit.Message, "\n")

		item := &core.Item{
			ID:        c.SHA,
			Namespace: GitHubNamespace,
			Source:    repo,
			Title:     title,
			Body:      strings.TrimSpace(body),
			Link:      c.HTMLURL,
			Author:    c.Commit.Author.Name,
			Timestamp: c.Commit.Author.Date,
			Metadata: map[string]any{
				"repo":    repo,
				"message": c.Commit.Message,
			},
		}
		if c.Author != nil {
			item.Metadata["login"] = c.Author.Login
			item.AuthorURL = c.Author.HTMLURL
			item.ImageURL = c.Author.AvatarURL
		}

		items = append(items, item)
	}

	return items, nil
}
