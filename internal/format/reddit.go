package format

import (
	"fmt"

	"github.com/bwmarrin/discordgo"

	"dispatch/internal/core"
)

const (
	redditColor    = 0xff4500
	redditIcon     = "https://www.redditstatic.com/desktop2x/img/favicon/android-icon-192x192.png"
	maxSelfExcerpt = 300
)

type Reddit struct{}

func (Reddit) Format(item *core.Item, src core.SourceDescriptor) (*discordgo.MessageEmbed, error) {
	if err := requireTitle(item); err != nil {
		return nil, err
	}

	color := redditColor
	if src.Color != 0 {
		color = src.Color
	}

	subreddit := item.GetString("subreddit")
	if subreddit == "" {
		subreddit = item.Source
	}

	embed := newEmbed(item, truncate(item.Title, maxTitle), color)
	embed.Author = &discordgo.MessageEmbedAuthor{
		Name:    "r/" + subreddit,
		URL:     "https://reddit.com/r/" + subreddit,
		IconURL: redditIcon,
	}
	embed.Footer = &discordgo.MessageEmbedFooter{Text: "Reddit", IconURL: redditIcon}
	embed.Fields = []*discordgo.MessageEmbedField{
		{Name: "Score", Value: "⬆️ " + number(item.Score), Inline: true},
		{Name: "Comments", Value: "💬 " + number(item.Comments), Inline: true},
		{Name: "Author", Value: "u/" + item.Author, Inline: true},
	}

	if item.ImageURL != "" {
		embed.Image = &discordgo.MessageEmbedImage{URL: item.ImageURL}
	}

	isSelf, _ := item.Metadata["is_self"].(bool)
	external := item.GetString("url")

	switch {
	case !isSelf && external != "" && external != item.Link:
		embed.Description = fmt.Sprintf("🔗 [External Link](%s)", external)
	case item.Body != "":
		embed.Description = excerpt(item.Body, maxSelfExcerpt)
	}

	return embed, nil
}
