package format

import (
	"fmt"

	"github.com/bwmarrin/discordgo"

	"dispatch/internal/core"
)

const (
	gitHubColor = 0x238636
	gitHubIcon  = "https://github.githubassets.com/favicons/favicon.png"
)

type GitHub struct{}

func (GitHub) Format(item *core.Item, src core.SourceDescriptor) (*discordgo.MessageEmbed, error) {
	if err := requireTitle(item); err != nil {
		return nil, err
	}

	color := gitHubColor
	if src.Color != 0 {
		color = src.Color
	}

	repo := item.Source
	embed := newEmbed(item, truncate(item.Title, maxTitle), color)
	embed.Author = &discordgo.MessageEmbedAuthor{
		Name:    repo,
		URL:     "https://github.com/" + repo,
		IconURL: gitHubIcon,
	}
	embed.Footer = &discordgo.MessageEmbedFooter{Text: "GitHub", IconURL: gitHubIcon}

	if item.Body != "" {
		embed.Description = excerpt(item.Body, maxDescription)
	}

	author := item.Author
	if login := item.GetString("login"); login != "" {
		author = fmt.Sprintf("[@%s](%s)", login, item.AuthorURL)
	}

	embed.Fields = []*discordgo.MessageEmbedField{
		{Name: "Commit", Value: fmt.Sprintf("[`%s`](%s)", truncate(item.ID, 7), item.Link), Inline: true},
		{Name: "Author", Value: author, Inline: true},
	}

	if item.ImageURL != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: item.ImageURL}
	}

	return embed, nil
}
