package format

import (
	"github.com/bwmarrin/discordgo"

	"dispatch/internal/core"
)

const maxStatusTitle = 200

var statusEmoji = map[string]string{
	"investigating": "🔴",
	"identified":    "🟠",
	"monitoring":    "🟡",
	"resolved":      "🟢",
}

type Status struct{}

func (Status) Format(item *core.Item, src core.SourceDescriptor) (*discordgo.MessageEmbed, error) {
	if err := requireTitle(item); err != nil {
		return nil, err
	}

	status := item.Status
	if status == "" {
		status = "unknown"
	}

	emoji, ok := statusEmoji[status]
	if !ok {
		emoji = "⚪"
	}

	provider := src.Name
	if provider == "" {
		provider = item.Source
	}

	embed := newEmbed(item, emoji+" "+truncate(item.Title, maxStatusTitle), src.Color)
	embed.Author = &discordgo.MessageEmbedAuthor{Name: provider, URL: item.Link}
	embed.Footer = &discordgo.MessageEmbedFooter{Text: "Status: " + title(status)}

	if item.Body != "" {
		embed.Description = excerpt(item.Body, maxDescription)
	}

	return embed, nil
}
