// Package format turns items into webhook embeds.
package format

import (
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"dispatch/internal/core"
)

const (
	maxTitle       = 256
	maxDescription = 500
	ellipsis       = "..."
)

// ForType returns the formatter for a pipeline type.
func ForType(pipelineType string) (core.Formatter, error) {
	switch pipelineType {
	case "github":
		return GitHub{}, nil
	case "reddit":
		return Reddit{}, nil
	case "status":
		return Status{}, nil
	default:
		return nil, fmt.Errorf("no formatter for pipeline type %q", pipelineType)
	}
}

// truncate cuts s to limit runes.
func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}

// excerpt cuts s to limit runes and marks the cut.
func excerpt(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + ellipsis
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// number groups digits the way the English locale does.
func number(n int) string {
	return message.NewPrinter(language.English).Sprintf("%d", n)
}

// Casers hold state and are not safe for concurrent use.
func title(s string) string {
	return cases.Title(language.English).String(s)
}

func requireTitle(item *core.Item) error {
	if item == nil {
		return fmt.Errorf("nil item")
	}
	if item.Title == "" && item.Link == "" {
		return fmt.Errorf("item %s has neither title nor link", item.ID)
	}
	return nil
}

func newEmbed(item *core.Item, title string, color int) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Type:      discordgo.EmbedTypeRich,
		Title:     title,
		URL:       item.Link,
		Color:     color,
		Timestamp: timestamp(item.Timestamp),
	}
}
