package sources

import (
	"encoding/xml"
	"fmt"
	"os"
	"strings"

	"dispatch/internal/core"
)

type opmlDocument struct {
	XMLName xml.Name `xml:"opml"`
	Body    struct {
		Outlines []opmlOutline `xml:"outline"`
	} `xml:"body"`
}

type opmlOutline struct {
	Title    string        `xml:"title,attr"`
	Text     string        `xml:"text,attr"`
	Type     string        `xml:"type,attr"`
	XMLURL   string        `xml:"xmlUrl,attr"`
	Outlines []opmlOutline `xml:"outline"`
}

// LoadOPML reads feed sources from an OPML file. The outline type
// attribute becomes the source kind.
func LoadOPML(path string) ([]core.SourceDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read OPML file: %w", err)
	}
	return ParseOPML(data)
}

func ParseOPML(data []byte) ([]core.SourceDescriptor, error) {
	var doc opmlDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse OPML: %w", err)
	}

	var sources []core.SourceDescriptor
	collectOutlines(&sources, doc.Body.Outlines)
	return sources, nil
}

func collectOutlines(result *[]core.SourceDescriptor, outlines []opmlOutline) {
	for _, outline := range outlines {
		if outline.XMLURL != "" {
			name := outline.Title
			if name == "" {
				name = outline.Text
			}
			if name == "" {
				name = outline.XMLURL
			}

			kind := strings.ToLower(outline.Type)
			if kind != KindRSS && kind != KindGCloudJSON {
				kind = KindAtom
			}

			*result = append(*result, core.SourceDescriptor{
				Name: name,
				URL:  outline.XMLURL,
				Kind: kind,
			})
		}

		if len(outline.Outlines) > 0 {
			collectOutlines(result, outline.Outlines)
		}
	}
}
