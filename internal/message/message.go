// Package message composes the chat-platform messages the publisher
// delivers for a ready document: a lead embed carrying the document's
// metadata and first page, followed by up to three more page images.
package message

import (
	"fmt"

	"github.com/ortdev/fianotify/internal/chatclient"
	"github.com/ortdev/fianotify/internal/model"
)

// fiaBlue is the FIA's brand color, used as every embed's accent.
const fiaBlue = 0x003063

// fiaThumbnail is the small logo shown in the lead embed's corner.
const fiaThumbnail = "https://www.fia.com/sites/default/files/fia_logo.png"

// maxImageEmbeds bounds how many of a document's rendered pages are
// attached: the lead embed's own image plus up to three more.
const maxImageEmbeds = 4

// BuildDocument composes the message for one ready document. images must
// already be ordered by page number; only the first maxImageEmbeds are used.
func BuildDocument(ev model.Event, doc model.Document, images []model.Image, mentionRole *string) chatclient.Message {
	content := ""
	if mentionRole != nil && *mentionRole != "" {
		content = fmt.Sprintf("<@&%s>", *mentionRole)
	}

	lead := chatclient.Embed{
		Title:        doc.Title,
		URL:          doc.Href,
		Description:  fmt.Sprintf("[mirror](%s)", doc.Mirror),
		Color:        fiaBlue,
		ThumbnailURL: fiaThumbnail,
		Author:       "FIA Document",
		Timestamp:    doc.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}

	embeds := make([]chatclient.Embed, 0, maxImageEmbeds)
	if len(images) > 0 {
		lead.ImageURL = images[0].URL
	}
	embeds = append(embeds, lead)

	for i := 1; i < len(images) && len(embeds) < maxImageEmbeds; i++ {
		embeds = append(embeds, chatclient.Embed{
			URL:      doc.Href,
			Color:    fiaBlue,
			ImageURL: images[i].URL,
		})
	}

	return chatclient.Message{Content: content, Embeds: embeds}
}

// ThreadName is the per-event thread's display name.
func ThreadName(ev model.Event) string {
	return fmt.Sprintf("%s %d %s", ev.Series, ev.Year, ev.Title)
}
