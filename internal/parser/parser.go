// Package parser turns an FIA documents season-index page into a Season
// tree. It drives golang.org/x/net/html's tokenizer through the same small
// state machine the source site's markup was originally scraped with:
// event-wrapper list -> event title -> per-document anchor/title/date.
package parser

import (
	"io"
	"strings"

	"golang.org/x/net/html"
)

const baseURL = "https://www.fia.com"

type state int

const (
	stateNone state = iota
	stateBeginEvent
	stateEventTitle
	stateDocument
	stateDocumentTitle
	stateDocumentDate
	stateNext
)

// Document is one PDF link discovered under an event. Date is populated
// from the markup but never persisted — Href is the only identity key
// documents are compared on.
type Document struct {
	Title string
	Href  string
	Date  string
}

// Event is a race meeting and the documents published under it.
type Event struct {
	Title     string
	Documents []Document
}

// Season is the full parsed season index for one series/year.
type Season struct {
	Year   int
	Events []Event
}

// Parse reads an FIA season index page and returns its events and
// documents. It never returns an error for malformed HTML: the tokenizer
// degrades gracefully and an incomplete page just yields fewer events.
func Parse(r io.Reader, year int) *Season {
	season := &Season{Year: year}

	z := html.NewTokenizer(r)
	st := stateNone
	var event *Event
	var doc *Document

	flushEvent := func() {
		if event != nil {
			season.Events = append(season.Events, *event)
			event = nil
		}
	}
	flushDocument := func() {
		if doc != nil && event != nil {
			event.Documents = append(event.Documents, *doc)
			doc = nil
		}
	}

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			flushEvent()
			return season

		case html.StartTagToken, html.SelfClosingTagToken:
			t := z.Token()
			class := attr(t, "class")

			switch t.Data {
			case "ul":
				if class == "event-wrapper" {
					st = stateBeginEvent
				}

			case "a":
				if st != stateNext {
					continue
				}
				href := attr(t, "href")
				if href == "" {
					continue
				}
				doc = &Document{
					Href: baseURL + strings.ReplaceAll(strings.TrimSpace(href), " ", "%20"),
				}
				st = stateDocument

			case "div":
				if class == "" {
					continue
				}
				switch st {
				case stateBeginEvent, stateNext:
					if strings.HasPrefix(class, "event-title") {
						st = stateEventTitle
					}
				case stateDocument:
					if class == "title" {
						st = stateDocumentTitle
					}
				}

			case "span":
				if st == stateDocument && class == "date-display-single" {
					st = stateDocumentDate
				}
			}

		case html.TextToken:
			text := strings.TrimSpace(z.Token().Data)
			if text == "" {
				continue
			}
			switch st {
			case stateEventTitle:
				flushEvent()
				event = &Event{Title: text, Documents: make([]Document, 0, 60)}
				st = stateNext

			case stateDocumentTitle:
				if doc != nil {
					doc.Title = text
				}
				st = stateDocument

			case stateDocumentDate:
				if doc != nil {
					doc.Date = text
				}
				st = stateNext
				flushDocument()
			}
		}
	}
}

func attr(t html.Token, name string) string {
	for _, a := range t.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}
