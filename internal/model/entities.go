package model

import "time"

// Event is a named race meeting within a series and year, unique on
// (Series, Year, Title).
type Event struct {
	ID        int64
	Title     string
	Year      int
	Series    Series
	Status    EventStatus
	CreatedAt time.Time
}

// Document is a PDF artifact published by the FIA for an Event, unique on Href.
type Document struct {
	ID        int64
	EventID   int64
	Title     string
	Href      string
	Mirror    string
	Status    DocumentStatus
	CreatedAt time.Time
}

// Image is one rendered page of a Document, ordered by PageNumber.
type Image struct {
	ID         int64
	DocumentID int64
	PageNumber int
	URL        string
	CreatedAt  time.Time
}

// SeriesSettings is a guild's per-series notification configuration:
// an optional destination channel, a thread-grouping flag (default
// true), and an optional mention role.
type SeriesSettings struct {
	Channel *string
	Threads bool
	Role    *string
}

// Guild is a chat-platform tenant with per-series subscription settings.
type Guild struct {
	ID        int64
	DiscordID string
	Name      string
	JoinedAt  time.Time
	F1        SeriesSettings
	F2        SeriesSettings
	F3        SeriesSettings
}

// SettingsFor returns the guild's settings for the given series.
func (g *Guild) SettingsFor(s Series) SeriesSettings {
	switch s {
	case SeriesF1:
		return g.F1
	case SeriesF2:
		return g.F2
	case SeriesF3:
		return g.F3
	default:
		return SeriesSettings{}
	}
}

// Thread groups messages for one Event within one Guild, unique on
// (GuildID, EventID).
type Thread struct {
	ID        int64
	DiscordID string
	ChannelID string
	EventID   int64
	GuildID   int64
	CreatedAt time.Time
}

// AllowRequest is the per-event operator approval artifact, unique on EventID.
type AllowRequest struct {
	ID         int64
	EventID    int64
	Response   AllowRequestStatus
	CreatedAt  time.Time
	ApprovedBy *string
	ApprovedAt *time.Time
}
