package model

// EventStatus tracks an Event through the moderation/publication lifecycle:
// NotAllowed -> {Allowed, Denied} -> Posted.
type EventStatus string

const (
	EventNotAllowed EventStatus = "NotAllowed"
	EventAllowed    EventStatus = "Allowed"
	EventDenied     EventStatus = "Denied"
	EventPosted     EventStatus = "Posted"
)

// DocumentStatus tracks a Document from discovery through delivery:
// Initial -> ReadyToPost -> Posted.
type DocumentStatus string

const (
	DocumentInitial     DocumentStatus = "Initial"
	DocumentReadyToPost DocumentStatus = "ReadyToPost"
	DocumentPosted      DocumentStatus = "Posted"
)

// AllowRequestStatus mirrors the operator's response to an approval request.
type AllowRequestStatus string

const (
	AllowRequestOpen    AllowRequestStatus = "Open"
	AllowRequestAllowed AllowRequestStatus = "Allowed"
	AllowRequestDenied  AllowRequestStatus = "Denied"
)
