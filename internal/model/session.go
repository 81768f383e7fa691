package model

import "time"

// Kind is the step a session is waiting on.
type Kind string

const (
	KindAwaitingCategory    Kind = "AWAITING_CATEGORY"
	KindAwaitingForm        Kind = "AWAITING_FORM"
	KindAwaitingAttachments Kind = "AWAITING_ATTACHMENTS"
)

type RequestType string

const (
	RequestInvoice  RequestType = "INVOICE"
	RequestCase     RequestType = "CASE"
	RequestTracking RequestType = "TRACKING"
)

// HasCategory reports whether the request starts with a category menu.
func (t RequestType) HasCategory() bool {
	return t == RequestCase
}

// Fields collected from the request form.
type Fields struct {
	OrderNumber string `json:"order_number,omitempty"`
	CaseNumber  string `json:"case_number,omitempty"`
	Contact     string `json:"contact,omitempty"`
	Description string `json:"description,omitempty"`
}

// Session tracks one user's progress through a request. RequestType is only
// meaningful once Kind has moved past KindAwaitingCategory, and ContainerID
// only in KindAwaitingAttachments.
type Session struct {
	ID          string      `json:"id"`
	UserID      string      `json:"user_id"`
	Submitter   string      `json:"submitter"`
	Kind        Kind        `json:"kind"`
	RequestType RequestType `json:"request_type"`
	Category    string      `json:"category,omitempty"`
	Fields      Fields      `json:"fields"`
	ContainerID string      `json:"container_id,omitempty"`
	ChannelID   string      `json:"channel_id"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}
