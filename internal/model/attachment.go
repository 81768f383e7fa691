package model

// Attachment is a file delivered through the chat platform, referenced by
// its download URL until it is copied into the document store.
type Attachment struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type,omitempty"`
	URL         string `json:"url"`
	Size        int64  `json:"size,omitempty"`
}
