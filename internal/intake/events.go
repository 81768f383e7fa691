package intake

import "intakebot/internal/model"

// Actor identifies who sent an event and from where.
type Actor struct {
	UserID    string
	Name      string
	ChannelID string
	GuildID   string
}

func (a Actor) origin() Actor { return a }

// Event is one of Command, Selection, FormSubmission, FormReopen,
// AttachmentMessage or Cancel. The set is closed; Dispatch switches over it
// exhaustively.
type Event interface {
	origin() Actor
}

// Command starts a request of the given type.
type Command struct {
	Actor
	RequestType model.RequestType
}

// Selection picks a case category from the menu.
type Selection struct {
	Actor
	Category string
}

// FormSubmission carries the submitted form values keyed by field id.
type FormSubmission struct {
	Actor
	Form   model.RequestType
	Values map[string]string
}

// FormReopen asks for the current form again after a rejected submission.
type FormReopen struct {
	Actor
}

// AttachmentMessage is a plain channel message carrying files.
type AttachmentMessage struct {
	Actor
	MessageID   string
	Attachments []model.Attachment
}

// Cancel abandons the in-flight request.
type Cancel struct {
	Actor
}
