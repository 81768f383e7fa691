package discord

// Interaction types.
const (
	InteractionPing               = 1
	InteractionApplicationCommand = 2
	InteractionMessageComponent   = 3
	InteractionModalSubmit        = 5
)

// Interaction response types.
const (
	ResponsePong                   = 1
	ResponseChannelMessage         = 4
	ResponseDeferredChannelMessage = 5
	ResponseModal                  = 9
)

// Component types.
const (
	ComponentActionRow    = 1
	ComponentButton       = 2
	ComponentStringSelect = 3
	ComponentTextInput    = 4
)

const (
	ButtonPrimary = 1
	ButtonDanger  = 4

	TextInputShort     = 1
	TextInputParagraph = 2

	FlagEphemeral = 1 << 6
)

type User struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	GlobalName string `json:"global_name,omitempty"`
	Bot        bool   `json:"bot,omitempty"`
}

// DisplayName prefers the global display name over the account name.
func (u User) DisplayName() string {
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

type Member struct {
	User User   `json:"user"`
	Nick string `json:"nick,omitempty"`
}

type Interaction struct {
	ID            string          `json:"id"`
	ApplicationID string          `json:"application_id"`
	Type          int             `json:"type"`
	Token         string          `json:"token"`
	GuildID       string          `json:"guild_id,omitempty"`
	ChannelID     string          `json:"channel_id,omitempty"`
	Member        *Member         `json:"member,omitempty"`
	User          *User           `json:"user,omitempty"`
	Data          InteractionData `json:"data"`
}

// Author returns the invoking user whether the interaction came from a guild
// (member set) or a direct message (user set).
func (i Interaction) Author() (User, string) {
	if i.Member != nil {
		name := i.Member.Nick
		if name == "" {
			name = i.Member.User.DisplayName()
		}
		return i.Member.User, name
	}
	if i.User != nil {
		return *i.User, i.User.DisplayName()
	}
	return User{}, ""
}

type InteractionData struct {
	Name          string      `json:"name,omitempty"`
	CustomID      string      `json:"custom_id,omitempty"`
	ComponentType int         `json:"component_type,omitempty"`
	Values        []string    `json:"values,omitempty"`
	Components    []Component `json:"components,omitempty"`
}

// TextValues flattens a modal submission into custom_id -> value.
func (d InteractionData) TextValues() map[string]string {
	out := make(map[string]string)
	var walk func([]Component)
	walk = func(cs []Component) {
		for _, c := range cs {
			if c.Type == ComponentTextInput && c.CustomID != "" {
				out[c.CustomID] = c.Value
			}
			walk(c.Components)
		}
	}
	walk(d.Components)
	return out
}

type Component struct {
	Type        int            `json:"type"`
	CustomID    string         `json:"custom_id,omitempty"`
	Label       string         `json:"label,omitempty"`
	Style       int            `json:"style,omitempty"`
	Placeholder string         `json:"placeholder,omitempty"`
	Value       string         `json:"value,omitempty"`
	Required    *bool          `json:"required,omitempty"`
	MaxLength   int            `json:"max_length,omitempty"`
	Options     []SelectOption `json:"options,omitempty"`
	Components  []Component    `json:"components,omitempty"`
}

type SelectOption struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

type InteractionResponse struct {
	Type int `json:"type"`
	Data any `json:"data,omitempty"`
}

type Modal struct {
	CustomID   string      `json:"custom_id"`
	Title      string      `json:"title"`
	Components []Component `json:"components"`
}

type AllowedMentions struct {
	Parse []string `json:"parse"`
	Users []string `json:"users,omitempty"`
}

type MessageReference struct {
	MessageID string `json:"message_id"`
}

// Message is an outgoing channel message or interaction reply.
type Message struct {
	Content          string            `json:"content"`
	Flags            int               `json:"flags,omitempty"`
	Components       []Component       `json:"components,omitempty"`
	AllowedMentions  *AllowedMentions  `json:"allowed_mentions,omitempty"`
	MessageReference *MessageReference `json:"message_reference,omitempty"`
}

type Attachment struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type,omitempty"`
	Size        int64  `json:"size"`
	URL         string `json:"url"`
}

// MessageCreate is the gateway dispatch for a new channel message.
type MessageCreate struct {
	ID          string       `json:"id"`
	ChannelID   string       `json:"channel_id"`
	GuildID     string       `json:"guild_id,omitempty"`
	Author      User         `json:"author"`
	Member      *Member      `json:"member,omitempty"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments"`
}

// ApplicationCommand is a chat input (slash) command definition.
type ApplicationCommand struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}
