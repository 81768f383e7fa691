package discord

// Field describes one text input of a modal.
type Field struct {
	ID        string
	Label     string
	Paragraph bool
	Required  bool
	MaxLength int
}

// SelectMenu builds a message row holding a single string select plus a
// cancel button row.
func SelectMenu(customID, placeholder string, values []string, cancelID string) []Component {
	options := make([]SelectOption, 0, len(values))
	for _, v := range values {
		options = append(options, SelectOption{Label: v, Value: v})
	}
	rows := []Component{{
		Type: ComponentActionRow,
		Components: []Component{{
			Type:        ComponentStringSelect,
			CustomID:    customID,
			Placeholder: placeholder,
			Options:     options,
		}},
	}}
	if cancelID != "" {
		rows = append(rows, CancelButton(cancelID))
	}
	return rows
}

func CancelButton(customID string) Component {
	return ButtonRow(Button(customID, "Cancelar", ButtonDanger))
}

func Button(customID, label string, style int) Component {
	return Component{Type: ComponentButton, CustomID: customID, Label: label, Style: style}
}

// ButtonRow wraps up to five buttons in an action row.
func ButtonRow(buttons ...Component) Component {
	return Component{Type: ComponentActionRow, Components: buttons}
}

// BuildModal lays out one text input per action row.
func BuildModal(customID, title string, fields []Field) Modal {
	rows := make([]Component, 0, len(fields))
	for _, f := range fields {
		style := TextInputShort
		if f.Paragraph {
			style = TextInputParagraph
		}
		required := f.Required
		rows = append(rows, Component{
			Type: ComponentActionRow,
			Components: []Component{{
				Type:      ComponentTextInput,
				CustomID:  f.ID,
				Label:     f.Label,
				Style:     style,
				Required:  &required,
				MaxLength: f.MaxLength,
			}},
		})
	}
	return Modal{CustomID: customID, Title: title, Components: rows}
}
