package handler

import (
	"intakebot/internal/discord"
	"intakebot/internal/intake"
)

// Component custom ids.
const (
	CategoryID = "case_category"
	CancelID   = "cancel"
	ReopenID   = "reopen"
)

const fallbackMessage = "Hecho."

// renderResponse turns an outcome into the immediate interaction reply.
func renderResponse(out intake.Outcome) discord.InteractionResponse {
	if out.Prompt == intake.PromptForm && out.Form != nil {
		return discord.InteractionResponse{Type: discord.ResponseModal, Data: renderModal(*out.Form)}
	}
	return discord.InteractionResponse{Type: discord.ResponseChannelMessage, Data: renderMessage(out)}
}

// renderMessage shows the outcome text privately to the submitter, with the
// category menu or a reopen button when the outcome asks for one.
func renderMessage(out intake.Outcome) discord.Message {
	msg := discord.Message{
		Content:         out.Message,
		Flags:           discord.FlagEphemeral,
		AllowedMentions: &discord.AllowedMentions{Parse: []string{}},
	}
	if msg.Content == "" {
		msg.Content = fallbackMessage
	}

	switch {
	case out.Prompt == intake.PromptCategories:
		msg.Components = discord.SelectMenu(CategoryID, "Categoría", out.Categories, CancelID)
	case out.Retry:
		msg.Components = []discord.Component{discord.ButtonRow(
			discord.Button(ReopenID, "Volver al formulario", discord.ButtonPrimary),
			discord.Button(CancelID, "Cancelar", discord.ButtonDanger),
		)}
	}
	return msg
}

func renderModal(f intake.Form) discord.Modal {
	fields := make([]discord.Field, 0, len(f.Fields))
	for _, ff := range f.Fields {
		fields = append(fields, discord.Field{
			ID:        ff.ID,
			Label:     ff.Label,
			Paragraph: ff.Paragraph,
			Required:  ff.Required,
			MaxLength: ff.MaxLength,
		})
	}
	return discord.BuildModal(f.ID, f.Title, fields)
}
