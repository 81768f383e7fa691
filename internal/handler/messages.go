package handler

import (
	"context"
	"log/slog"

	"intakebot/internal/discord"
	"intakebot/internal/intake"
	"intakebot/internal/model"
)

// Notifier posts channel messages.
type Notifier interface {
	SendMessage(ctx context.Context, channelID string, msg discord.Message) (string, error)
}

// MessageHandler feeds gateway messages carrying files into the intake flow
// and answers in the same channel, replying to the original message.
func MessageHandler(in Intake, n Notifier) func(ctx context.Context, m discord.MessageCreate) {
	return func(ctx context.Context, m discord.MessageCreate) {
		if len(m.Attachments) == 0 {
			return
		}

		name := m.Author.DisplayName()
		if m.Member != nil && m.Member.Nick != "" {
			name = m.Member.Nick
		}
		attachments := make([]model.Attachment, 0, len(m.Attachments))
		for _, a := range m.Attachments {
			attachments = append(attachments, model.Attachment{
				ID:          a.ID,
				Filename:    a.Filename,
				ContentType: a.ContentType,
				URL:         a.URL,
				Size:        a.Size,
			})
		}

		out := in.Handle(ctx, intake.AttachmentMessage{
			Actor:       intake.Actor{UserID: m.Author.ID, Name: name, ChannelID: m.ChannelID, GuildID: m.GuildID},
			MessageID:   m.ID,
			Attachments: attachments,
		})
		if out.Silent() {
			return
		}

		_, err := n.SendMessage(ctx, m.ChannelID, discord.Message{
			Content:          out.Message,
			AllowedMentions:  &discord.AllowedMentions{Parse: []string{}},
			MessageReference: &discord.MessageReference{MessageID: m.ID},
		})
		if err != nil {
			slog.Error("failed to reply to attachment message", "user", m.Author.ID, "error", err)
		}
	}
}
