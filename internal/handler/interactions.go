package handler

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"intakebot/internal/discord"
	"intakebot/internal/intake"
	"intakebot/internal/model"
)

const (
	maxInteractionBody = 1 << 20

	// Interaction tokens stay valid for 15 minutes.
	followupTimeout = 14 * time.Minute
)

// Commands maps slash command names to the request they start. "cancelar"
// is handled separately.
var Commands = map[string]model.RequestType{
	"caso":        model.RequestCase,
	"factura":     model.RequestInvoice,
	"seguimiento": model.RequestTracking,
}

const CancelCommand = "cancelar"

// CommandDefinitions lists the slash commands to register with Discord.
func CommandDefinitions() []discord.ApplicationCommand {
	return []discord.ApplicationCommand{
		{Name: "caso", Description: "Abrir un caso de postventa"},
		{Name: "factura", Description: "Solicitar una factura"},
		{Name: "seguimiento", Description: "Consultar el estado de un caso"},
		{Name: CancelCommand, Description: "Cancelar la solicitud en curso"},
	}
}

// Intake runs one event through the request state machine.
type Intake interface {
	Handle(ctx context.Context, ev intake.Event) intake.Outcome
}

// Responder completes deferred interaction replies.
type Responder interface {
	EditOriginalResponse(ctx context.Context, token string, msg discord.Message) error
}

// InteractionsHandler serves Discord's interactions endpoint. Form
// submissions touch the ledgers and Drive, so they are acknowledged with a
// deferred reply and finished in the background, tracked by pending so
// shutdown can wait for them; everything else is answered inline.
func InteractionsHandler(key ed25519.PublicKey, in Intake, resp Responder, pending *sync.WaitGroup) http.HandlerFunc {
	if pending == nil {
		pending = &sync.WaitGroup{}
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxInteractionBody))
		if err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		sig := r.Header.Get("X-Signature-Ed25519")
		ts := r.Header.Get("X-Signature-Timestamp")
		if err := discord.VerifySignature(key, sig, ts, body, time.Now()); err != nil {
			slog.Warn("interaction signature rejected", "error", err)
			http.Error(w, "invalid request signature", http.StatusUnauthorized)
			return
		}

		var i discord.Interaction
		if err := json.Unmarshal(body, &i); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		if i.Type == discord.InteractionPing {
			writeJSON(w, http.StatusOK, discord.InteractionResponse{Type: discord.ResponsePong})
			return
		}

		ev, ok := toEvent(i)
		if !ok {
			slog.Warn("unsupported interaction", "type", i.Type, "name", i.Data.Name, "custom_id", i.Data.CustomID)
			writeJSON(w, http.StatusOK, discord.InteractionResponse{
				Type: discord.ResponseChannelMessage,
				Data: discord.Message{Content: "Acción no reconocida.", Flags: discord.FlagEphemeral},
			})
			return
		}

		if _, deferred := ev.(intake.FormSubmission); deferred {
			writeJSON(w, http.StatusOK, discord.InteractionResponse{
				Type: discord.ResponseDeferredChannelMessage,
				Data: discord.Message{Flags: discord.FlagEphemeral},
			})
			pending.Add(1)
			go func() {
				defer pending.Done()
				finishDeferred(context.WithoutCancel(r.Context()), in, resp, i.Token, ev)
			}()
			return
		}

		out := in.Handle(r.Context(), ev)
		writeJSON(w, http.StatusOK, renderResponse(out))
	}
}

func finishDeferred(ctx context.Context, in Intake, resp Responder, token string, ev intake.Event) {
	ctx, cancel := context.WithTimeout(ctx, followupTimeout)
	defer cancel()

	out := in.Handle(ctx, ev)
	if err := resp.EditOriginalResponse(ctx, token, renderMessage(out)); err != nil {
		slog.Error("failed to deliver interaction result", "error", err)
	}
}

// toEvent maps an interaction onto an intake event.
func toEvent(i discord.Interaction) (intake.Event, bool) {
	user, name := i.Author()
	actor := intake.Actor{UserID: user.ID, Name: name, ChannelID: i.ChannelID, GuildID: i.GuildID}

	switch i.Type {
	case discord.InteractionApplicationCommand:
		if i.Data.Name == CancelCommand {
			return intake.Cancel{Actor: actor}, true
		}
		t, ok := Commands[i.Data.Name]
		if !ok {
			return nil, false
		}
		return intake.Command{Actor: actor, RequestType: t}, true

	case discord.InteractionMessageComponent:
		switch i.Data.CustomID {
		case CategoryID:
			if len(i.Data.Values) == 0 {
				return nil, false
			}
			return intake.Selection{Actor: actor, Category: i.Data.Values[0]}, true
		case ReopenID:
			return intake.FormReopen{Actor: actor}, true
		case CancelID:
			return intake.Cancel{Actor: actor}, true
		}

	case discord.InteractionModalSubmit:
		t, ok := intake.FormByID(i.Data.CustomID)
		if !ok {
			return nil, false
		}
		return intake.FormSubmission{Actor: actor, Form: t, Values: i.Data.TextValues()}, true
	}
	return nil, false
}
