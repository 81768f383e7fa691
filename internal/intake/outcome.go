package intake

import (
	"errors"
	"strings"
)

type Prompt int

const (
	PromptNone Prompt = iota
	PromptCategories
	PromptForm
)

// Outcome is what the user sees after an event. An empty Message with
// PromptNone means nothing should be sent back.
type Outcome struct {
	Message    string
	Prompt     Prompt
	Categories []string
	Form       *Form
	// Retry offers to reopen the form after a rejected submission.
	Retry bool
	// Done is set when the request finished or was cancelled.
	Done bool
}

// Silent reports whether there is nothing to show the user.
func (o Outcome) Silent() bool {
	return o.Message == "" && o.Prompt == PromptNone
}

func isUserError(err error) bool {
	for _, target := range []error{ErrWrongGuild, ErrWrongChannel, ErrNoActiveProcess, ErrMissingField, ErrDuplicateOrder, ErrUnknownCategory, ErrInProgress} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func messageFor(err error) string {
	switch {
	case errors.Is(err, ErrWrongGuild):
		return "Este bot solo atiende solicitudes del servidor configurado."
	case errors.Is(err, ErrWrongChannel):
		return "Este comando no se puede usar en este canal."
	case errors.Is(err, ErrNoActiveProcess):
		return "No hay ningún proceso activo. Vuelve a empezar con el comando correspondiente."
	case errors.Is(err, ErrMissingField):
		return "Faltan campos obligatorios."
	case errors.Is(err, ErrDuplicateOrder):
		return "Ese número de pedido ya está registrado."
	case errors.Is(err, ErrUnknownCategory):
		return "Categoría no válida. Elige una de la lista."
	case errors.Is(err, ErrInProgress):
		return "Tu formulario ya se está procesando. Espera la respuesta."
	case errors.Is(err, ErrUploadFailed):
		return "No se pudieron guardar los adjuntos. Vuelve a enviarlos."
	default:
		return "No se pudo completar la operación. Inténtalo de nuevo en unos minutos o contacta con un administrador."
	}
}

func joinLabels(labels []string) string {
	return strings.Join(labels, ", ")
}
