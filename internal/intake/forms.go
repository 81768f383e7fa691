package intake

import (
	"fmt"
	"strings"

	"intakebot/internal/model"
)

// Form field ids.
const (
	FieldOrder   = "pedido"
	FieldCase    = "caso"
	FieldDetails = "datos"
	FieldBilling = "facturacion"
	FieldNotes   = "notas"
)

type FormField struct {
	ID        string
	Label     string
	Required  bool
	Paragraph bool
	MaxLength int
}

type Form struct {
	ID     string
	Title  string
	Fields []FormField
}

var forms = map[model.RequestType]Form{
	model.RequestCase: {
		ID:    "case_form",
		Title: "Apertura de caso",
		Fields: []FormField{
			{ID: FieldOrder, Label: "Número de pedido", Required: true, MaxLength: 40},
			{ID: FieldCase, Label: "Número de caso", Required: true, MaxLength: 40},
			{ID: FieldDetails, Label: "Datos de contacto / dirección", Required: true, Paragraph: true, MaxLength: 1000},
		},
	},
	model.RequestInvoice: {
		ID:    "invoice_form",
		Title: "Solicitud de factura",
		Fields: []FormField{
			{ID: FieldOrder, Label: "Número de pedido", Required: true, MaxLength: 40},
			{ID: FieldBilling, Label: "Datos de facturación", Required: true, Paragraph: true, MaxLength: 1000},
			{ID: FieldNotes, Label: "Notas", Paragraph: true, MaxLength: 1000},
		},
	},
	model.RequestTracking: {
		ID:    "tracking_form",
		Title: "Seguimiento de pedido",
		Fields: []FormField{
			{ID: FieldOrder, Label: "Número de pedido", Required: true, MaxLength: 40},
		},
	},
}

// FormFor returns the form presented for a request type.
func FormFor(t model.RequestType) (Form, bool) {
	f, ok := forms[t]
	return f, ok
}

// FormByID maps a submitted form id back to its request type.
func FormByID(id string) (model.RequestType, bool) {
	for t, f := range forms {
		if f.ID == id {
			return t, true
		}
	}
	return "", false
}

// collect trims the submitted values and reports the labels of missing
// required fields.
func (f Form) collect(values map[string]string) (model.Fields, []string) {
	trimmed := make(map[string]string, len(f.Fields))
	var missing []string
	for _, field := range f.Fields {
		v := strings.TrimSpace(values[field.ID])
		if field.Required && v == "" {
			missing = append(missing, field.Label)
		}
		trimmed[field.ID] = v
	}

	fields := model.Fields{
		OrderNumber: trimmed[FieldOrder],
		CaseNumber:  trimmed[FieldCase],
	}
	switch f.ID {
	case forms[model.RequestInvoice].ID:
		fields.Contact = trimmed[FieldBilling]
		fields.Description = trimmed[FieldNotes]
	default:
		fields.Contact = trimmed[FieldDetails]
	}
	return fields, missing
}

func folderName(orderNumber string) string {
	return fmt.Sprintf("Pedido %s", orderNumber)
}
