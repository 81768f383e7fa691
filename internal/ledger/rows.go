package ledger

import "time"

// Column headers, matched against the first row of each sheet on read.
const (
	ColOrderNumber = "Número de pedido"
	ColDate        = "Fecha"
	ColSubmitter   = "Solicitante"
	ColCategory    = "Categoría"
	ColCaseNumber  = "Número de caso"
	ColDetails     = "Datos"
	ColStatus      = "Estado"
	ColError       = "Error"
	ColNotified    = "Notificado"
	ColBilling     = "Datos de facturación"
	ColNotes       = "Notas"
	ColFolder      = "Carpeta"
)

const (
	StatusCasePending    = "PENDIENTE DE GESTIÓN"
	StatusInvoicePending = "PENDIENTE"
)

const dateLayout = "02/01/2006 15:04:05"

type CaseEntry struct {
	OrderNumber string
	Submitter   string
	Category    string
	CaseNumber  string
	Details     string
	At          time.Time
}

// CaseRow lays out a case entry in the case sheet's write order:
// pedido, fecha, solicitante, categoría, caso, datos, estado, error, notificado.
func CaseRow(e CaseEntry) []string {
	return []string{
		e.OrderNumber,
		e.At.Format(dateLayout),
		e.Submitter,
		e.Category,
		e.CaseNumber,
		e.Details,
		StatusCasePending,
		"",
		"",
	}
}

type InvoiceEntry struct {
	OrderNumber string
	Submitter   string
	Billing     string
	Notes       string
	FolderURL   string
	At          time.Time
}

// InvoiceRow lays out an invoice entry in the invoice sheet's write order:
// pedido, fecha, solicitante, datos de facturación, notas, carpeta, estado.
func InvoiceRow(e InvoiceEntry) []string {
	return []string{
		e.OrderNumber,
		e.At.Format(dateLayout),
		e.Submitter,
		e.Billing,
		e.Notes,
		e.FolderURL,
		StatusInvoicePending,
	}
}
