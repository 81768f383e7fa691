// Package intake drives a submitter through a multi-step request: command,
// category selection, form submission and attachment delivery. Events arrive
// independently and possibly twice or out of order, so every transition
// re-reads the stored session and checks it still expects that event.
package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"intakebot/internal/ledger"
	"intakebot/internal/model"
	"intakebot/internal/session"
)

var (
	ErrWrongGuild      = errors.New("event from another server")
	ErrWrongChannel    = errors.New("command used in the wrong channel")
	ErrNoActiveProcess = errors.New("no active process")
	ErrMissingField    = errors.New("missing required field")
	ErrDuplicateOrder  = errors.New("order number already registered")
	ErrUnknownCategory = errors.New("unknown category")
	ErrUploadFailed    = errors.New("attachment upload failed")
	ErrInProgress      = errors.New("submission already in progress")
)

type Ledger interface {
	IsDuplicate(ctx context.Context, header, value string) (bool, error)
	FindRow(ctx context.Context, header, value string) (ledger.Record, bool, error)
	AppendRow(ctx context.Context, row []string) error
}

type FolderResolver interface {
	Resolve(ctx context.Context, parentID, name string) (string, error)
}

type Uploader interface {
	Upload(ctx context.Context, folderID, name, mimeType string, data []byte) (string, error)
}

type Downloader interface {
	Download(ctx context.Context, url string) ([]byte, error)
}

type Pending interface {
	Add(ctx context.Context, key string, attachments []model.Attachment)
	Drain(ctx context.Context, key string) []model.Attachment
}

type Config struct {
	GuildID           string
	CaseChannelID     string
	InvoiceChannelID  string
	TrackingChannelID string
	UploadChannelID   string
	ParentFolderID    string
	Categories        []string
}

type Deps struct {
	Sessions      session.Store
	Pending       Pending
	CaseLedger    Ledger
	InvoiceLedger Ledger
	Folders       FolderResolver
	Files         Uploader
	Downloader    Downloader
}

type Orchestrator struct {
	cfg  Config
	deps Deps
	now  func() time.Time
	id   func() string

	mu       sync.Mutex
	inFlight map[string]struct{}
}

func New(cfg Config, deps Deps) *Orchestrator {
	return &Orchestrator{
		cfg:  cfg,
		deps: deps,
		now:      time.Now,
		id:       uuid.NewString,
		inFlight: make(map[string]struct{}),
	}
}

// Handle runs one event and always returns something presentable: errors are
// logged here and turned into a user-facing message.
func (o *Orchestrator) Handle(ctx context.Context, ev Event) Outcome {
	out, err := o.Dispatch(ctx, ev)
	if err == nil {
		return out
	}

	a := ev.origin()
	if isUserError(err) {
		slog.Info("intake event rejected", "user", a.UserID, "event", fmt.Sprintf("%T", ev), "reason", err)
	} else {
		slog.Error("intake event failed", "user", a.UserID, "event", fmt.Sprintf("%T", ev), "error", err)
	}
	if out.Message == "" {
		out.Message = messageFor(err)
	}
	return out
}

// Dispatch applies ev to the submitter's session.
func (o *Orchestrator) Dispatch(ctx context.Context, ev Event) (Outcome, error) {
	if a := ev.origin(); o.cfg.GuildID != "" && a.GuildID != o.cfg.GuildID {
		return Outcome{}, ErrWrongGuild
	}

	switch ev := ev.(type) {
	case Command:
		return o.command(ctx, ev)
	case Selection:
		return o.selection(ctx, ev)
	case FormSubmission:
		return o.submission(ctx, ev)
	case FormReopen:
		return o.reopen(ctx, ev)
	case AttachmentMessage:
		return o.attachments(ctx, ev)
	case Cancel:
		return o.cancel(ctx, ev)
	default:
		return Outcome{}, fmt.Errorf("unsupported event %T", ev)
	}
}

func (o *Orchestrator) channelFor(t model.RequestType) string {
	switch t {
	case model.RequestCase:
		return o.cfg.CaseChannelID
	case model.RequestInvoice:
		return o.cfg.InvoiceChannelID
	case model.RequestTracking:
		return o.cfg.TrackingChannelID
	}
	return ""
}

func (o *Orchestrator) command(ctx context.Context, ev Command) (Outcome, error) {
	form, ok := FormFor(ev.RequestType)
	if !ok {
		return Outcome{}, fmt.Errorf("unknown request type %q", ev.RequestType)
	}
	if want := o.channelFor(ev.RequestType); ev.ChannelID != want {
		return Outcome{Message: fmt.Sprintf("Este comando solo se puede usar en <#%s>.", want)}, ErrWrongChannel
	}

	now := o.now()
	sess := model.Session{
		ID:        o.id(),
		UserID:    ev.UserID,
		Submitter: ev.Name,
		ChannelID: ev.ChannelID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	var out Outcome
	if ev.RequestType.HasCategory() {
		sess.Kind = model.KindAwaitingCategory
		out = Outcome{
			Message:    "Selecciona la categoría del caso.",
			Prompt:     PromptCategories,
			Categories: o.cfg.Categories,
		}
	} else {
		sess.Kind = model.KindAwaitingForm
		sess.RequestType = ev.RequestType
		out = Outcome{Prompt: PromptForm, Form: &form}
	}

	if err := o.deps.Sessions.Set(ctx, ev.UserID, sess); err != nil {
		return Outcome{}, fmt.Errorf("start session: %w", err)
	}
	slog.Info("intake session started", "user", ev.UserID, "session", sess.ID, "kind", sess.Kind, "type", ev.RequestType)
	return out, nil
}

func (o *Orchestrator) selection(ctx context.Context, ev Selection) (Outcome, error) {
	sess, err := o.expect(ctx, ev.UserID, model.KindAwaitingCategory)
	if err != nil {
		return Outcome{}, err
	}
	if !slices.Contains(o.cfg.Categories, ev.Category) {
		return Outcome{}, fmt.Errorf("%w: %q", ErrUnknownCategory, ev.Category)
	}

	sess.Kind = model.KindAwaitingForm
	sess.RequestType = model.RequestCase
	sess.Category = ev.Category
	sess.UpdatedAt = o.now()
	if err := o.deps.Sessions.Set(ctx, ev.UserID, sess); err != nil {
		return Outcome{}, fmt.Errorf("store category: %w", err)
	}

	form, _ := FormFor(model.RequestCase)
	return Outcome{Prompt: PromptForm, Form: &form}, nil
}

func (o *Orchestrator) reopen(ctx context.Context, ev FormReopen) (Outcome, error) {
	sess, err := o.expect(ctx, ev.UserID, model.KindAwaitingForm)
	if err != nil {
		return Outcome{}, err
	}
	form, _ := FormFor(sess.RequestType)
	return Outcome{Prompt: PromptForm, Form: &form}, nil
}

func (o *Orchestrator) submission(ctx context.Context, ev FormSubmission) (Outcome, error) {
	sess, err := o.expect(ctx, ev.UserID, model.KindAwaitingForm)
	if err != nil {
		return Outcome{}, err
	}
	if sess.RequestType != ev.Form {
		return Outcome{}, fmt.Errorf("%w: form %s does not match %s request", ErrNoActiveProcess, ev.Form, sess.RequestType)
	}

	// A redelivered submission must not pass the duplicate check while the
	// first copy is still on its way to the ledger.
	release, ok := o.claim(sess.ID)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: session %s", ErrInProgress, sess.ID)
	}
	defer release()
	if sess, err = o.still(ctx, sess); err != nil {
		return Outcome{}, err
	}

	form, _ := FormFor(sess.RequestType)
	fields, missing := form.collect(ev.Values)
	if len(missing) > 0 {
		return Outcome{
			Message: fmt.Sprintf("Faltan campos obligatorios: %s.", joinLabels(missing)),
			Retry:   true,
		}, fmt.Errorf("%w: %v", ErrMissingField, missing)
	}

	switch sess.RequestType {
	case model.RequestCase:
		return o.submitCase(ctx, sess, fields)
	case model.RequestInvoice:
		return o.submitInvoice(ctx, sess, fields)
	case model.RequestTracking:
		return o.lookup(ctx, sess, fields)
	default:
		return Outcome{}, fmt.Errorf("%w: session without request type", ErrNoActiveProcess)
	}
}

func (o *Orchestrator) submitCase(ctx context.Context, sess model.Session, fields model.Fields) (Outcome, error) {
	if out, err := o.rejectDuplicate(ctx, o.deps.CaseLedger, fields.OrderNumber); err != nil {
		return out, err
	}
	if _, err := o.still(ctx, sess); err != nil {
		return Outcome{}, err
	}

	row := ledger.CaseRow(ledger.CaseEntry{
		OrderNumber: fields.OrderNumber,
		Submitter:   sess.Submitter,
		Category:    sess.Category,
		CaseNumber:  fields.CaseNumber,
		Details:     fields.Contact,
		At:          o.now(),
	})
	if err := o.deps.CaseLedger.AppendRow(ctx, row); err != nil {
		return Outcome{}, fmt.Errorf("record case: %w", err)
	}
	slog.Info("case recorded", "user", sess.UserID, "order", fields.OrderNumber, "category", sess.Category)

	o.finish(ctx, sess)
	return Outcome{
		Message: fmt.Sprintf("Caso registrado: pedido %s, caso %s (%s). Estado: %s.",
			fields.OrderNumber, fields.CaseNumber, sess.Category, ledger.StatusCasePending),
		Done: true,
	}, nil
}

func (o *Orchestrator) submitInvoice(ctx context.Context, sess model.Session, fields model.Fields) (Outcome, error) {
	if out, err := o.rejectDuplicate(ctx, o.deps.InvoiceLedger, fields.OrderNumber); err != nil {
		return out, err
	}

	folderID, err := o.deps.Folders.Resolve(ctx, o.cfg.ParentFolderID, folderName(fields.OrderNumber))
	if err != nil {
		return Outcome{}, fmt.Errorf("resolve invoice folder: %w", err)
	}
	if _, err := o.still(ctx, sess); err != nil {
		return Outcome{}, err
	}

	row := ledger.InvoiceRow(ledger.InvoiceEntry{
		OrderNumber: fields.OrderNumber,
		Submitter:   sess.Submitter,
		Billing:     fields.Contact,
		Notes:       fields.Description,
		FolderURL:   folderURL(folderID),
		At:          o.now(),
	})
	if err := o.deps.InvoiceLedger.AppendRow(ctx, row); err != nil {
		return Outcome{}, fmt.Errorf("record invoice request: %w", err)
	}
	slog.Info("invoice request recorded", "user", sess.UserID, "order", fields.OrderNumber, "folder", folderID)

	// The row is written; from here on a failure must not send the user back
	// to the form, only ask for the attachments again.
	current, err := o.still(ctx, sess)
	if err != nil {
		return Outcome{
			Message: fmt.Sprintf("La solicitud de factura del pedido %s quedó registrada, pero se inició otro proceso. "+
				"Si faltan adjuntos, súbelos a la carpeta del pedido.", fields.OrderNumber),
		}, err
	}
	current.Kind = model.KindAwaitingAttachments
	current.Fields = fields
	current.ContainerID = folderID
	current.UpdatedAt = o.now()
	if err := o.deps.Sessions.Set(ctx, sess.UserID, current); err != nil {
		return Outcome{
			Message: fmt.Sprintf("La solicitud de factura del pedido %s quedó registrada, pero no se pudo preparar la subida de adjuntos. "+
				"Contacta con un administrador para enviarlos.", fields.OrderNumber),
		}, fmt.Errorf("await attachments: %w", err)
	}

	early := o.deps.Pending.Drain(ctx, sess.UserID)
	if len(early) == 0 {
		return Outcome{
			Message: fmt.Sprintf("Solicitud de factura registrada para el pedido %s. Envía ahora los adjuntos en <#%s>.",
				fields.OrderNumber, o.cfg.UploadChannelID),
		}, nil
	}

	return o.store(ctx, current, early)
}

func (o *Orchestrator) lookup(ctx context.Context, sess model.Session, fields model.Fields) (Outcome, error) {
	rec, found, err := o.deps.CaseLedger.FindRow(ctx, ledger.ColOrderNumber, fields.OrderNumber)
	if err != nil {
		return Outcome{}, fmt.Errorf("lookup order: %w", err)
	}
	o.finish(ctx, sess)

	if !found {
		return Outcome{Message: fmt.Sprintf("No hay ningún caso registrado para el pedido %s.", fields.OrderNumber), Done: true}, nil
	}
	status := rec.Get(ledger.ColStatus)
	if status == "" {
		status = "sin estado"
	}
	msg := fmt.Sprintf("Pedido %s: %s.", fields.OrderNumber, status)
	if c := rec.Get(ledger.ColCaseNumber); c != "" {
		msg = fmt.Sprintf("Pedido %s (caso %s): %s.", fields.OrderNumber, c, status)
	}
	return Outcome{Message: msg, Done: true}, nil
}

func (o *Orchestrator) attachments(ctx context.Context, ev AttachmentMessage) (Outcome, error) {
	if ev.ChannelID != o.cfg.UploadChannelID || len(ev.Attachments) == 0 {
		return Outcome{}, nil
	}

	sess, ok, err := o.deps.Sessions.Get(ctx, ev.UserID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load session: %w", err)
	}
	if !ok || sess.Kind != model.KindAwaitingAttachments {
		// The form may still be on its way; keep the files for it.
		o.deps.Pending.Add(ctx, ev.UserID, ev.Attachments)
		slog.Info("attachments held until form arrives", "user", ev.UserID, "count", len(ev.Attachments))
		return Outcome{}, nil
	}

	return o.store(ctx, sess, ev.Attachments)
}

// store copies attachments into the session's folder. The session is only
// closed when every file made it; otherwise it stays open so the user can
// resend, accepting duplicate uploads over lost ones.
func (o *Orchestrator) store(ctx context.Context, sess model.Session, attachments []model.Attachment) (Outcome, error) {
	uploaded, err := o.upload(ctx, sess.ContainerID, attachments)
	if err != nil {
		return Outcome{
			Message: fmt.Sprintf("Se guardaron %d de %d adjuntos del pedido %s. La solicitud ya está registrada: "+
				"reenvía solo los adjuntos que faltan en <#%s>.",
				uploaded, len(attachments), sess.Fields.OrderNumber, o.cfg.UploadChannelID),
		}, err
	}

	o.finish(ctx, sess)
	return Outcome{
		Message: fmt.Sprintf("Se guardaron %d adjuntos en la carpeta del pedido %s. Solicitud completada.",
			uploaded, sess.Fields.OrderNumber),
		Done: true,
	}, nil
}

func (o *Orchestrator) upload(ctx context.Context, folderID string, attachments []model.Attachment) (int, error) {
	var errs []error
	uploaded := 0
	for _, a := range attachments {
		data, err := o.deps.Downloader.Download(ctx, a.URL)
		if err != nil {
			errs = append(errs, fmt.Errorf("download %s: %w", a.Filename, err))
			continue
		}
		if _, err := o.deps.Files.Upload(ctx, folderID, a.Filename, a.ContentType, data); err != nil {
			errs = append(errs, fmt.Errorf("upload %s: %w", a.Filename, err))
			continue
		}
		uploaded++
	}
	if len(errs) > 0 {
		return uploaded, fmt.Errorf("%w: %w", ErrUploadFailed, errors.Join(errs...))
	}
	slog.Info("attachments uploaded", "folder", folderID, "count", uploaded)
	return uploaded, nil
}

func (o *Orchestrator) cancel(ctx context.Context, ev Cancel) (Outcome, error) {
	_, ok, err := o.deps.Sessions.Get(ctx, ev.UserID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load session: %w", err)
	}
	if !ok {
		return Outcome{Message: "No hay ningún proceso activo que cancelar."}, nil
	}
	if err := o.deps.Sessions.Delete(ctx, ev.UserID); err != nil {
		return Outcome{}, fmt.Errorf("cancel session: %w", err)
	}
	slog.Info("intake session cancelled", "user", ev.UserID)
	return Outcome{Message: "Proceso cancelado.", Done: true}, nil
}

// expect loads the user's session and checks it is waiting for kind. A
// mismatch leaves the stored session untouched.
func (o *Orchestrator) expect(ctx context.Context, userID string, kind model.Kind) (model.Session, error) {
	sess, ok, err := o.deps.Sessions.Get(ctx, userID)
	if err != nil {
		return model.Session{}, fmt.Errorf("load session: %w", err)
	}
	if !ok {
		return model.Session{}, fmt.Errorf("%w: no session", ErrNoActiveProcess)
	}
	if sess.Kind != kind {
		return model.Session{}, fmt.Errorf("%w: session is %s, event needs %s", ErrNoActiveProcess, sess.Kind, kind)
	}
	return sess, nil
}

// still re-reads the session after an I/O call and checks no other event
// replaced or advanced it meanwhile.
func (o *Orchestrator) still(ctx context.Context, sess model.Session) (model.Session, error) {
	current, err := o.expect(ctx, sess.UserID, sess.Kind)
	if err != nil {
		return model.Session{}, err
	}
	if current.ID != sess.ID {
		return model.Session{}, fmt.Errorf("%w: session replaced", ErrNoActiveProcess)
	}
	return current, nil
}

// claim marks a session as being submitted. It fails when another event
// already holds the claim; the returned release must always be called.
func (o *Orchestrator) claim(sessionID string) (func(), bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, busy := o.inFlight[sessionID]; busy {
		return nil, false
	}
	o.inFlight[sessionID] = struct{}{}
	return func() {
		o.mu.Lock()
		delete(o.inFlight, sessionID)
		o.mu.Unlock()
	}, true
}

// finish deletes the session unless another event already replaced it.
func (o *Orchestrator) finish(ctx context.Context, sess model.Session) {
	current, ok, err := o.deps.Sessions.Get(ctx, sess.UserID)
	if err != nil {
		slog.Error("failed to load session for completion", "user", sess.UserID, "error", err)
		return
	}
	if !ok || current.ID != sess.ID {
		return
	}
	if err := o.deps.Sessions.Delete(ctx, sess.UserID); err != nil {
		slog.Error("failed to delete completed session", "user", sess.UserID, "error", err)
		return
	}
	slog.Info("intake session completed", "user", sess.UserID, "session", sess.ID)
}

func (o *Orchestrator) rejectDuplicate(ctx context.Context, l Ledger, orderNumber string) (Outcome, error) {
	dup, err := l.IsDuplicate(ctx, ledger.ColOrderNumber, orderNumber)
	if err != nil {
		return Outcome{}, fmt.Errorf("duplicate check: %w", err)
	}
	if dup {
		return Outcome{
			Message: fmt.Sprintf("El pedido %s ya está registrado. Revisa el número y vuelve a enviar el formulario.", orderNumber),
			Retry:   true,
		}, fmt.Errorf("%w: %s", ErrDuplicateOrder, orderNumber)
	}
	return Outcome{}, nil
}

func folderURL(id string) string {
	return "https://drive.google.com/drive/folders/" + id
}
