package intake

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"intakebot/internal/ledger"
	"intakebot/internal/model"
	"intakebot/internal/session"
)

const (
	guild      = "g1"
	chCase     = "c-case"
	chInvoice  = "c-invoice"
	chTracking = "c-tracking"
	chUpload   = "c-upload"
)

type memSheets struct {
	rows      [][]string
	appendErr error
}

func (m *memSheets) Values(context.Context, string, string) ([][]string, error) {
	return m.rows, nil
}

func (m *memSheets) Append(_ context.Context, _, _ string, row []string) error {
	if m.appendErr != nil {
		return m.appendErr
	}
	m.rows = append(m.rows, row)
	return nil
}

func (m *memSheets) Update(context.Context, string, string, []string) error { return nil }

type fakeFolders struct {
	ids    map[string]string
	calls  int
	before func()
}

func (f *fakeFolders) Resolve(_ context.Context, parentID, name string) (string, error) {
	f.calls++
	if f.before != nil {
		f.before()
	}
	if f.ids == nil {
		f.ids = map[string]string{}
	}
	key := parentID + "/" + name
	if id, ok := f.ids[key]; ok {
		return id, nil
	}
	id := fmt.Sprintf("folder-%d", len(f.ids)+1)
	f.ids[key] = id
	return id, nil
}

type upload struct {
	folder, name, mime string
}

type fakeFiles struct {
	uploads []upload
}

func (f *fakeFiles) Upload(_ context.Context, folderID, name, mimeType string, _ []byte) (string, error) {
	f.uploads = append(f.uploads, upload{folderID, name, mimeType})
	return fmt.Sprintf("file-%d", len(f.uploads)), nil
}

type fakeDownloader struct {
	fail map[string]bool
}

func (d *fakeDownloader) Download(_ context.Context, url string) ([]byte, error) {
	if d.fail[url] {
		return nil, errors.New("cdn unavailable")
	}
	return []byte("data:" + url), nil
}

type harness struct {
	o        *Orchestrator
	sessions *session.MemoryStore
	pending  *session.PendingAttachments
	cases    *memSheets
	invoices *memSheets
	folders  *fakeFolders
	files    *fakeFiles
	dl       *fakeDownloader
}

func newHarness() *harness {
	h := &harness{
		sessions: session.NewMemoryStore(),
		pending:  session.NewPendingAttachments(time.Hour),
		cases: &memSheets{rows: [][]string{{
			"Número de pedido", "Fecha", "Solicitante", "Categoría", "Número de caso", "Datos", "Estado", "Error", "Notificado",
		}}},
		invoices: &memSheets{rows: [][]string{{
			"Número de pedido", "Fecha", "Solicitante", "Datos de facturación", "Notas", "Carpeta", "Estado",
		}}},
		folders: &fakeFolders{},
		files:   &fakeFiles{},
		dl:      &fakeDownloader{fail: map[string]bool{}},
	}
	h.o = New(Config{
		GuildID:           guild,
		CaseChannelID:     chCase,
		InvoiceChannelID:  chInvoice,
		TrackingChannelID: chTracking,
		UploadChannelID:   chUpload,
		ParentFolderID:    "parent",
		Categories:        []string{"CAMBIO DEFECTUOSO", "DEVOLUCIÓN"},
	}, Deps{
		Sessions:      h.sessions,
		Pending:       h.pending,
		CaseLedger:    ledger.New(h.cases, "s-case", "Casos"),
		InvoiceLedger: ledger.New(h.invoices, "s-invoice", "Facturas"),
		Folders:       h.folders,
		Files:         h.files,
		Downloader:    h.dl,
	})
	h.o.now = func() time.Time { return time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC) }
	return h
}

func actor(channel string) Actor {
	return Actor{UserID: "u1", Name: "Ana", ChannelID: channel, GuildID: guild}
}

func (h *harness) dispatch(t *testing.T, ev Event) Outcome {
	t.Helper()
	out, err := h.o.Dispatch(context.Background(), ev)
	if err != nil {
		t.Fatalf("dispatch %T: %v", ev, err)
	}
	return out
}

func (h *harness) session(t *testing.T) (model.Session, bool) {
	t.Helper()
	sess, ok, err := h.sessions.Get(context.Background(), "u1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	return sess, ok
}

func caseForm(order string) FormSubmission {
	return FormSubmission{Actor: actor(chCase), Form: model.RequestCase, Values: map[string]string{
		FieldOrder: order, FieldCase: "55", FieldDetails: "Av. Siempre Viva 742",
	}}
}

func invoiceForm(order string) FormSubmission {
	return FormSubmission{Actor: actor(chInvoice), Form: model.RequestInvoice, Values: map[string]string{
		FieldOrder: order, FieldBilling: "ACME SL, B12345678",
	}}
}

func TestCaseRequestEndToEnd(t *testing.T) {
	h := newHarness()

	out := h.dispatch(t, Command{Actor: actor(chCase), RequestType: model.RequestCase})
	if out.Prompt != PromptCategories || len(out.Categories) != 2 {
		t.Fatalf("expected category menu, got %+v", out)
	}
	sess, _ := h.session(t)
	if sess.Kind != model.KindAwaitingCategory || sess.RequestType != "" {
		t.Fatalf("unexpected session after command %+v", sess)
	}

	out = h.dispatch(t, Selection{Actor: actor(chCase), Category: "CAMBIO DEFECTUOSO"})
	if out.Prompt != PromptForm || out.Form == nil || out.Form.ID != "case_form" {
		t.Fatalf("expected case form, got %+v", out)
	}

	out = h.dispatch(t, caseForm("100"))
	if !out.Done {
		t.Fatalf("expected completion, got %+v", out)
	}
	if len(h.cases.rows) != 2 {
		t.Fatalf("expected one appended row, got %d rows", len(h.cases.rows))
	}
	row := h.cases.rows[1]
	if row[0] != "100" || row[2] != "Ana" || row[3] != "CAMBIO DEFECTUOSO" || row[4] != "55" || row[5] != "Av. Siempre Viva 742" {
		t.Fatalf("unexpected row %v", row)
	}
	if row[6] != "PENDIENTE DE GESTIÓN" {
		t.Fatalf("expected pending status, got %q", row[6])
	}
	if _, ok := h.session(t); ok {
		t.Fatal("expected session to be deleted")
	}

	// Same order number in a later session is rejected.
	h.dispatch(t, Command{Actor: actor(chCase), RequestType: model.RequestCase})
	h.dispatch(t, Selection{Actor: actor(chCase), Category: "DEVOLUCIÓN"})
	out, err := h.o.Dispatch(context.Background(), caseForm(" 100 "))
	if !errors.Is(err, ErrDuplicateOrder) {
		t.Fatalf("expected ErrDuplicateOrder, got %v", err)
	}
	if !out.Retry {
		t.Fatal("expected retry offer on duplicate")
	}
	if len(h.cases.rows) != 2 {
		t.Fatalf("expected no second row, got %d rows", len(h.cases.rows))
	}
	sess, ok := h.session(t)
	if !ok || sess.Kind != model.KindAwaitingForm {
		t.Fatalf("expected session to stay in form step, got %+v ok=%v", sess, ok)
	}

	out = h.dispatch(t, FormReopen{Actor: actor(chCase)})
	if out.Prompt != PromptForm || out.Form.ID != "case_form" {
		t.Fatalf("expected form to reopen, got %+v", out)
	}
	h.dispatch(t, caseForm("101"))
	if len(h.cases.rows) != 3 {
		t.Fatalf("expected corrected submission to append, got %d rows", len(h.cases.rows))
	}
}

func TestInvoiceRequestWithAttachments(t *testing.T) {
	h := newHarness()

	out := h.dispatch(t, Command{Actor: actor(chInvoice), RequestType: model.RequestInvoice})
	if out.Prompt != PromptForm || out.Form.ID != "invoice_form" {
		t.Fatalf("expected invoice form straight away, got %+v", out)
	}

	out = h.dispatch(t, invoiceForm("100"))
	if out.Done {
		t.Fatal("invoice request should wait for attachments")
	}
	if !strings.Contains(out.Message, "<#"+chUpload+">") {
		t.Fatalf("expected upload channel hint, got %q", out.Message)
	}
	sess, _ := h.session(t)
	folder := h.folders.ids["parent/Pedido 100"]
	if sess.Kind != model.KindAwaitingAttachments || sess.ContainerID != folder || folder == "" {
		t.Fatalf("unexpected session %+v (folder %q)", sess, folder)
	}
	if len(h.invoices.rows) != 2 || h.invoices.rows[1][6] != ledger.StatusInvoicePending {
		t.Fatalf("unexpected invoice rows %v", h.invoices.rows)
	}
	if !strings.HasSuffix(h.invoices.rows[1][5], folder) {
		t.Fatalf("expected folder link in row, got %q", h.invoices.rows[1][5])
	}

	out = h.dispatch(t, AttachmentMessage{Actor: actor(chUpload), Attachments: []model.Attachment{
		{Filename: "a.pdf", ContentType: "application/pdf", URL: "https://cdn/a.pdf"},
		{Filename: "b.jpg", ContentType: "image/jpeg", URL: "https://cdn/b.jpg"},
	}})
	if !out.Done {
		t.Fatalf("expected completion, got %+v", out)
	}
	want := []upload{{folder, "a.pdf", "application/pdf"}, {folder, "b.jpg", "image/jpeg"}}
	if !reflect.DeepEqual(h.files.uploads, want) {
		t.Fatalf("unexpected uploads %+v", h.files.uploads)
	}
	if _, ok := h.session(t); ok {
		t.Fatal("expected session to be deleted")
	}
}

func TestAttachmentsBeforeFormAreKept(t *testing.T) {
	h := newHarness()

	h.dispatch(t, Command{Actor: actor(chInvoice), RequestType: model.RequestInvoice})
	out := h.dispatch(t, AttachmentMessage{Actor: actor(chUpload), Attachments: []model.Attachment{
		{Filename: "early.pdf", URL: "https://cdn/early.pdf"},
	}})
	if !out.Silent() {
		t.Fatalf("expected early attachments to be held quietly, got %+v", out)
	}
	if sess, _ := h.session(t); sess.Kind != model.KindAwaitingForm {
		t.Fatalf("attachments must not advance the session, got %s", sess.Kind)
	}

	out = h.dispatch(t, invoiceForm("200"))
	if !out.Done {
		t.Fatalf("expected held attachments to complete the request, got %+v", out)
	}
	if len(h.files.uploads) != 1 || h.files.uploads[0].name != "early.pdf" {
		t.Fatalf("unexpected uploads %+v", h.files.uploads)
	}
	if _, ok := h.session(t); ok {
		t.Fatal("expected session to be deleted")
	}
}

func TestAttachmentsWithoutSessionAreHeld(t *testing.T) {
	h := newHarness()

	h.dispatch(t, AttachmentMessage{Actor: actor(chUpload), Attachments: []model.Attachment{{Filename: "x.pdf", URL: "u"}}})
	if _, ok := h.session(t); ok {
		t.Fatal("attachments must not create a session")
	}
	if got := h.pending.Drain(context.Background(), "u1"); len(got) != 1 {
		t.Fatalf("expected one held attachment, got %d", len(got))
	}
}

func TestAttachmentsOutsideUploadChannelIgnored(t *testing.T) {
	h := newHarness()

	out := h.dispatch(t, AttachmentMessage{Actor: actor(chCase), Attachments: []model.Attachment{{Filename: "x.pdf", URL: "u"}}})
	if !out.Silent() {
		t.Fatalf("expected silence, got %+v", out)
	}
	if got := h.pending.Drain(context.Background(), "u1"); len(got) != 0 {
		t.Fatalf("expected nothing held, got %d", len(got))
	}
}

func TestUploadFailureKeepsSessionForResend(t *testing.T) {
	h := newHarness()
	h.dispatch(t, Command{Actor: actor(chInvoice), RequestType: model.RequestInvoice})
	h.dispatch(t, invoiceForm("300"))

	h.dl.fail["https://cdn/b.pdf"] = true
	files := []model.Attachment{{Filename: "a.pdf", URL: "https://cdn/a.pdf"}, {Filename: "b.pdf", URL: "https://cdn/b.pdf"}}
	out, err := h.o.Dispatch(context.Background(), AttachmentMessage{Actor: actor(chUpload), Attachments: files})
	if !errors.Is(err, ErrUploadFailed) {
		t.Fatalf("expected ErrUploadFailed, got %v", err)
	}
	if !strings.Contains(out.Message, "1 de 2") {
		t.Fatalf("expected partial count in message, got %q", out.Message)
	}
	sess, ok := h.session(t)
	if !ok || sess.Kind != model.KindAwaitingAttachments {
		t.Fatalf("expected session kept for resend, got %+v ok=%v", sess, ok)
	}

	delete(h.dl.fail, "https://cdn/b.pdf")
	out = h.dispatch(t, AttachmentMessage{Actor: actor(chUpload), Attachments: files})
	if !out.Done {
		t.Fatalf("expected completion on resend, got %+v", out)
	}
	if len(h.files.uploads) != 3 {
		t.Fatalf("expected duplicate upload of a.pdf to be tolerated, got %d uploads", len(h.files.uploads))
	}
	if len(h.invoices.rows) != 2 {
		t.Fatalf("resend must not append rows, got %d", len(h.invoices.rows))
	}
}

func TestAppendFailureKeepsFormStep(t *testing.T) {
	h := newHarness()
	h.cases.appendErr = errors.New("sheets down")

	h.dispatch(t, Command{Actor: actor(chCase), RequestType: model.RequestCase})
	h.dispatch(t, Selection{Actor: actor(chCase), Category: "CAMBIO DEFECTUOSO"})

	out := h.o.Handle(context.Background(), caseForm("100"))
	if !strings.Contains(out.Message, "Inténtalo de nuevo") {
		t.Fatalf("expected generic retry message, got %q", out.Message)
	}
	sess, ok := h.session(t)
	if !ok || sess.Kind != model.KindAwaitingForm {
		t.Fatalf("expected form step preserved, got %+v ok=%v", sess, ok)
	}

	h.cases.appendErr = nil
	if out := h.dispatch(t, caseForm("100")); !out.Done {
		t.Fatalf("expected retry to succeed, got %+v", out)
	}
}

func TestStaleEventsNeverMutate(t *testing.T) {
	stored := map[model.Kind]model.Session{
		model.KindAwaitingCategory:    {ID: "s1", UserID: "u1", Kind: model.KindAwaitingCategory},
		model.KindAwaitingForm:        {ID: "s2", UserID: "u1", Kind: model.KindAwaitingForm, RequestType: model.RequestCase, Category: "DEVOLUCIÓN"},
		model.KindAwaitingAttachments: {ID: "s3", UserID: "u1", Kind: model.KindAwaitingAttachments, RequestType: model.RequestInvoice, ContainerID: "f"},
	}
	events := map[model.Kind][]Event{
		model.KindAwaitingCategory:    {Selection{Actor: actor(chCase), Category: "DEVOLUCIÓN"}},
		model.KindAwaitingForm:        {caseForm("1"), FormReopen{Actor: actor(chCase)}},
		model.KindAwaitingAttachments: {},
	}

	for kind, sess := range stored {
		for needs, evs := range events {
			if needs == kind {
				continue
			}
			for _, ev := range evs {
				h := newHarness()
				if err := h.sessions.Set(context.Background(), "u1", sess); err != nil {
					t.Fatalf("seed: %v", err)
				}

				out := h.o.Handle(context.Background(), ev)
				if !strings.Contains(out.Message, "No hay ningún proceso activo") {
					t.Fatalf("%s + %T: expected no-active-process message, got %q", kind, ev, out.Message)
				}
				got, _ := h.session(t)
				if !reflect.DeepEqual(got, sess) {
					t.Fatalf("%s + %T: session mutated to %+v", kind, ev, got)
				}
				if len(h.cases.rows) != 1 {
					t.Fatalf("%s + %T: stale event appended a row", kind, ev)
				}
			}
		}
	}
}

func TestFormForOtherRequestTypeIsStale(t *testing.T) {
	h := newHarness()
	h.dispatch(t, Command{Actor: actor(chInvoice), RequestType: model.RequestInvoice})
	before, _ := h.session(t)

	_, err := h.o.Dispatch(context.Background(), caseForm("1"))
	if !errors.Is(err, ErrNoActiveProcess) {
		t.Fatalf("expected ErrNoActiveProcess, got %v", err)
	}
	if after, _ := h.session(t); !reflect.DeepEqual(before, after) {
		t.Fatalf("session mutated: %+v", after)
	}
}

func TestEventsWithoutSession(t *testing.T) {
	h := newHarness()
	for _, ev := range []Event{
		Selection{Actor: actor(chCase), Category: "DEVOLUCIÓN"},
		caseForm("1"),
		FormReopen{Actor: actor(chCase)},
	} {
		if _, err := h.o.Dispatch(context.Background(), ev); !errors.Is(err, ErrNoActiveProcess) {
			t.Fatalf("%T: expected ErrNoActiveProcess, got %v", ev, err)
		}
	}
	if h.sessions.Len() != 0 {
		t.Fatal("expected no sessions to be created")
	}
}

func TestCommandChannelAndGuildChecks(t *testing.T) {
	h := newHarness()

	out, err := h.o.Dispatch(context.Background(), Command{Actor: actor(chInvoice), RequestType: model.RequestCase})
	if !errors.Is(err, ErrWrongChannel) {
		t.Fatalf("expected ErrWrongChannel, got %v", err)
	}
	if !strings.Contains(out.Message, chCase) {
		t.Fatalf("expected the right channel in message, got %q", out.Message)
	}

	other := actor(chCase)
	other.GuildID = "elsewhere"
	if _, err := h.o.Dispatch(context.Background(), Command{Actor: other, RequestType: model.RequestCase}); !errors.Is(err, ErrWrongGuild) {
		t.Fatalf("expected ErrWrongGuild, got %v", err)
	}
	if h.sessions.Len() != 0 {
		t.Fatal("rejected commands must not create sessions")
	}
}

func TestCommandRestartsSession(t *testing.T) {
	h := newHarness()
	h.dispatch(t, Command{Actor: actor(chCase), RequestType: model.RequestCase})
	first, _ := h.session(t)

	h.dispatch(t, Command{Actor: actor(chCase), RequestType: model.RequestCase})
	second, _ := h.session(t)
	if first.ID == second.ID {
		t.Fatal("expected a fresh session id on restart")
	}
}

func TestUnknownCategoryKeepsMenu(t *testing.T) {
	h := newHarness()
	h.dispatch(t, Command{Actor: actor(chCase), RequestType: model.RequestCase})

	if _, err := h.o.Dispatch(context.Background(), Selection{Actor: actor(chCase), Category: "OTRA"}); !errors.Is(err, ErrUnknownCategory) {
		t.Fatalf("expected ErrUnknownCategory, got %v", err)
	}
	if sess, _ := h.session(t); sess.Kind != model.KindAwaitingCategory {
		t.Fatalf("expected category step kept, got %s", sess.Kind)
	}
}

func TestMissingFieldsKeepForm(t *testing.T) {
	h := newHarness()
	h.dispatch(t, Command{Actor: actor(chCase), RequestType: model.RequestCase})
	h.dispatch(t, Selection{Actor: actor(chCase), Category: "DEVOLUCIÓN"})

	ev := caseForm("  ")
	out, err := h.o.Dispatch(context.Background(), ev)
	if !errors.Is(err, ErrMissingField) {
		t.Fatalf("expected ErrMissingField, got %v", err)
	}
	if !out.Retry || !strings.Contains(out.Message, "Número de pedido") {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if sess, _ := h.session(t); sess.Kind != model.KindAwaitingForm {
		t.Fatalf("expected form step kept, got %s", sess.Kind)
	}
}

func TestSessionReplacedDuringSubmission(t *testing.T) {
	h := newHarness()
	h.dispatch(t, Command{Actor: actor(chInvoice), RequestType: model.RequestInvoice})

	// A second command lands while the folder lookup is in flight.
	h.folders.before = func() {
		h.folders.before = nil
		h.dispatch(t, Command{Actor: actor(chInvoice), RequestType: model.RequestInvoice})
	}
	replaced := h.o.Handle(context.Background(), invoiceForm("400"))
	if !strings.Contains(replaced.Message, "No hay ningún proceso activo") {
		t.Fatalf("expected stale outcome, got %q", replaced.Message)
	}
	if len(h.invoices.rows) != 1 {
		t.Fatalf("expected no row for the replaced session, got %d", len(h.invoices.rows))
	}
	sess, ok := h.session(t)
	if !ok || sess.Kind != model.KindAwaitingForm {
		t.Fatalf("expected the newer session to survive, got %+v ok=%v", sess, ok)
	}
}

// gatedLedger holds duplicate checks until release is closed.
type gatedLedger struct {
	*ledger.Ledger
	entered chan struct{}
	release chan struct{}
}

func (g *gatedLedger) IsDuplicate(ctx context.Context, header, value string) (bool, error) {
	g.entered <- struct{}{}
	<-g.release
	return g.Ledger.IsDuplicate(ctx, header, value)
}

func TestRedeliveredSubmissionAppendsOnce(t *testing.T) {
	h := newHarness()
	gate := &gatedLedger{
		Ledger:  ledger.New(h.cases, "s-case", "Casos"),
		entered: make(chan struct{}, 2),
		release: make(chan struct{}),
	}
	h.o.deps.CaseLedger = gate

	h.dispatch(t, Command{Actor: actor(chCase), RequestType: model.RequestCase})
	h.dispatch(t, Selection{Actor: actor(chCase), Category: "DEVOLUCIÓN"})

	first := make(chan error, 1)
	go func() {
		_, err := h.o.Dispatch(context.Background(), caseForm("100"))
		first <- err
	}()
	<-gate.entered

	// The same submission arrives again while the first is checking the ledger.
	if _, err := h.o.Dispatch(context.Background(), caseForm("100")); !errors.Is(err, ErrInProgress) {
		t.Fatalf("expected ErrInProgress for the concurrent copy, got %v", err)
	}
	close(gate.release)
	if err := <-first; err != nil {
		t.Fatalf("first submission: %v", err)
	}

	if _, err := h.o.Dispatch(context.Background(), caseForm("100")); !errors.Is(err, ErrNoActiveProcess) {
		t.Fatalf("expected a late copy to be stale, got %v", err)
	}
	if len(h.cases.rows) != 2 {
		t.Fatalf("expected exactly one appended row, got %d", len(h.cases.rows)-1)
	}
	if len(gate.entered) != 0 {
		t.Fatal("only the first copy may reach the duplicate check")
	}
}

func TestTrackingLookup(t *testing.T) {
	h := newHarness()
	h.cases.rows = append(h.cases.rows, []string{"500", "", "Ana", "DEVOLUCIÓN", "77", "", "EN GESTIÓN"})

	out := h.dispatch(t, Command{Actor: actor(chTracking), RequestType: model.RequestTracking})
	if out.Form == nil || out.Form.ID != "tracking_form" {
		t.Fatalf("expected tracking form, got %+v", out)
	}
	out = h.dispatch(t, FormSubmission{Actor: actor(chTracking), Form: model.RequestTracking, Values: map[string]string{FieldOrder: "500"}})
	if !out.Done || out.Message != "Pedido 500 (caso 77): EN GESTIÓN." {
		t.Fatalf("unexpected lookup outcome %+v", out)
	}
	if _, ok := h.session(t); ok {
		t.Fatal("expected session to be deleted after lookup")
	}

	h.dispatch(t, Command{Actor: actor(chTracking), RequestType: model.RequestTracking})
	out = h.dispatch(t, FormSubmission{Actor: actor(chTracking), Form: model.RequestTracking, Values: map[string]string{FieldOrder: "999"}})
	if !strings.Contains(out.Message, "No hay ningún caso") {
		t.Fatalf("unexpected outcome for unknown order %q", out.Message)
	}
}

func TestCancel(t *testing.T) {
	h := newHarness()

	out := h.dispatch(t, Cancel{Actor: actor(chCase)})
	if out.Done {
		t.Fatalf("nothing to cancel, got %+v", out)
	}

	h.dispatch(t, Command{Actor: actor(chCase), RequestType: model.RequestCase})
	out = h.dispatch(t, Cancel{Actor: actor(chCase)})
	if !out.Done || out.Message != "Proceso cancelado." {
		t.Fatalf("unexpected cancel outcome %+v", out)
	}
	if _, ok := h.session(t); ok {
		t.Fatal("expected session deleted on cancel")
	}
}
