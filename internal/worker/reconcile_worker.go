package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"intakebot/internal/discord"
	"intakebot/internal/ledger"
)

const (
	DefaultReconcileInterval = 5 * time.Minute
	MinReconcileInterval     = time.Minute
)

var ErrLedgerSchema = errors.New("ledger is missing reconciliation columns")

type Ledger interface {
	Read(ctx context.Context) (*ledger.Table, error)
	SetCell(ctx context.Context, rowNumber, col int, value string) error
}

type Directory interface {
	ListMembers(ctx context.Context, guildID string) ([]discord.Member, error)
}

type Notifier interface {
	SendMessage(ctx context.Context, channelID string, msg discord.Message) (string, error)
}

// ReconcileWorker scans the case ledger for rows carrying an error that
// nobody has been told about yet, notifies the submitter and marks the row.
// The marker is written only after the notification went out, so a failure
// in between produces a repeated alert on the next run instead of a lost one.
type ReconcileWorker struct {
	ledger    Ledger
	directory Directory
	notifier  Notifier
	guildID   string
	channelID string
	interval  time.Duration
	now       func() time.Time

	mu sync.Mutex
}

func NewReconcileWorker(l Ledger, dir Directory, n Notifier, guildID, channelID string, interval time.Duration) *ReconcileWorker {
	if interval < MinReconcileInterval {
		slog.Warn("reconcile interval below minimum, using default",
			"configured", interval, "minimum", MinReconcileInterval, "default", DefaultReconcileInterval)
		interval = DefaultReconcileInterval
	}
	return &ReconcileWorker{
		ledger:    l,
		directory: dir,
		notifier:  n,
		guildID:   guildID,
		channelID: channelID,
		interval:  interval,
		now:       time.Now,
	}
}

func (w *ReconcileWorker) Interval() time.Duration {
	return w.interval
}

func (w *ReconcileWorker) Start(ctx context.Context) {
	slog.Info("starting reconcile worker", "interval", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("reconcile worker stopped")
			return
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil {
				slog.Error("reconciliation run failed", "error", err)
			}
		}
	}
}

// RunOnce performs one pass over the ledger and returns how many rows were
// notified. Runs never overlap.
func (w *ReconcileWorker) RunOnce(ctx context.Context) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	table, err := w.ledger.Read(ctx)
	if err != nil {
		return 0, fmt.Errorf("read ledger: %w", err)
	}

	errCol, okErr := table.Column(ledger.ColError)
	notifiedCol, okNotified := table.Column(ledger.ColNotified)
	if !okErr || !okNotified {
		return 0, ErrLedgerSchema
	}

	var dir directory
	notified := 0
	for _, rec := range table.Records() {
		if rec.At(errCol) == "" || rec.At(notifiedCol) != "" {
			continue
		}
		if dir == nil {
			dir = w.snapshot(ctx)
		}

		msg := buildNotice(rec, rec.At(errCol), dir)
		if _, err := w.notifier.SendMessage(ctx, w.channelID, msg); err != nil {
			slog.Error("failed to send error notification", "row", rec.Number, "error", err)
			continue
		}
		notified++

		marker := "NOTIFICADO " + w.now().Format(time.RFC3339)
		if err := w.ledger.SetCell(ctx, rec.Number, notifiedCol, marker); err != nil {
			slog.Error("failed to mark row notified, it will be notified again", "row", rec.Number, "error", err)
			continue
		}
		slog.Info("error row notified", "row", rec.Number, "order", rec.Get(ledger.ColOrderNumber))
	}
	return notified, nil
}

// directory maps a folded display, account or nick name to a user id.
type directory map[string]string

// snapshot lists the guild once per run. A failed listing yields an empty
// directory, which makes every notice fall back to the plain name.
func (w *ReconcileWorker) snapshot(ctx context.Context) directory {
	members, err := w.directory.ListMembers(ctx, w.guildID)
	if err != nil {
		slog.Warn("member directory unavailable, notifying by name", "error", err)
		return directory{}
	}

	dir := make(directory, len(members)*2)
	for _, m := range members {
		for _, name := range []string{m.User.Username, m.User.GlobalName, m.Nick} {
			if key := foldName(name); key != "" {
				if _, taken := dir[key]; !taken {
					dir[key] = m.User.ID
				}
			}
		}
	}
	return dir
}

func buildNotice(rec ledger.Record, errText string, dir directory) discord.Message {
	name := rec.Get(ledger.ColSubmitter)
	who := name
	mentions := &discord.AllowedMentions{Parse: []string{}}
	if id, ok := dir[foldName(name)]; ok {
		who = "<@" + id + ">"
		mentions.Users = []string{id}
	} else if who == "" {
		who = "Sin solicitante"
	} else {
		who = "**" + who + "**"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s, hay un error en el pedido %s", who, rec.Get(ledger.ColOrderNumber))
	if c := rec.Get(ledger.ColCaseNumber); c != "" {
		fmt.Fprintf(&b, " (caso %s", c)
		if cat := rec.Get(ledger.ColCategory); cat != "" {
			fmt.Fprintf(&b, ", %s", cat)
		}
		b.WriteString(")")
	}
	fmt.Fprintf(&b, ": %s", errText)

	return discord.Message{Content: b.String(), AllowedMentions: mentions}
}

func foldName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
