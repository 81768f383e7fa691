package session

import (
	"context"
	"sync"
	"time"

	"intakebot/internal/model"
)

// PendingAttachments holds attachments that reached the upload channel
// before the submitter's form did. Entries expire after ttl and are handed
// out at most once.
type PendingAttachments struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	items map[string][]pendingItem
}

type pendingItem struct {
	attachment model.Attachment
	expiresAt  time.Time
}

func NewPendingAttachments(ttl time.Duration) *PendingAttachments {
	return &PendingAttachments{
		ttl:   ttl,
		now:   time.Now,
		items: make(map[string][]pendingItem),
	}
}

func (p *PendingAttachments) Add(_ context.Context, key string, attachments []model.Attachment) {
	if len(attachments) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	exp := p.now().Add(p.ttl)
	for _, a := range attachments {
		p.items[key] = append(p.items[key], pendingItem{attachment: a, expiresAt: exp})
	}
}

// Drain removes and returns the unexpired attachments held for key.
func (p *PendingAttachments) Drain(_ context.Context, key string) []model.Attachment {
	p.mu.Lock()
	defer p.mu.Unlock()

	held := p.items[key]
	delete(p.items, key)

	now := p.now()
	var out []model.Attachment
	for _, it := range held {
		if now.Before(it.expiresAt) {
			out = append(out, it.attachment)
		}
	}
	return out
}

// Sweep drops expired entries and returns how many attachments were removed.
func (p *PendingAttachments) Sweep() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	removed := 0
	for key, held := range p.items {
		kept := held[:0]
		for _, it := range held {
			if now.Before(it.expiresAt) {
				kept = append(kept, it)
			} else {
				removed++
			}
		}
		if len(kept) == 0 {
			delete(p.items, key)
		} else {
			p.items[key] = kept
		}
	}
	return removed
}

// StartSweeper runs Sweep every interval until ctx is done.
func (p *PendingAttachments) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Sweep()
		}
	}
}
