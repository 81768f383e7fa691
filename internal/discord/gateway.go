package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	defaultGatewayURL = "wss://gateway.discord.gg/?v=10&encoding=json"

	IntentGuildMessages  = 1 << 9
	IntentMessageContent = 1 << 15

	opDispatch       = 0
	opHeartbeat      = 1
	opIdentify       = 2
	opReconnect      = 7
	opInvalidSession = 9
	opHello          = 10
	opHeartbeatAck   = 11
)

var errReconnect = errors.New("gateway asked to reconnect")

type inbound struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
	S  *int64          `json:"s"`
	T  string          `json:"t"`
}

type outbound struct {
	Op int `json:"op"`
	D  any `json:"d"`
}

type identify struct {
	Token      string             `json:"token"`
	Intents    int                `json:"intents"`
	Properties identifyProperties `json:"properties"`
}

type identifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

// Gateway keeps a websocket session open and hands every non-bot
// MESSAGE_CREATE to OnMessage. It reconnects with exponential backoff and
// starts a fresh session each time; missed events are not replayed.
type Gateway struct {
	Token     string
	URL       string
	Intents   int
	OnMessage func(ctx context.Context, m MessageCreate)
}

// Run blocks until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context) {
	slog.Info("starting discord gateway")
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 2 * time.Minute

	for {
		err := g.session(ctx, b)
		if ctx.Err() != nil {
			slog.Info("discord gateway stopped")
			return
		}

		wait := b.NextBackOff()
		slog.Warn("discord gateway disconnected", "error", err, "retry_in", wait)
		select {
		case <-ctx.Done():
			slog.Info("discord gateway stopped")
			return
		case <-time.After(wait):
		}
	}
}

func (g *Gateway) session(ctx context.Context, b *backoff.ExponentialBackOff) error {
	u := g.URL
	if u == "" {
		u = defaultGatewayURL
	}

	conn, _, err := websocket.Dial(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(4 << 20)

	var hello inbound
	if err := wsjson.Read(ctx, conn, &hello); err != nil {
		return fmt.Errorf("read hello: %w", err)
	}
	if hello.Op != opHello {
		return fmt.Errorf("expected hello, got op %d", hello.Op)
	}
	var hb struct {
		HeartbeatInterval int64 `json:"heartbeat_interval"`
	}
	if err := json.Unmarshal(hello.D, &hb); err != nil || hb.HeartbeatInterval <= 0 {
		return fmt.Errorf("invalid hello payload")
	}

	err = wsjson.Write(ctx, conn, outbound{Op: opIdentify, D: identify{
		Token:      g.Token,
		Intents:    g.Intents,
		Properties: identifyProperties{OS: "linux", Browser: "intakebot", Device: "intakebot"},
	}})
	if err != nil {
		return fmt.Errorf("identify: %w", err)
	}

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var seq atomic.Int64
	seq.Store(-1)
	heartbeat := func() error {
		var d any
		if s := seq.Load(); s >= 0 {
			d = s
		}
		return wsjson.Write(sessCtx, conn, outbound{Op: opHeartbeat, D: d})
	}

	go func() {
		ticker := time.NewTicker(time.Duration(hb.HeartbeatInterval) * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-sessCtx.Done():
				return
			case <-ticker.C:
				if err := heartbeat(); err != nil {
					slog.Warn("gateway heartbeat failed", "error", err)
					cancel()
					return
				}
			}
		}
	}()

	for {
		var p inbound
		if err := wsjson.Read(sessCtx, conn, &p); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if p.S != nil {
			seq.Store(*p.S)
		}

		switch p.Op {
		case opDispatch:
			g.dispatch(ctx, p, b)
		case opHeartbeat:
			if err := heartbeat(); err != nil {
				return fmt.Errorf("heartbeat: %w", err)
			}
		case opReconnect:
			conn.Close(websocket.StatusNormalClosure, "reconnect")
			return errReconnect
		case opInvalidSession:
			return fmt.Errorf("invalid session")
		case opHeartbeatAck:
		}
	}
}

func (g *Gateway) dispatch(ctx context.Context, p inbound, b *backoff.ExponentialBackOff) {
	switch p.T {
	case "READY":
		b.Reset()
		slog.Info("discord gateway ready")
	case "MESSAGE_CREATE":
		var m MessageCreate
		if err := json.Unmarshal(p.D, &m); err != nil {
			slog.Warn("invalid MESSAGE_CREATE payload", "error", err)
			return
		}
		if m.Author.Bot || g.OnMessage == nil {
			return
		}
		go g.OnMessage(ctx, m)
	}
}
