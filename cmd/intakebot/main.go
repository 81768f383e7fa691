package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"intakebot/internal/config"
	"intakebot/internal/database"
	"intakebot/internal/discord"
	"intakebot/internal/handler"
	"intakebot/internal/intake"
	"intakebot/internal/ledger"
	"intakebot/internal/resolver"
	"intakebot/internal/service"
	"intakebot/internal/session"
	"intakebot/internal/worker"
)

const (
	pendingSweepInterval = time.Minute
	deferredReplyGrace   = 30 * time.Second
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "hash-password" {
		if err := hashPassword(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.New()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	setupLogger(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		slog.Error("intakebot failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	publicKey, err := discord.ParsePublicKey(cfg.DiscordPublicKey)
	if err != nil {
		return fmt.Errorf("parse discord public key: %w", err)
	}

	// Sessions
	var sessions session.Store = session.NewMemoryStore()
	if cfg.DatabaseURI != "" {
		db, err := database.NewDB(ctx, cfg.DatabaseURI)
		if err != nil {
			return fmt.Errorf("connect to DB: %w", err)
		}
		defer database.CloseDB(db)

		if err := database.InitSchema(ctx, db); err != nil {
			return fmt.Errorf("init DB schema: %w", err)
		}
		sessions = session.NewPostgresStore(db)
		slog.Info("using durable session store")
	}
	pending := session.NewPendingAttachments(cfg.PendingTTL)

	// Google
	credentials, err := os.ReadFile(cfg.GoogleCredentialsFile)
	if err != nil {
		return fmt.Errorf("read google credentials: %w", err)
	}
	googleClient, err := service.NewGoogleHTTPClient(ctx, credentials, service.ScopeSpreadsheets, service.ScopeDrive)
	if err != nil {
		return fmt.Errorf("google client: %w", err)
	}
	sheets := service.NewSheetsClient(googleClient, "")
	drive := service.NewDriveClient(googleClient, "")
	caseLedger := ledger.New(sheets, cfg.CaseSpreadsheetID, cfg.CaseSheet)
	invoiceLedger := ledger.New(sheets, cfg.InvoiceSpreadsheetID, cfg.InvoiceSheet)

	// Discord
	dc := &discord.Client{Token: cfg.DiscordToken, AppID: cfg.DiscordAppID}
	if err := dc.RegisterCommands(ctx, cfg.GuildID, handler.CommandDefinitions()); err != nil {
		slog.Warn("failed to register slash commands, keeping existing ones", "error", err)
	}

	orch := intake.New(intake.Config{
		GuildID:           cfg.GuildID,
		CaseChannelID:     cfg.CaseChannelID,
		InvoiceChannelID:  cfg.InvoiceChannelID,
		TrackingChannelID: cfg.TrackingChannelID,
		UploadChannelID:   cfg.UploadChannelID,
		ParentFolderID:    cfg.DriveParentFolderID,
		Categories:        cfg.CaseCategories,
	}, intake.Deps{
		Sessions:      sessions,
		Pending:       pending,
		CaseLedger:    caseLedger,
		InvoiceLedger: invoiceLedger,
		Folders:       resolver.New(drive),
		Files:         drive,
		Downloader:    dc,
	})

	// Workers
	reconcileWorker := worker.NewReconcileWorker(caseLedger, dc, dc, cfg.GuildID, cfg.NotifyChannelID, cfg.ReconcileInterval())
	gateway := &discord.Gateway{
		Token:     cfg.DiscordToken,
		Intents:   discord.IntentGuildMessages | discord.IntentMessageContent,
		OnMessage: handler.MessageHandler(orch, dc),
	}

	// Router
	var deferred sync.WaitGroup
	deps := handler.RouterDeps{
		PublicKey: publicKey,
		Intake:    orch,
		Responder: dc,
		Deferred:  &deferred,
	}
	if cfg.OperatorEnabled() {
		deps.Auth = service.NewAuthService(cfg.OperatorLogin, cfg.OperatorPasswordHash, cfg.JWTSecret)
		deps.JWTSecret = cfg.JWTSecret
		deps.Sessions = sessions
		deps.Reconciler = reconcileWorker
	}

	srv := &http.Server{
		Addr:         cfg.RunAddress,
		Handler:      handler.NewRouter(deps),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go reconcileWorker.Start(ctx)
	go pending.StartSweeper(ctx, pendingSweepInterval)
	go gateway.Run(ctx)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", cfg.RunAddress)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}
	slog.Info("shutting down...")

	ctxShut, cancelShut := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShut()

	if err := srv.Shutdown(ctxShut); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}
	waitDeferred(&deferred, deferredReplyGrace)

	slog.Info("server stopped")
	return nil
}

// waitDeferred gives submissions acknowledged before shutdown a chance to
// finish and report back.
func waitDeferred(wg *sync.WaitGroup, grace time.Duration) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		slog.Warn("deferred interaction replies still running at exit", "grace", grace)
	}
}

func setupLogger(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
}

// hashPassword reads a password from stdin and prints its bcrypt hash for
// OPERATOR_PASSWORD_HASH.
func hashPassword() error {
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("read password: %w", err)
	}
	hash, err := service.HashPassword(strings.TrimRight(line, "\r\n"))
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}
