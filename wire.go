package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sahasrahbot/sglbot/chat"
	"github.com/sahasrahbot/sglbot/config"
	"github.com/sahasrahbot/sglbot/crypto"
	"github.com/sahasrahbot/sglbot/db"
	"github.com/sahasrahbot/sglbot/discord"
	"github.com/sahasrahbot/sglbot/orchestrator"
	"github.com/sahasrahbot/sglbot/race"
	"github.com/sahasrahbot/sglbot/racetime"
	"github.com/sahasrahbot/sglbot/scan"
	"github.com/sahasrahbot/sglbot/schedule"
	"github.com/sahasrahbot/sglbot/seedgen"
	"github.com/sahasrahbot/sglbot/server"
	"github.com/sahasrahbot/sglbot/sheets"
	"github.com/sahasrahbot/sglbot/store"
)

// app holds the assembled components.
type app struct {
	cfg     *config.Config
	db      *sql.DB
	orch    *orchestrator.Orchestrator
	rooms   *store.Guard
	bot     *racetime.Bot
	rt      *racetime.Client
	discord *discord.Client
	scanner *scan.Scanner
}

// build wires every component from cfg. Missing optional integrations are logged and skipped.
func build(ctx context.Context, cfg *config.Config, events config.Events, database *sql.DB) (*app, error) {
	if err := cfg.ValidateRacetime(); err != nil {
		return nil, err
	}
	sealer, err := crypto.FromKey(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("encryption key: %w", err)
	}
	if cfg.EncryptionKey == "" {
		slog.Warn("ENCRYPTION_KEY not set; room passwords are stored in plaintext")
	}
	guard := store.NewPostgresGuard(database, sealer)

	sh, err := sheets.New(ctx, cfg.GoogleCredentialsFile)
	switch {
	case errors.Is(err, sheets.ErrNotConfigured):
		slog.Info("google credentials not set; results and SMM2 sheets disabled")
		sh = nil
	case err != nil:
		return nil, fmt.Errorf("google sheets: %w", err)
	}

	seedDeps := seedgen.Deps{
		HTTPClient: &http.Client{Timeout: cfg.SeedTimeout},
		OOTRAPIKey: cfg.OOTRAPIKey,
		Patches:    store.NewPatchPool(database),
		SMM2:       seedgen.SMM2Config{TemplateID: cfg.SMM2TemplateID, FolderID: cfg.SMM2FolderID, Owner: cfg.SMM2SheetOwner},
	}
	if sh != nil {
		seedDeps.Spreadsheet = sh
	}
	seeds, err := seedgen.Build(events, seedDeps)
	if err != nil {
		return nil, err
	}

	sg := &schedule.Client{BaseURL: cfg.SpeedGamingURL, HTTPClient: &http.Client{Timeout: 30 * time.Second}}
	rt := racetime.NewClient(cfg.RacetimeURL, cfg.RacetimeCategory, cfg.RacetimeClientID, cfg.RacetimeClientSecret)

	a := &app{cfg: cfg, db: database, rooms: guard, rt: rt}
	builder := &race.Builder{Episodes: sg, Events: events}
	deps := orchestrator.Deps{
		Events:   events,
		Races:    builder,
		Rooms:    guard,
		Spoilers: store.NewSpoilerRepository(database),
		Racetime: rt,
		Seeds:    seeds,
	}
	if sh != nil {
		deps.Results = sh
	}

	if err := cfg.ValidateDiscord(); err != nil {
		slog.Warn("discord disabled; notifications and match channels are off", slog.Any("err", err))
	} else {
		dc, err := discord.New(cfg.DiscordToken, discord.Options{
			GuildID:          cfg.GuildID,
			OpenCategoryID:   cfg.SMM2CategoryID,
			ClosedCategoryID: cfg.SMM2ClosedCategoryID,
		})
		if err != nil {
			return nil, err
		}
		a.discord = dc
		builder.Members = dc
		deps.Notifier = dc
		deps.Channels = dc
	}

	a.orch = orchestrator.New(orchestrator.Settings{
		AuditChannelID:     cfg.AuditChannelID,
		VolunteerChannelID: cfg.VolunteerChannelID,
		AdminChannelID:     cfg.AdminChannelID,
		AuditMentionUserID: cfg.AuditMentionUserID,
		ResultsSheetID:     cfg.ResultsSheetID,
		SeedTimeout:        cfg.SeedTimeout,
		MaxConcurrentSeeds: cfg.MaxConcurrentSeeds,
	}, deps)

	a.bot = &racetime.Bot{Client: rt, Handler: a.orch.RoomHandler(cfg.Debug)}
	a.scanner = &scan.Scanner{
		Events:         events,
		Debug:          cfg.Debug,
		Schedule:       sg,
		Creator:        a.orch,
		Recorder:       a.orch,
		Backlog:        guard,
		Lookahead:      cfg.ScanLookahead,
		AuditChannelID: cfg.AuditChannelID,
		Checkpoints:    db.NewKV(database),
	}
	if a.discord != nil {
		a.scanner.Audit = a.discord
	}
	return a, nil
}

// start launches every long-running component on g.
func (a *app) start(ctx context.Context, g *errgroup.Group) {
	g.Go(func() error { return a.bot.Run(ctx) })
	g.Go(func() error {
		scan.StartCreateJob(ctx, a.scanner, a.cfg.CreateScanInterval)
		return nil
	})
	g.Go(func() error {
		scan.StartRecordJob(ctx, a.scanner, a.cfg.RecordScanInterval)
		return nil
	})
	if a.discord != nil {
		g.Go(func() error { return a.discord.Run(ctx, discord.NewCommands(a.discord, a.orch)) })
	}
	if err := a.cfg.ValidateChatReady(); err != nil {
		slog.Info("twitch operator channel disabled", slog.Any("err", err))
	} else {
		g.Go(func() error {
			chat.StartOperatorChannel(ctx, chat.Credentials{
				Channel:  a.cfg.TwitchChannel,
				Username: a.cfg.TwitchBotUsername,
				OAuth:    a.cfg.TwitchOAuthToken,
			}, a.orch)
			return nil
		})
	}
	g.Go(func() error {
		return server.Start(ctx, server.Deps{
			DB:    a.db,
			Ops:   a.orch,
			Rooms: a.rooms,
			Ready: map[string]func(context.Context) error{
				"racetime": func(ctx context.Context) error {
					_, err := a.rt.CurrentRaces(ctx)
					return err
				},
				"create_scan": a.scanner.Fresh("create", 3*a.cfg.CreateScanInterval),
				"record_scan": a.scanner.Fresh("record", 3*a.cfg.RecordScanInterval),
			},
		}, a.cfg.HTTPAddr)
	})
}
