package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pactumai/pactum/internal/attestation"
	"github.com/pactumai/pactum/internal/callsession"
	"github.com/pactumai/pactum/internal/eventlog"
	"github.com/pactumai/pactum/internal/financial"
	"github.com/pactumai/pactum/internal/httpapi"
	"github.com/pactumai/pactum/internal/jobs"
	"github.com/pactumai/pactum/internal/knowledge"
	"github.com/pactumai/pactum/internal/llm"
	"github.com/pactumai/pactum/internal/notifications"
	"github.com/pactumai/pactum/internal/store"
	"github.com/pactumai/pactum/internal/voice"
)

type App struct {
	cfg      Config
	logger   *log.Logger
	db       *pgxpool.Pool
	store    *store.Store
	eventLog *eventlog.Logger
	sessions *httpapi.SessionRegistry
	stale    *jobs.StaleMeetingJob
	handler  http.Handler
}

func New(cfg Config, logger *log.Logger) (*App, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}

	s := store.New(db)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	el := eventlog.New(db)

	a := &App{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		store:    s,
		eventLog: el,
	}
	if err := a.wire(); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

// wire builds the services, the call session registry and the router.
func (a *App) wire() error {
	discord := notifications.NewDiscord(a.cfg.DiscordWebhookURL, a.logger)

	apns, err := notifications.NewAPNsClient(notifications.APNsConfig{
		KeyPath:    a.cfg.APNsKeyPath,
		KeyID:      a.cfg.APNsKeyID,
		TeamID:     a.cfg.APNsTeamID,
		BundleID:   a.cfg.APNsBundleID,
		Production: a.cfg.APNsProduction,
	}, a.logger)
	if err != nil {
		a.logger.Printf("app: APNs disabled: %v", err)
		apns = nil
	}
	pusher := notifications.NewPusher(apns, a.store, a.logger)

	eas, err := attestation.NewEAS(attestation.Config{
		PrivateKey:      a.cfg.AttesterPrivateKey,
		RPCURL:          a.cfg.SepoliaRPCURL,
		ContractAddress: a.cfg.EASContractAddress,
		SchemaUID:       a.cfg.EASSchemaUID,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("attestation: %w", err)
	}
	if !eas.Configured() {
		a.logger.Printf("app: ATTESTER_PRIVATE_KEY not set, insights will not be attested")
	}

	fin := financial.NewService(a.store, eas, a.logger, financial.Options{
		AttestationTimeout: a.cfg.AttestationTimeout,
		Recorder:           a.eventLog,
		Notifier:           pusher,
		Alerter:            discord,
	})

	var client llm.Client
	if a.cfg.OpenAIAPIKey != "" {
		client = llm.NewOpenAIClient(llm.OpenAIConfig{APIKey: a.cfg.OpenAIAPIKey, Model: a.cfg.OpenAIModel})
	} else {
		a.logger.Printf("app: OPENAI_API_KEY not set, knowledge answers disabled")
	}
	kb := knowledge.NewService(a.store, client, a.logger)

	if a.cfg.VoiceAPIURL == "" {
		a.logger.Printf("app: VOICE_API_URL not set, calls will fail to connect")
	}
	voiceCfg := voice.Config{APIKey: a.cfg.VoiceAPIKey, URL: a.cfg.VoiceAPIURL}
	a.sessions = httpapi.NewSessionRegistry(httpapi.SessionConfig{
		AssistantID: a.cfg.VoiceAssistantID,
		MaxLive:     a.cfg.MaxLiveCalls,
		NewTransport: func() httpapi.CallTransport {
			return voice.NewClient(voiceCfg, a.logger)
		},
		Store:    a.store,
		Recorder: a.eventLog,
		OnSummarySaved: func(md callsession.Metadata) {
			pusher.NotifySummaryReady(context.Background(), md.UserID, md.MeetingID, md.MeetingName)
		},
	}, a.logger)

	a.stale = jobs.NewStaleMeetingJob(a.store, a.logger, jobs.StaleMeetingConfig{
		MaxAge:   a.cfg.StaleMeetingAge,
		IsLive:   a.sessions.IsLive,
		Recorder: a.eventLog,
		Notifier: discord,
	})

	a.handler = httpapi.NewRouter(httpapi.RouterConfig{
		JWTSecret:      a.cfg.JWTSecret,
		JWTExpiry:      a.cfg.JWTExpiry,
		AllowedOrigins: a.cfg.AllowedOrigins,
	}, a.logger, a.store, httpapi.Services{
		EventLog:  a.eventLog,
		Financial: fin,
		Knowledge: kb,
		Sessions:  a.sessions,
	})
	return nil
}

func (a *App) Router() http.Handler {
	return a.handler
}

// StartJobs starts the background jobs.
func (a *App) StartJobs() {
	a.stale.Start()
}

// Drain rejects new calls and ends live ones, flushing their transcripts.
func (a *App) Drain(ctx context.Context) error {
	return a.sessions.Shutdown(ctx)
}

func (a *App) Close() error {
	if a.stale != nil {
		a.stale.Stop()
	}
	if a.db != nil {
		a.db.Close()
	}
	return nil
}
