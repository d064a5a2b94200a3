package main

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/pitchside/go/internal/match/archive"
	"github.com/mcdev12/pitchside/go/internal/match/auth"
	"github.com/mcdev12/pitchside/go/internal/match/clock"
	"github.com/mcdev12/pitchside/go/internal/match/entry"
	"github.com/mcdev12/pitchside/go/internal/match/gateway"
	"github.com/mcdev12/pitchside/go/internal/match/publish"
	"github.com/mcdev12/pitchside/go/internal/match/repository"
	"github.com/mcdev12/pitchside/go/internal/match/room"
	"github.com/mcdev12/pitchside/go/internal/match/session"
	"github.com/mcdev12/pitchside/go/internal/match/state"
	"github.com/mcdev12/pitchside/go/internal/match/stats"
	"github.com/rs/zerolog/log"
)

type Services struct {
	Store     *state.Store
	Sessions  *session.Manager
	Rooms     *room.Coordinator
	Keeper    *clock.Timekeeper
	Submitter *entry.Submitter
	Archive   *archive.Scheduler
	Publisher publish.Publisher
	Worker    *publish.Worker
	Gateway   *gateway.Service
	Stats     *stats.Service
	Auth      *auth.JWTAuthenticator
}

func setupServices(ctx context.Context, config *Config, database *Database, authenticator *auth.JWTAuthenticator) (*Services, error) {
	// Wire up the match core
	// Fixtures → Store → Sessions/Rooms → Clock/Entry → Archive → Gateway
	clk := clockwork.NewRealClock()

	fixtures, err := setupFixtures(config, database)
	if err != nil {
		return nil, err
	}
	store := state.NewStore(fixtures, clk)

	sessions := session.NewManager(clk, config.sessionConfig())
	rooms := room.NewCoordinator(store, sessions, room.ClaimsPermissionChecker{}, clk)
	store.SetBroadcaster(rooms)

	keeper := clock.NewTimekeeper(store, clk, config.clockConfig())

	var recorder entry.EventRecorder
	if database != nil {
		recorder = repository.NewEventRecorder(database.DB)
	}
	submitter := entry.NewSubmitter(store, rooms, sessions, recorder, config.entryConfig())

	archiver, err := setupArchiver(ctx)
	if err != nil {
		return nil, err
	}
	scheduler := archive.NewScheduler(archiver, store, rooms, sessions, keeper, clk, config.archiveConfig())

	publisher, err := setupPublisher(getEnv("BROKER", "none"))
	if err != nil {
		return nil, err
	}
	var worker *publish.Worker
	if publisher != nil {
		worker = publish.NewWorker(publisher, config.publishConfig())
		rooms.SetMirror(worker)
	}

	core := gateway.Core{
		Store:     store,
		Rooms:     rooms,
		Sessions:  sessions,
		Keeper:    keeper,
		Submitter: submitter,
		Archive:   scheduler,
	}
	gatewayService := gateway.NewService(config.gatewayConfig(), core, authenticator, clk)

	return &Services{
		Store:     store,
		Sessions:  sessions,
		Rooms:     rooms,
		Keeper:    keeper,
		Submitter: submitter,
		Archive:   scheduler,
		Publisher: publisher,
		Worker:    worker,
		Gateway:   gatewayService,
		Stats:     stats.NewService(gatewayService.StateProvider()),
		Auth:      authenticator,
	}, nil
}

func setupFixtures(config *Config, database *Database) (state.FixtureProvider, error) {
	if database != nil {
		log.Info().Msg("reading fixtures from postgres")
		return repository.NewFixtureRepository(database.Pool), nil
	}

	fixtures, err := repository.NewStaticFixtures(config.Fixtures)
	if err != nil {
		return nil, fmt.Errorf("failed to load static fixtures: %w", err)
	}
	log.Info().Int("fixtures", len(config.Fixtures)).Msg("using static fixtures")
	return fixtures, nil
}

func setupArchiver(ctx context.Context) (archive.Archiver, error) {
	bucket := getEnv("ARCHIVE_BUCKET", "")
	if bucket == "" {
		return archive.NoopArchiver{}, nil
	}
	archiver, err := archive.NewS3ArchiverFromEnv(ctx, getEnv("AWS_REGION", ""), bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 archiver: %w", err)
	}
	log.Info().Str("bucket", bucket).Msg("archiving completed matches to S3")
	return archiver, nil
}

// setupPublisher returns nil when broadcasts are not mirrored.
func setupPublisher(broker string) (publish.Publisher, error) {
	switch broker {
	case "", "none":
		return nil, nil
	case "nats":
		cfg := publish.DefaultJetStreamConfig()
		cfg.URL = getEnv("NATS_URL", cfg.URL)
		p, err := publish.NewJetStreamPublisher(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create JetStream publisher: %w", err)
		}
		return p, nil
	case "amqp":
		cfg := publish.DefaultAMQPConfig()
		cfg.URL = getEnv("AMQP_URL", cfg.URL)
		cfg.Exchange = getEnv("AMQP_EXCHANGE", cfg.Exchange)
		p, err := publish.NewAMQPPublisher(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create AMQP publisher: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown broker %q", broker)
	}
}

func (s *Services) Start(ctx context.Context) error {
	if s.Worker != nil {
		if err := s.Worker.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close disconnects every client, then stops the background work.
func (s *Services) Close() {
	if err := s.Gateway.Stop(); err != nil {
		log.Error().Err(err).Msg("gateway shutdown incomplete")
	}
	s.Archive.Stop()
	s.Keeper.Shutdown()
	if s.Worker != nil {
		if err := s.Worker.Stop(); err != nil {
			log.Error().Err(err).Msg("failed to stop publish worker")
		}
	}
	if s.Publisher != nil {
		if err := s.Publisher.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close publisher")
		}
	}
}
