// match_watch joins a match room through the gateway and logs every broadcast.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mcdev12/pitchside/go/internal/match/auth"
	"github.com/mcdev12/pitchside/go/internal/match/events"
	"github.com/mcdev12/pitchside/go/internal/match/gateway/client"
	"github.com/mcdev12/pitchside/go/internal/match/room"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})

	matchID := os.Getenv("MATCH_ID")
	if matchID == "" {
		log.Fatal().Msg("MATCH_ID environment variable is required")
	}

	token := os.Getenv("GATEWAY_TOKEN")
	if token == "" {
		// Mint a spectator token when the gateway secret is at hand.
		secret := os.Getenv("JWT_SECRET")
		if secret == "" {
			log.Fatal().Msg("GATEWAY_TOKEN or JWT_SECRET is required")
		}
		var err error
		token, err = auth.NewJWTAuthenticator(secret, getEnv("JWT_ISSUER", "")).Issue(auth.Identity{
			UserID: getEnv("WATCH_USER", "match-watch"),
			Roles:  []auth.Role{auth.RoleSpectator},
		}, time.Hour)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to issue token")
		}
	}

	config := client.DefaultConfig()
	config.URL = getEnv("GATEWAY_URL", "ws://localhost:8080/ws/match")
	config.Token = token
	if n, err := strconv.Atoi(getEnv("MAX_RECONNECTS", "")); err == nil {
		config.MaxReconnectAttempts = n
	}

	c := client.New(config, nil)
	gaveUp := make(chan struct{})
	c.OnStateChange(func(s client.State) {
		log.Info().Str("state", string(s)).Msg("connection state")
		if s == client.StateGaveUp {
			close(gaveUp)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to connect")
	}

	types := []string{
		events.MatchEvent, events.MatchState, events.TimerUpdate, events.PeriodTransition,
		events.MatchStatusChange, events.Notification, events.ChatMessage,
		events.PresenceUpdate, events.MatchArchived,
	}
	frames := make(chan client.Frame, 64)
	for _, t := range types {
		sub := c.Subscribe(t)
		go func() {
			for f := range sub.C {
				frames <- f
			}
		}()
	}

	joined, err := c.JoinMatch(ctx, room.JoinRequest{
		MatchID: matchID,
		Role:    auth.Role(getEnv("WATCH_ROLE", string(auth.RoleSpectator))),
		TeamID:  os.Getenv("WATCH_TEAM"),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to join match")
	}
	lastSeq := joined.State.Seq
	log.Info().
		Str("match_id", matchID).
		Str("status", string(joined.State.Status)).
		Int("home_score", joined.State.HomeScore).
		Int("away_score", joined.State.AwayScore).
		Uint64("seq", lastSeq).
		Msg("joined match")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case f := <-frames:
			// A full state replaces everything; deltas older than it are stale.
			if f.Type == events.MatchState {
				lastSeq = f.Seq
			} else if f.Seq != 0 && f.Seq < lastSeq {
				log.Debug().Str("event_type", f.Type).Uint64("seq", f.Seq).Msg("stale broadcast skipped")
				continue
			} else if f.Seq > lastSeq {
				lastSeq = f.Seq
			}
			data := []byte(f.Data)
			if len(data) == 0 {
				data = []byte("null")
			}
			log.Info().
				Str("event_type", f.Type).
				Str("match_id", f.MatchID).
				Uint64("seq", f.Seq).
				RawJSON("data", data).
				Msg("broadcast")
			payload, err := events.Parse(&events.Envelope{Type: f.Type, MatchID: f.MatchID, Seq: f.Seq, Data: f.Data})
			if err != nil {
				log.Warn().Err(err).Str("event_type", f.Type).Msg("undecodable broadcast")
			}
			switch p := payload.(type) {
			case *events.MatchEventPayload:
				log.Info().
					Str("type", string(p.Event.Type)).
					Int("minute", p.Event.Minute).
					Str("team_id", p.Event.TeamID).
					Str("score", fmt.Sprintf("%d-%d", p.HomeScore, p.AwayScore)).
					Msg("match event")
			case *events.NotificationPayload:
				log.Info().Str("kind", p.Kind).Msg(p.Message)
			}
			if f.Type == events.MatchArchived {
				c.Disconnect()
				return
			}
		case <-gaveUp:
			log.Error().Msg("gateway unreachable")
			return
		case sig := <-sigChan:
			log.Info().Str("signal", sig.String()).Msg("leaving match")
			leaveCtx, leaveCancel := context.WithTimeout(ctx, 2*time.Second)
			if err := c.LeaveMatch(leaveCtx, matchID); err != nil {
				log.Warn().Err(err).Msg("leave failed")
			}
			leaveCancel()
			c.Disconnect()
			return
		}
	}
}
