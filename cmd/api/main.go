package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"time"

	"signflow/config"
	"signflow/connection"
	"signflow/db"
	"signflow/docusign"
	"signflow/envelope"
	"signflow/obs"
	"signflow/session"
	"signflow/timeline"
)

func main() {
	configPath := flag.String("config", "signflow.yaml", "path to the YAML configuration file")
	addr := flag.String("addr", ":8080", "listen address for the dashboard API")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load configuration: %v", err)
	}

	logger := obs.NewLogger()
	ctx := context.Background()

	tokens := tokenSource(cfg.BearerToken)
	client := docusign.New(cfg.BackendURL, tokens, nil)

	store := envelope.NewStore()
	manager := connection.NewManager(client)

	dispatcher := envelope.NewDispatcher(client, manager, store)
	if cfg.MaxImportBytes > 0 {
		dispatcher.SetMaxImportSize(cfg.MaxImportBytes)
	}

	var onTerminal func(context.Context, envelope.TerminalEvent)
	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("bootstrap database pool: %v", err)
		}
		defer pool.Close()

		recorder := timeline.NewService(pool, nil)
		onTerminal = func(ctx context.Context, ev envelope.TerminalEvent) {
			err := recorder.RecordTerminal(ctx, timeline.RecordTerminalRequest{
				EventKey:   ev.SessionID,
				EnvelopeID: ev.EnvelopeID,
				ClaimID:    ev.ClaimID,
				SessionID:  ev.SessionID,
				Status:     string(ev.Status),
				Outcome:    string(ev.Outcome),
			})
			if err != nil {
				logger.Error(map[string]any{
					"msg":         "record terminal envelope state",
					"envelope_id": ev.EnvelopeID,
					"error":       err.Error(),
				})
			}
		}
	}

	poller := envelope.NewPoller(client, store, logger, envelope.Options{
		Interval:   cfg.PollInterval,
		Ceiling:    cfg.PollCeiling,
		OnTerminal: onTerminal,
	})

	// Warm the store and the connection state; failures here are non-fatal,
	// the UI can still render last-known data.
	if status, err := manager.CheckStatus(ctx); err != nil {
		logger.Error(map[string]any{"msg": "initial connection check", "error": err.Error()})
	} else if status.IsConnected {
		if records, err := client.ListEnvelopes(ctx); err != nil {
			logger.Error(map[string]any{"msg": "initial envelope list", "error": err.Error()})
		} else {
			domain := make([]envelope.Record, 0, len(records))
			for _, rec := range records {
				domain = append(domain, envelope.RecordFromAPI(rec))
			}
			store.SetAll(domain)
		}
	}

	server := &Server{
		connections: manager,
		dispatch:    dispatcher,
		poller:      poller,
		store:       store,
		envelopes:   client,
		log:         logger,
	}

	logger.Info(map[string]any{"msg": "signflow api listening", "addr": *addr})
	httpServer := &http.Server{
		Addr:              *addr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := httpServer.ListenAndServe(); err != nil {
		log.Fatalf("serve: %v", err)
	}
}

// tokenSource prefers the expiry-aware JWT source and falls back to the
// opaque static source when the credential is not a JWT.
func tokenSource(token string) docusign.TokenSource {
	if token == "" {
		token = os.Getenv("SIGNFLOW_BEARER_TOKEN")
	}
	if src, err := session.NewJWTSource(token); err == nil {
		return src
	}
	return session.NewStaticSource(token)
}
