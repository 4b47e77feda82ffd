/*
Package main implements the HTTP server for the public housing resale data
service.

The server ingests resale transaction records period-by-period from the
data.gov.sg datastore, holds the normalized canonical table in memory as an
immutable snapshot, and answers filter queries against it. Snapshots are
republished atomically on each refresh; a websocket feed notifies connected
clients whenever a new snapshot lands.

Usage:

	go run main.go -port=:8080 -refresh-every=24h -workers=4

Environment variables (optionally from a .env file) provide defaults for the
flags: PORT, DATAGOV_BASE_URL, DATAGOV_RESOURCE_ID, DATAGOV_TIMEOUT,
FETCH_WORKERS, REFRESH_EVERY, PERIOD_WINDOW.

Endpoints:

	POST /v1/refresh   trigger a refresh cycle, returns diagnostics
	POST /v1/query     evaluate a filter spec, returns records + summary
	GET  /v1/snapshot  current snapshot metadata and canonical table
	GET  /v1/updates   websocket feed of snapshot publications
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/cliffchew84/sghousing/internal/datagov"
	"github.com/cliffchew84/sghousing/internal/ingest"
	"github.com/cliffchew84/sghousing/internal/model"
	"github.com/cliffchew84/sghousing/internal/service"
	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Command-line flags for configuring the server behavior. Defaults come from
// the environment (loaded from .env when present) so deployments can omit
// the flags entirely.
var (
	// port specifies the TCP port for the HTTP server to listen on
	port = flag.String("port", envOr("PORT", ":8080"), "The server port")
	// baseURL is the datastore API host
	baseURL = flag.String("base-url", envOr("DATAGOV_BASE_URL", ""), "data.gov.sg base URL (empty uses the default)")
	// resourceID identifies the resale transaction dataset
	resourceID = flag.String("resource-id", envOr("DATAGOV_RESOURCE_ID", ""), "datastore resource id (empty uses the default)")
	// fetchTimeout bounds each period request
	fetchTimeout = flag.Duration("fetch-timeout", envDurationOr("DATAGOV_TIMEOUT", 0), "per-period request timeout (0 uses the default)")
	// workers bounds concurrent in-flight period fetches
	workers = flag.Int("workers", envIntOr("FETCH_WORKERS", ingest.DefaultWorkers), "concurrent period fetches")
	// window is the number of trailing periods ingested per refresh
	window = flag.Int("window", envIntOr("PERIOD_WINDOW", datagov.RecentWindow), "trailing periods per refresh")
	// refreshEvery re-ingests on this interval; zero disables the timer
	refreshEvery = flag.Duration("refresh-every", envDurationOr("REFRESH_EVERY", 24*time.Hour), "periodic refresh interval (0 disables)")
)

// upgrader promotes /v1/updates requests to websocket connections.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The update feed carries no client-specific state, so any origin may listen.
	CheckOrigin: func(*http.Request) bool { return true },
}

// main is the entry point of the resale data server. It wires the datastore
// client, ingest pipeline and service together, starts the HTTP server, and
// handles graceful shutdown.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found, using system env vars")
	}
	flag.Parse()

	// Initialize structured logger with timestamp and info level
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if err := validateFlags(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := datagov.NewClient(&datagov.Config{
		BaseURL:    *baseURL,
		ResourceID: *resourceID,
		Timeout:    *fetchTimeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create datastore client")
	}

	refresher := ingest.NewRefresher(
		ingest.NewFetcher(client, *workers),
		&ingest.RefresherConfig{Window: *window},
	)

	hub := service.NewHub()
	svc := service.NewResaleService(refresher, hub)

	if err := svc.Start(ctx, *refreshEvery); err != nil {
		log.Fatal().Err(err).Msg("failed to start resale service")
	}
	defer svc.Stop()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/refresh", handleRefresh(svc))
	mux.HandleFunc("POST /v1/query", handleQuery(svc))
	mux.HandleFunc("GET /v1/snapshot", handleSnapshot(svc))
	mux.HandleFunc("GET /v1/updates", handleUpdates(hub))

	srv := &http.Server{
		Addr:              *port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       5 * time.Minute,
	}

	// Set up signal handling for graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info().Msg("received shutdown signal")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown failed")
		}
		cancel()
	}()

	log.Info().Str("port", *port).Msg("resale data server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server failed")
	}
}

// validateFlags checks the command-line configuration before startup.
func validateFlags() error {
	if *port == "" {
		return errors.New("port cannot be empty")
	}
	if *workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", *workers)
	}
	if *window <= 0 {
		return fmt.Errorf("window must be positive, got %d", *window)
	}
	if *refreshEvery < 0 {
		return fmt.Errorf("refresh interval cannot be negative, got %s", *refreshEvery)
	}
	return nil
}

// queryResponse is the payload returned by /v1/query.
type queryResponse struct {
	Records   []model.FilteredRecord `json:"records"`
	Summary   model.Summary          `json:"summary"`
	AreaUnit  model.AreaUnit         `json:"area_unit"`
	PriceMode model.PriceMode        `json:"price_mode"`
}

// snapshotResponse is the payload returned by /v1/snapshot.
type snapshotResponse struct {
	RefreshedAt time.Time                `json:"refreshed_at"`
	Periods     []string                 `json:"periods"`
	Towns       []string                 `json:"towns"`
	FlatTypes   []string                 `json:"flat_types"`
	Months      []string                 `json:"months"`
	PriceMin    float64                  `json:"price_min"`
	PriceMax    float64                  `json:"price_max"`
	AreaSqmMin  float64                  `json:"area_sqm_min"`
	AreaSqmMax  float64                  `json:"area_sqm_max"`
	Diagnostics model.RefreshDiagnostics `json:"diagnostics"`
	Records     []model.CanonicalRecord  `json:"records"`
}

func handleRefresh(svc *service.ResaleService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := svc.Refresh(r.Context())
		if err != nil {
			// The prior snapshot keeps serving; report the failure.
			writeError(w, http.StatusBadGateway, err)
			return
		}
		writeJSON(w, http.StatusOK, snap.Diagnostics)
	}
}

func handleQuery(svc *service.ResaleService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var spec model.FilterSpec
		if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("malformed filter spec: %v", err))
			return
		}

		snap := svc.Snapshot()
		view, summary, err := svc.Query(snap, spec)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, service.ErrInvalidSpec) {
				status = http.StatusBadRequest
			} else if errors.Is(err, service.ErrNoSnapshot) {
				status = http.StatusServiceUnavailable
			}
			writeError(w, status, err)
			return
		}

		writeJSON(w, http.StatusOK, queryResponse{
			Records:   view.Records,
			Summary:   summary,
			AreaUnit:  view.AreaUnit,
			PriceMode: view.PriceMode,
		})
	}
}

func handleSnapshot(svc *service.ResaleService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := svc.Snapshot()
		if snap == nil {
			writeError(w, http.StatusServiceUnavailable, service.ErrNoSnapshot)
			return
		}

		writeJSON(w, http.StatusOK, snapshotResponse{
			RefreshedAt: snap.RefreshedAt,
			Periods:     snap.Periods,
			Towns:       snap.Towns,
			FlatTypes:   snap.FlatTypes,
			Months:      snap.Months,
			PriceMin:    snap.PriceMin,
			PriceMax:    snap.PriceMax,
			AreaSqmMin:  snap.AreaSqmMin,
			AreaSqmMax:  snap.AreaSqmMax,
			Diagnostics: snap.Diagnostics,
			Records:     snap.Records,
		})
	}
}

// handleUpdates upgrades the request to a websocket and streams snapshot
// notices until the client disconnects.
func handleUpdates(hub *service.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Error().Err(err).Msg("websocket upgrade failed")
			return
		}
		defer conn.Close()

		sub, err := hub.Subscribe()
		if err != nil {
			log.Error().Err(err).Msg("update subscription failed")
			return
		}
		defer func() {
			if err := hub.Unsubscribe(sub); err != nil {
				log.Error().Err(err).Msg("failed to unsubscribe update client")
			}
		}()

		// Reader goroutine: detect client disconnect.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		log.Info().Str("remote", r.RemoteAddr).Msg("update subscriber connected")

		for {
			select {
			case <-done:
				log.Info().Str("remote", r.RemoteAddr).Msg("update subscriber disconnected")
				return
			case u, ok := <-sub.Updates():
				if !ok {
					return
				}
				payload, err := json.Marshal(u)
				if err != nil {
					log.Error().Err(err).Msg("failed to encode update")
					continue
				}
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
					log.Warn().Err(err).Msg("failed to push update, dropping client")
					return
				}
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// envOr returns the named environment variable or a fallback.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
