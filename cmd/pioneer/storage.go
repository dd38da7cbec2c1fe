package main

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/stagesim/pioneer/internal/config"
	"github.com/stagesim/pioneer/internal/influx"
	"github.com/stagesim/pioneer/internal/storage"
	influxstorage "github.com/stagesim/pioneer/internal/storage/influx"
	"github.com/stagesim/pioneer/internal/storage/memory"
	pgstorage "github.com/stagesim/pioneer/internal/storage/postgres"
	sqlitestorage "github.com/stagesim/pioneer/internal/storage/sqlite"
	wsstorage "github.com/stagesim/pioneer/internal/storage/websocket"
)

// storageDeps carries what the backends need besides their config section.
type storageDeps struct {
	Logger    *slog.Logger
	ZeroLog   zerolog.Logger
	Clock     clock.Clock
	Start     time.Time
	ServerURL string
}

// createStorageBackend builds the backends named by cfg.Type. A comma
// separated list ("memory,influx") records to all of them. The influx
// manager is returned when one was created so ad hoc metrics can share it.
func createStorageBackend(cfg config.StorageConfig, deps storageDeps) (storage.Backend, *influx.Manager, error) {
	var (
		backends []storage.Backend
		manager  *influx.Manager
	)
	for _, name := range strings.Split(cfg.Type, ",") {
		name = strings.ToLower(strings.TrimSpace(name))
		switch name {
		case "", "memory":
			deps.Logger.Info("Memory storage backend initialized", "outputDir", cfg.Memory.OutputDir)
			backends = append(backends, memory.New(cfg.Memory))

		case "sqlite":
			backend, err := sqlitestorage.New(sqlitestorage.Config{
				DumpInterval: cfg.SQLite.DumpInterval,
				DumpPath:     dumpPathFor(cfg.SQLite.DumpPath, deps.Start),
			}, deps.Logger, deps.Clock)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to create SQLite backend: %w", err)
			}
			deps.Logger.Info("SQLite storage backend initialized", "dumpPath", backend.GetExportedFilePath())
			backends = append(backends, backend)

		case "postgres":
			backend, err := pgstorage.New(cfg.Postgres, deps.Logger, deps.Clock)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to create Postgres backend: %w", err)
			}
			deps.Logger.Info("Postgres storage backend initialized", "host", cfg.Postgres.Host)
			backends = append(backends, backend)

		case "websocket":
			wsURL := cfg.WebSocket.URL
			if wsURL == "" {
				wsURL = httpToWS(deps.ServerURL) + "/v1/stream"
			}
			deps.Logger.Info("WebSocket storage backend initialized", "url", wsURL)
			backends = append(backends, wsstorage.New(wsstorage.Config{
				URL:    wsURL,
				Secret: cfg.WebSocket.Secret,
			}, deps.Logger, deps.Clock))

		case "influx":
			if manager == nil {
				manager = influx.NewManager(cfg.Influx, deps.ZeroLog)
			}
			deps.Logger.Info("InfluxDB storage backend initialized", "url", influx.ServerURL(cfg.Influx))
			backends = append(backends, influxstorage.New(manager))

		default:
			return nil, nil, fmt.Errorf("unknown storage type %q", name)
		}
	}

	if len(backends) == 1 {
		return backends[0], manager, nil
	}
	return storage.NewMulti(backends...), manager, nil
}

// uploadables lists the backends that leave a file behind for upload.
func uploadables(b storage.Backend) []storage.Uploadable {
	if m, ok := b.(*storage.Multi); ok {
		return m.Uploadables()
	}
	if u, ok := b.(storage.Uploadable); ok {
		return []storage.Uploadable{u}
	}
	return nil
}

// dumpPathFor stamps the run start into the dump file name so runs never
// overwrite each other.
func dumpPathFor(path string, start time.Time) string {
	if path == "" {
		return ""
	}
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(filepath.Base(path), ext)
	return filepath.Join(filepath.Dir(path), fmt.Sprintf("%s_%s%s", base, start.Format("20060102_150405"), ext))
}

// httpToWS converts an HTTP(S) URL to a WebSocket URL.
func httpToWS(httpURL string) string {
	s := strings.TrimRight(httpURL, "/")
	s = strings.Replace(s, "https://", "wss://", 1)
	s = strings.Replace(s, "http://", "ws://", 1)
	return s
}
