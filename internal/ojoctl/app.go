// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ojoctl wires the engine's domain packages together for the
// operator CLI (cmd/ojoctl): a thin cobra front end over
// internal/taskservice. It builds the same Store/Workspace/Gate/Pool/
// Runner graph a long-running daemon would, but for one-shot command
// invocations.
package ojoctl

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/Inkotake/ojo-agent/internal/authstub"
	"github.com/Inkotake/ojo-agent/internal/capability"
	"github.com/Inkotake/ojo-agent/internal/config"
	"github.com/Inkotake/ojo-agent/internal/eventbus"
	"github.com/Inkotake/ojo-agent/internal/gate"
	ojolog "github.com/Inkotake/ojo-agent/internal/log"
	"github.com/Inkotake/ojo-agent/internal/llmpool"
	"github.com/Inkotake/ojo-agent/internal/metrics"
	"github.com/Inkotake/ojo-agent/internal/pipeline"
	"github.com/Inkotake/ojo-agent/internal/secrets"
	"github.com/Inkotake/ojo-agent/internal/store"
	"github.com/Inkotake/ojo-agent/internal/store/encryption"
	"github.com/Inkotake/ojo-agent/internal/taskservice"
	"github.com/Inkotake/ojo-agent/internal/tracing"
	"github.com/Inkotake/ojo-agent/internal/workspace"
	"github.com/Inkotake/ojo-agent/pkg/observability"
	"github.com/Inkotake/ojo-agent/pkg/security/audit"
)

// App holds every long-lived component ojoctl's commands call into.
type App struct {
	Config         *config.Config
	Logger         *slog.Logger
	Store          store.Store
	Gates          *gate.Controller
	Auth           *authstub.Issuer
	Service        *taskservice.Service
	tracerProvider observability.TracerProvider
}

// NewApp loads configuration from configPath (empty uses the XDG
// default) and wires every domain package it names, the way a daemon's
// startup path would.
func NewApp(configPath string) (*App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("ojoctl: loading config: %w", err)
	}

	logger := ojolog.New(ojolog.FromEngineConfig(cfg.Log.Level, cfg.Log.Format, cfg.Log.AddSource))

	st, err := openStore(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("ojoctl: opening store: %w", err)
	}

	ws, err := workspace.NewStore(cfg.WorkspaceRoot)
	if err != nil {
		return nil, fmt.Errorf("ojoctl: opening workspace store: %w", err)
	}

	gates := gate.New(map[string]int{
		gate.GlobalTasks: cfg.Gates.GlobalTasks,
		gate.Queue:       cfg.Gates.Queue,
		gate.StageFetch:  cfg.Gates.StageFetch,
		gate.StageUpload: cfg.Gates.StageUpload,
		gate.StageSolve:  cfg.Gates.StageSolve,
		gate.LLMTotal:    cfg.Gates.LLMTotal,
	})
	for _, spec := range cfg.Providers {
		gates.Reconfigure(gate.LLMProviderGate(spec.Name), cfg.Gates.LLMPerProvider)
	}

	secretRegistry := secrets.NewRegistry()
	_ = secretRegistry.Register(secrets.NewEnvProvider(secrets.InheritEnvConfig{Enabled: true}))
	_ = secretRegistry.Register(secrets.NewFileProvider(secrets.FileProviderConfig{}))

	pool := llmpool.New(cfg.Providers, secretRegistry, gates, cfg.Gates.TaskTimeout)
	pool.Logger = logger

	events := eventbus.New(0)
	adapters := capability.NewRegistry()

	tracerProvider, err := tracing.NewProvider(context.Background(), cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("ojoctl: starting tracer provider: %w", err)
	}

	creds, _ := st.(store.CredentialStore)

	runner := &pipeline.Runner{
		Store: st, Workspace: ws, Adapters: adapters, LLMPool: pool,
		Gates: gates, Events: events, Config: *cfg, Logger: logger,
		Tracer: tracerProvider.Tracer("ojoctl"), Credentials: creds,
	}

	// Gate occupancy is sampled for the life of the process; ojoctl's
	// invocations are short enough that an explicit stop isn't needed.
	go metrics.PollGateOccupancy(context.Background(), gates, 5*time.Second)

	svc := taskservice.New(st, ws, runner, gates)
	svc.Logger = logger

	return &App{
		Config:         cfg,
		Logger:         logger,
		Store:          st,
		Gates:          gates,
		Auth:           authstub.NewIssuer([]byte(authSecret(cfg)), "ojoctl", 24*time.Hour),
		Service:        svc,
		tracerProvider: tracerProvider,
	}, nil
}

// Close flushes the tracer provider and releases the store's resources.
func (a *App) Close() error {
	if a.tracerProvider != nil {
		_ = a.tracerProvider.Shutdown(context.Background())
	}
	return a.Store.Close()
}

func openStore(cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return store.NewMemory(), nil
	case "sqlite":
		// Adapter-credential encryption is opt-in: most ojoctl invocations
		// never call PutCredential/GetCredential, and a keychain-backed
		// Encryptor needs a desktop session this CLI may not have (a
		// headless server running ojoctl over SSH, for instance). Set
		// OJO_STORE_ENCRYPTION=keyring to enable it.
		var enc encryption.Encryptor
		if os.Getenv("OJO_STORE_ENCRYPTION") == "keyring" {
			keyringEnc, err := encryption.NewKeyring("ojo-agent")
			if err != nil {
				return nil, fmt.Errorf("ojoctl: opening keychain encryptor: %w", err)
			}
			enc = keyringEnc
		}
		// Credential-access audit logging is opt-in for the same
		// reason: set OJO_AUDIT_LOG_PATH to a writable file path to
		// record every PutCredential/GetCredential call there.
		var auditLogger *audit.Logger
		if path := os.Getenv("OJO_AUDIT_LOG_PATH"); path != "" {
			logger, err := audit.NewLogger(audit.Config{
				Destinations: []audit.DestinationConfig{{Type: "file", Path: path, Format: "json"}},
			})
			if err != nil {
				return nil, fmt.Errorf("ojoctl: opening audit logger: %w", err)
			}
			auditLogger = logger
		}
		return store.NewSQLite(store.SQLiteConfig{Path: cfg.DSN, Encryptor: enc, Audit: auditLogger})
	default:
		return nil, fmt.Errorf("ojoctl: unknown store driver %q", cfg.Driver)
	}
}

// authSecret picks the HS256 secret for the CLI's own login/check stub.
// A production deployment would source this from internal/secrets;
// ojoctl runs locally, so a per-install key derived from the workspace
// root is used.
func authSecret(cfg *config.Config) string {
	return "ojoctl-local-" + cfg.WorkspaceRoot
}
