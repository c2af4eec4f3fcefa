// Copyright 2025 Casey Haldane
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

package run

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/haldane/stepflow/internal/commands/shared"
	"github.com/haldane/stepflow/internal/config"
	"github.com/haldane/stepflow/internal/log"
	"github.com/haldane/stepflow/internal/steps"
	"github.com/haldane/stepflow/internal/store"
	"github.com/haldane/stepflow/internal/telemetry"
	"github.com/haldane/stepflow/internal/watch"
	"github.com/haldane/stepflow/pkg/engine"
	"github.com/haldane/stepflow/pkg/errors"
	"github.com/haldane/stepflow/pkg/workflow"
)

// runWorkflow loads configuration and the definition, wires an engine,
// and executes to a terminal status. With --watch it keeps re-executing
// on definition changes until interrupted.
func runWorkflow(ctx context.Context, path string, opts options) error {
	cfg, err := config.Load(shared.GetConfigPath())
	if err != nil {
		return shared.NewConfigError("loading configuration", err)
	}
	applyFlagOverrides(cfg, opts)

	logger := newLogger(cfg)

	version, _, _ := shared.GetVersion()
	tel, err := telemetry.New(telemetry.Options{
		ServiceVersion: version,
		TracesEnabled:  cfg.Telemetry.TracesEnabled,
		MetricsAddr:    cfg.Telemetry.MetricsAddr,
		Logger:         log.WithComponent(logger, "telemetry"),
	})
	if err != nil {
		return shared.NewConfigError("starting telemetry", err)
	}
	defer tel.Shutdown(context.WithoutCancel(ctx))

	st, err := openStore(cfg)
	if err != nil {
		return shared.NewConfigError("opening execution store", err)
	}
	defer st.Close()

	registry := engine.NewMapRegistry()
	if err := steps.RegisterAll(registry); err != nil {
		return shared.NewConfigError("registering builtin steps", err)
	}

	eng, err := engine.New(registry, st,
		engine.WithLogger(logger),
		engine.WithMaxParallel(cfg.Engine.MaxParallel),
		engine.WithCacheConfig(engine.CacheConfig{
			MemoryItemLimit: cfg.Cache.MemoryItemLimit,
			MaxEntries:      cfg.Cache.MaxEntries,
		}),
	)
	if err != nil {
		return shared.NewConfigError("constructing engine", err)
	}

	inputs, err := collectInputs(opts.inputs, opts.inputFile)
	if err != nil {
		return shared.NewInvalidInputError("parsing workflow inputs", err)
	}

	if !opts.watch {
		return executeOnce(ctx, eng, cfg, path, inputs, opts)
	}
	return executeWatching(ctx, eng, cfg, path, inputs, opts, logger)
}

// executeOnce runs the definition a single time and renders the result.
func executeOnce(ctx context.Context, eng *engine.Engine, cfg *config.Config, path string, inputs map[string]any, opts options) error {
	def, err := loadDefinition(cfg, path, opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	cancelOnInterrupt(ctx, eng)

	rec, runErr := eng.Execute(ctx, def, inputs)
	if rec == nil {
		if errors.IsValidation(runErr) || isGraphError(runErr) {
			return shared.NewInvalidWorkflowError("", runErr)
		}
		return shared.NewExecutionError("executing workflow", runErr)
	}

	if err := renderRecord(rec, opts.outputFile); err != nil {
		return shared.NewExecutionError("writing execution record", err)
	}

	switch rec.Status {
	case engine.StatusCancelled:
		return shared.NewCancelledError("", nil)
	case engine.StatusFailed:
		if isGraphError(runErr) {
			return shared.NewInvalidWorkflowError("", runErr)
		}
		return &shared.ExitError{Code: shared.ExitExecutionFailed, Message: ""}
	}
	return nil
}

// executeWatching re-runs the definition on every change signal. A run
// failure under watch is reported but does not stop watching; only an
// interrupt does.
func executeWatching(ctx context.Context, eng *engine.Engine, cfg *config.Config, path string, inputs map[string]any, opts options, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	w, err := watch.New(path, watch.Options{
		MaxRunsPerMinute: 30,
	})
	if err != nil {
		return shared.NewConfigError("watching definition", err)
	}
	w.Start(ctx)
	defer w.Stop()

	runOnce := func() {
		def, err := loadDefinition(cfg, path, opts)
		if err != nil {
			logger.Error("definition invalid, waiting for next change", "error", err.Error())
			return
		}
		rec, runErr := eng.Execute(ctx, def, inputs)
		if rec == nil {
			logger.Error("execution did not start", "error", runErr.Error())
			return
		}
		if err := renderRecord(rec, opts.outputFile); err != nil {
			logger.Error("writing execution record failed", "error", err.Error())
		}
	}

	runOnce()
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-w.Runs():
			if !ok {
				return nil
			}
			logger.Info("definition changed, re-running", "change", evt.Change)
			runOnce()
		}
	}
}

// cancelOnInterrupt flips the running execution to cancelled when the
// context is interrupted. The execution id is captured from the started
// event, so cancellation reaches the record even though Execute has not
// returned yet.
func cancelOnInterrupt(ctx context.Context, eng *engine.Engine) {
	var mu sync.Mutex
	var executionID string

	eng.Events().On(engine.EventExecutionStarted, func(_ context.Context, event *engine.Event) error {
		mu.Lock()
		executionID = event.ExecutionID
		mu.Unlock()
		return nil
	})

	go func() {
		<-ctx.Done()
		mu.Lock()
		id := executionID
		mu.Unlock()
		if id == "" {
			return
		}
		// Best effort: the execution may already be terminal.
		_ = eng.Cancel(context.WithoutCancel(ctx), id, "interrupted", "user")
	}()
}

// loadDefinition parses the definition file and applies command-line and
// configuration overrides.
func loadDefinition(cfg *config.Config, path string, opts options) (*workflow.Definition, error) {
	def, err := workflow.LoadFile(path)
	if err != nil {
		return nil, shared.NewInvalidWorkflowError("", err)
	}

	if opts.mode != "" {
		def.Mode = workflow.ExecutionMode(opts.mode)
	} else if def.Mode == "" {
		def.Mode = workflow.ExecutionMode(cfg.Engine.Mode)
	}
	if opts.errorPolicy != "" {
		def.ErrorPolicy = workflow.ErrorPolicy(opts.errorPolicy)
	} else if def.ErrorPolicy == "" {
		def.ErrorPolicy = workflow.ErrorPolicy(cfg.Engine.ErrorPolicy)
	}

	// Definitions that declare no node timeout inherit the configured
	// default.
	if cfg.Engine.NodeTimeout > 0 {
		for i := range def.Nodes {
			if def.Nodes[i].Timeout == 0 {
				def.Nodes[i].Timeout = int(cfg.Engine.NodeTimeout.Seconds())
			}
		}
	}

	if err := def.Validate(); err != nil {
		return nil, shared.NewInvalidWorkflowError("", err)
	}
	return def, nil
}

// applyFlagOverrides overlays run flags on the loaded configuration.
func applyFlagOverrides(cfg *config.Config, opts options) {
	if opts.store != "" {
		cfg.Store.Driver = opts.store
	}
	if opts.storePath != "" {
		cfg.Store.Path = opts.storePath
	}
	if opts.maxParallel > 0 {
		cfg.Engine.MaxParallel = opts.maxParallel
	}
}

// openStore constructs the execution store the configuration selects.
func openStore(cfg *config.Config) (engine.Store, error) {
	switch cfg.Store.Driver {
	case config.DriverSQLite:
		return store.New(store.Config{
			Path:             cfg.Store.Path,
			EnableEncryption: cfg.Store.EncryptionEnabled,
		})
	default:
		return engine.NewMemoryStore(), nil
	}
}

// newLogger builds the process logger from configuration, respecting the
// global verbosity flags.
func newLogger(cfg *config.Config) *slog.Logger {
	logCfg := &log.Config{
		Level:  cfg.Log.Level,
		Format: log.Format(cfg.Log.Format),
		Output: os.Stderr,
	}
	if shared.GetVerbose() {
		logCfg.Level = "debug"
	}
	if shared.GetQuiet() {
		logCfg.Level = "error"
	}
	return log.New(logCfg)
}

func isGraphError(err error) bool {
	return errors.IsGraphError(err, errors.KindCycle) ||
		errors.IsGraphError(err, errors.KindDeadlock) ||
		errors.IsGraphError(err, errors.KindUnknownReference)
}

// renderRecord prints the execution result and optionally writes the
// full record to a file.
func renderRecord(rec *engine.ExecutionRecord, outputFile string) error {
	if outputFile != "" {
		data, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding execution record: %w", err)
		}
		if err := os.WriteFile(outputFile, append(data, '\n'), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", outputFile, err)
		}
	}

	if shared.GetJSON() {
		return emitRecordJSON(rec)
	}
	if !shared.GetQuiet() {
		printRecordText(rec)
	}
	return nil
}

// emitRecordJSON writes the record inside the standard JSON envelope.
func emitRecordJSON(rec *engine.ExecutionRecord) error {
	type response struct {
		shared.JSONResponse
		Execution *engine.ExecutionRecord `json:"execution"`
	}
	return shared.EmitJSON(response{
		JSONResponse: shared.JSONResponse{
			Version: "1.0",
			Command: "run",
			Success: rec.Status == engine.StatusCompleted,
		},
		Execution: rec,
	})
}

// printRecordText prints a human-readable execution summary.
func printRecordText(rec *engine.ExecutionRecord) {
	fmt.Printf("Execution %s (%s): %s\n", rec.ID, rec.WorkflowName, rec.Status)
	for i := range rec.Snapshots {
		snap := &rec.Snapshots[i]
		switch snap.Status {
		case engine.NodeStatusFailed:
			fmt.Printf("  ✗ %-20s %6dms  %s\n", snap.NodeID, snap.DurationMs, snap.Error)
		case engine.NodeStatusSkipped:
			fmt.Printf("  - %-20s skipped\n", snap.NodeID)
		default:
			fmt.Printf("  ✓ %-20s %6dms  %d items\n", snap.NodeID, snap.DurationMs, snap.Metrics.ItemsProcessed)
		}
	}
	m := rec.Metrics
	fmt.Printf("%d completed, %d failed, %d skipped in %dms (%.1f items/s)\n",
		m.NodesCompleted, m.NodesFailed, m.NodesSkipped, m.TotalDurationMs, m.DataThroughput)
	if rec.Cancellation != nil {
		fmt.Printf("Cancelled by %s: %s\n", rec.Cancellation.Actor, rec.Cancellation.Reason)
	}
	if rec.Error != "" {
		fmt.Printf("Error: %s\n", rec.Error)
	}
}
