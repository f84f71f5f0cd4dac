package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/athena-provd/athena-provd/internal/metrics"
)

const defaultScriptTimeout = 30 * time.Second

// ScriptConfig describes a single script hook binding.
type ScriptConfig struct {
	Name       string
	Events     []string
	Command    string
	Timeout    time.Duration
	Interfaces []string // Optional interface filter
}

// ScriptRunner executes script hooks in a bounded goroutine pool.
// Scripts run through /bin/sh; a full pool drops executions rather than
// queueing them behind the bus.
type ScriptRunner struct {
	logger *slog.Logger
	sem    chan struct{}
	wg     sync.WaitGroup
}

// NewScriptRunner creates a new script runner with the given concurrency limit.
func NewScriptRunner(concurrency int, logger *slog.Logger) *ScriptRunner {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &ScriptRunner{
		logger: logger,
		sem:    make(chan struct{}, concurrency),
	}
}

// Run executes a script hook for the event without blocking the caller.
// The script gets the event twice: ATHENA_* environment variables for
// shell one-liners, and the full JSON on stdin for anything richer.
func (r *ScriptRunner) Run(cfg ScriptConfig, evt Event) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		select {
		case r.sem <- struct{}{}:
			defer func() { <-r.sem }()
		default:
			r.logger.Warn("script hook pool full, dropping execution",
				"hook_name", cfg.Name,
				"event", string(evt.Type))
			return
		}

		r.execute(cfg, evt)
	}()
}

// Wait blocks until all running scripts complete.
func (r *ScriptRunner) Wait() {
	r.wg.Wait()
}

func (r *ScriptRunner) execute(cfg ScriptConfig, evt Event) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultScriptTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	stdin, err := json.Marshal(evt)
	if err != nil {
		r.logger.Error("failed to marshal event for script stdin",
			"hook_name", cfg.Name,
			"error", err)
		return
	}

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", cfg.Command)
	cmd.Stdin = bytes.NewReader(stdin)
	cmd.Env = hookEnv(cfg.Name, evt)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	err = cmd.Run()
	duration := time.Since(start)
	metrics.HookDuration.WithLabelValues("script").Observe(duration.Seconds())

	switch {
	case err == nil:
		metrics.HookExecutions.WithLabelValues("script", "success").Inc()
		r.logger.Debug("script hook completed",
			"hook_name", cfg.Name,
			"duration", duration.String(),
			"event", string(evt.Type),
			"exit_code", cmd.ProcessState.ExitCode())
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		metrics.HookExecutions.WithLabelValues("script", "error").Inc()
		r.logger.Error("script hook timed out — killed",
			"hook_name", cfg.Name,
			"command", cfg.Command,
			"timeout", timeout.String(),
			"event", string(evt.Type))
	default:
		metrics.HookExecutions.WithLabelValues("script", "error").Inc()
		r.logger.Error("script hook failed",
			"hook_name", cfg.Name,
			"command", cfg.Command,
			"error", err,
			"stderr", stderr.String(),
			"duration", duration.String(),
			"event", string(evt.Type))
	}
}

// hookEnv builds the child environment: the parent's plus the event's
// ATHENA_* variables and the hook's own name.
func hookEnv(hookName string, evt Event) []string {
	vars := evt.ToEnvVars()
	vars["ATHENA_HOOK_NAME"] = hookName

	env := os.Environ()
	for k, v := range vars {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}
