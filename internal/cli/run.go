package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"taskwatch/internal/api"
	"taskwatch/internal/config"
	"taskwatch/internal/crypto"
	"taskwatch/internal/logger"
	"taskwatch/internal/models"
	"taskwatch/internal/services/scheduler"
	"taskwatch/internal/services/tasks"
)

// errTaskNotSucceeded makes `wait` exit non-zero for failed tasks
var errTaskNotSucceeded = errors.New("task did not succeed")

// Run executes one command line and returns the process exit code
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	inv, err := ParseInvocation(args)
	if err != nil {
		fmt.Fprintf(stderr, "taskwatch: %v\n\n%s", err, Usage())
		return ExitUsage
	}

	if err := execute(ctx, inv, stdout); err != nil {
		fmt.Fprintf(stderr, "taskwatch: %v\n", err)
		var usageErr *UsageError
		if errors.As(err, &usageErr) {
			return ExitUsage
		}
		return ExitFailure
	}
	return ExitSuccess
}

func execute(ctx context.Context, inv Invocation, stdout io.Writer) error {
	// commands that need neither config nor services
	switch inv.Command {
	case "task-id":
		id, err := api.TaskIDFromLocation(inv.Args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, id)
		return nil
	case "seal":
		sealed, err := seal(inv.Args[0], inv.Rotate)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, sealed)
		return nil
	}

	v := config.New()
	if err := v.BindPFlag("waiter.timeout", inv.Flags.Lookup("timeout")); err != nil {
		return err
	}
	if err := v.BindPFlag("waiter.poll_interval", inv.Flags.Lookup("poll-interval")); err != nil {
		return err
	}
	cfg, err := config.Load(v, inv.ConfigPath)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	app, err := NewApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.Close()

	return app.dispatch(inv, stdout)
}

func (a *App) dispatch(inv Invocation, stdout io.Writer) error {
	timeout := a.cfg.Waiter.Timeout
	var waitOpts []tasks.WaitOption
	if inv.Message != "" {
		waitOpts = append(waitOpts, tasks.Message(inv.Message))
	}

	switch inv.Command {
	case "wait":
		return a.waitTerminal(inv.Args[0], timeout, waitOpts, stdout)

	case "submit":
		var payload interface{}
		if len(inv.Args) == 3 {
			if err := json.Unmarshal([]byte(inv.Args[2]), &payload); err != nil {
				return usagef("request body is not valid JSON: %v", err)
			}
		}
		taskID, err := a.client.SubmitAsync(a.ctx, inv.Args[0], inv.Args[1], payload)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, taskID)
		return a.waitTerminal(taskID, timeout, waitOpts, stdout)

	case "wait-error":
		text, err := a.tracking.WaitForError(a.ctx, inv.Args[0], timeout, waitOpts...)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, text)
		return nil

	case "wait-progress":
		percent, err := inv.Percent()
		if err != nil {
			return err
		}
		return a.tracking.WaitForProgress(a.ctx, inv.Args[0], percent, timeout, waitOpts...)

	case "wait-children":
		count, err := a.tracking.SettleChildTasks(a.ctx, inv.Args[0], inv.Expected, !inv.NoRaise)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, count)
		return nil

	case "history":
		records, err := a.tracking.History(a.ctx, inv.Args[0])
		if err != nil {
			return err
		}
		return writeJSONLines(stdout, records)

	case "watch":
		return a.watch(inv, stdout)
	}
	return usagef("unknown command %q", inv.Command)
}

func (a *App) waitTerminal(taskID string, timeout time.Duration, opts []tasks.WaitOption, stdout io.Writer) error {
	state, err := a.tracking.WaitForTerminalState(a.ctx, taskID, timeout, opts...)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, state)
	if !models.State(state).IsSuccess() {
		return fmt.Errorf("%w: %s is %s", errTaskNotSucceeded, taskID, state)
	}
	return nil
}

func (a *App) watch(inv Invocation, stdout io.Writer) error {
	if len(inv.Args) == 0 {
		return a.serveWatches()
	}

	switch inv.Args[0] {
	case "add":
		id, err := a.scheduler.UpsertWatch(scheduler.UpsertWatchRequest{
			Name:           inv.Args[1],
			RootTaskID:     inv.Args[2],
			Cron:           inv.Args[3],
			RaiseOnFailure: !inv.NoRaise,
			Enabled:        !inv.Disabled,
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, id)
		return nil
	case "list":
		watches, err := a.scheduler.ListWatches()
		if err != nil {
			return err
		}
		return writeJSONLines(stdout, watches)
	case "delete":
		return a.scheduler.DeleteWatch(inv.Args[1])
	case "run":
		return a.scheduler.RunWatch(inv.Args[1])
	}
	return usagef("unknown watch command %q", inv.Args[0])
}

// serveWatches runs the scheduler until the command context is cancelled
func (a *App) serveWatches() error {
	if err := a.scheduler.Start(); err != nil {
		return err
	}
	<-a.ctx.Done()
	a.log.Info("shutting down watches")
	return nil
}

// seal encrypts secret with the sealing key. rotate drops the keychain key
// first so a fresh one is generated; secrets sealed earlier no longer open.
func seal(secret string, rotate bool) (string, error) {
	if rotate {
		if os.Getenv(crypto.KeyEnv) != "" {
			return "", fmt.Errorf("cannot rotate a key taken from %s", crypto.KeyEnv)
		}
		if crypto.IsKeyStored() {
			if err := crypto.DeleteKey(); err != nil {
				return "", fmt.Errorf("failed to delete keychain key: %w", err)
			}
		}
	}

	key, err := crypto.LoadKey(nil)
	if err != nil {
		return "", err
	}
	c, err := crypto.NewCipher(key)
	if err != nil {
		return "", err
	}
	return c.Seal(secret)
}

func writeJSONLines[T any](w io.Writer, items []T) error {
	enc := json.NewEncoder(w)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			return fmt.Errorf("failed to encode output: %w", err)
		}
	}
	return nil
}
