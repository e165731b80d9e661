package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
)

const (
	ExitSuccess = 0
	ExitFailure = 1
	ExitUsage   = 2
)

// UsageError marks a bad invocation; Run maps it to ExitUsage
type UsageError struct {
	Message string
}

func (e *UsageError) Error() string {
	return e.Message
}

func usagef(format string, args ...any) error {
	return &UsageError{Message: fmt.Sprintf(format, args...)}
}

// Invocation is a parsed command line
type Invocation struct {
	Command    string
	Args       []string
	ConfigPath string

	Message  string
	Expected int
	NoRaise  bool
	Disabled bool
	Rotate   bool

	// Flags is bound into viper so --timeout and --poll-interval override
	// waiter.timeout and waiter.poll_interval.
	Flags *pflag.FlagSet
}

// argCounts lists the positional arguments each command takes as [min, max]
var argCounts = map[string][2]int{
	"wait":          {1, 1},
	"wait-error":    {1, 1},
	"wait-progress": {2, 2},
	"wait-children": {1, 1},
	"submit":        {2, 3},
	"task-id":       {1, 1},
	"history":       {1, 1},
	"watch":         {0, 4},
	"seal":          {1, 1},
}

var watchArgCounts = map[string]int{
	"add":    3,
	"list":   0,
	"delete": 1,
	"run":    1,
}

const usage = `usage: taskwatch [flags] <command> [args]

commands:
  wait <task-id>                        wait for a terminal state
  wait-error <task-id>                  wait for the task to report an error
  wait-progress <task-id> <percent>     wait for progress to reach percent
  wait-children <root-task-id>          wait for every child task
  submit <method> <endpoint> [json]     start an async operation and wait for it
  task-id <location>                    print the task ID in a Location header
  history <task-id>                     print journaled waits
  watch                                 run scheduled child watches until interrupted
  watch add <name> <root-task-id> <cron>
  watch list | delete <id> | run <id>
  seal [--rotate] <secret>              seal a secret for api.password_sealed

flags:
`

// ParseInvocation parses flags and positional arguments. Flags may appear
// before or after the command.
func ParseInvocation(args []string) (Invocation, error) {
	fs := pflag.NewFlagSet("taskwatch", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var inv Invocation
	fs.StringVarP(&inv.ConfigPath, "config", "c", "", "path to a YAML config file")
	fs.Duration("timeout", 0, "wait budget (default waiter.timeout)")
	fs.Duration("poll-interval", 0, "first poll interval (default waiter.poll_interval)")
	fs.StringVar(&inv.Message, "message", "", "message carried by the timeout error")
	fs.IntVar(&inv.Expected, "expected", 0, "child count already known to wait-children")
	fs.BoolVar(&inv.NoRaise, "no-raise", false, "log failed children instead of failing")
	fs.BoolVar(&inv.Disabled, "disabled", false, "create the watch disabled")
	fs.BoolVar(&inv.Rotate, "rotate", false, "replace the keychain sealing key before sealing")

	if err := fs.Parse(args); err != nil {
		return Invocation{}, usagef("%v", err)
	}
	inv.Flags = fs

	positional := fs.Args()
	if len(positional) == 0 {
		return Invocation{}, usagef("missing command")
	}
	inv.Command, inv.Args = positional[0], positional[1:]

	counts, ok := argCounts[inv.Command]
	if !ok {
		return Invocation{}, usagef("unknown command %q", inv.Command)
	}
	if len(inv.Args) < counts[0] || len(inv.Args) > counts[1] {
		return Invocation{}, usagef("%s: wrong number of arguments", inv.Command)
	}
	if inv.Expected < 0 {
		return Invocation{}, usagef("--expected must not be negative")
	}

	switch inv.Command {
	case "wait-progress":
		if _, err := inv.Percent(); err != nil {
			return Invocation{}, err
		}
	case "watch":
		if len(inv.Args) > 0 {
			n, ok := watchArgCounts[inv.Args[0]]
			if !ok {
				return Invocation{}, usagef("unknown watch command %q", inv.Args[0])
			}
			if len(inv.Args)-1 != n {
				return Invocation{}, usagef("watch %s: wrong number of arguments", inv.Args[0])
			}
		}
	case "submit":
		inv.Args[0] = strings.ToUpper(inv.Args[0])
	}
	return inv, nil
}

// Percent parses the wait-progress target
func (inv Invocation) Percent() (int, error) {
	percent, err := strconv.Atoi(inv.Args[1])
	if err != nil || percent < 0 || percent > 100 {
		return 0, usagef("percent must be an integer between 0 and 100, got %q", inv.Args[1])
	}
	return percent, nil
}

// Usage renders the help text
func Usage() string {
	inv, _ := ParseInvocation([]string{"task-id", "x"})
	return usage + inv.Flags.FlagUsages()
}
