// Package cli is responsible for parsing command-line arguments, validating
// user input, and handling process-level concerns like exit codes. It
// translates CLI flags into the application's internal configuration.
package cli

import (
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/vk/stagehand/internal/app"
	"github.com/vk/stagehand/internal/trigger"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Parse processes command-line arguments. It returns a populated app.Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	flagSet := flag.NewFlagSet("stagehand", flag.ContinueOnError)
	flagSet.SetOutput(output)

	flagSet.Usage = func() {
		fmt.Fprint(output, `
Stagehand - a staged pipeline orchestration engine.

Usage:
  stagehand [options] [PIPELINE_PATH]

Arguments:
  PIPELINE_PATH
    Path to a pipeline definition (.hcl, .yml or .yaml).

Options:
`)
		flagSet.PrintDefaults()
	}

	pipelineFlag := flagSet.String("pipeline", "", "Path to the pipeline definition.")
	pFlag := flagSet.String("p", "", "Path to the pipeline definition (shorthand).")
	eventFlag := flagSet.String("event", "push", "Trigger event kind. Options: 'push', 'tag', 'manual'.")
	refFlag := flagSet.String("ref", "main", "Branch or tag name the trigger refers to.")
	settingsFlag := flagSet.String("settings", "", "Path to an engine settings file.")
	logFormatFlag := flagSet.String("log-format", "text", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	continueFlag := flagSet.Bool("continue-on-failure", false, "Run later stages even after a stage fails.")
	statusPortFlag := flagSet.Int("status-port", -1, "Port for the status HTTP API. 0 disables it, -1 defers to settings.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	path := ""
	if *pipelineFlag != "" {
		path = *pipelineFlag
	} else if *pFlag != "" {
		path = *pFlag
	} else if flagSet.NArg() > 0 {
		path = flagSet.Arg(0)
	}

	if path == "" {
		flagSet.Usage()
		return nil, true, nil
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}

	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}

	event := trigger.Kind(strings.ToLower(*eventFlag))
	switch event {
	case trigger.Push, trigger.Tag, trigger.Manual:
		// valid
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid event: must be 'push', 'tag', or 'manual'"}
	}

	return &app.Config{
		PipelinePath:      path,
		SettingsPath:      *settingsFlag,
		Event:             event,
		Ref:               *refFlag,
		LogFormat:         logFormat,
		LogLevel:          logLevel,
		ContinueOnFailure: *continueFlag,
		StatusPort:        *statusPortFlag,
	}, false, nil
}
