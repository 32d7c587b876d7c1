package remote

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/solo/pkg/telemetry"
)

// DefaultExecPath is the working directory for remote scripts.
const DefaultExecPath = "/tmp"

// scriptMode is the permission of saved scripts.
const scriptMode = 0o700

// CommandResult is the outcome of a successful remote command.
type CommandResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	LogPath  string
}

// CommandError reports a remote command that exited non-zero.
type CommandError struct {
	Host     string
	Command  string
	ExitCode int
	LogPath  string

	// Output is the remote log when the command logged to a file,
	// otherwise its stderr.
	Output string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("remote command on %s exited with status %d: %s\noutput: %s",
		e.Host, e.ExitCode, e.Command, e.Output)
}

// CommandOption configures ExecuteRemoteCommand.
type CommandOption func(*commandOptions)

type commandOptions struct {
	save     bool
	logPath  string
	execPath string
}

// WithoutSave runs the script inline instead of saving it to a file first.
func WithoutSave() CommandOption {
	return func(o *commandOptions) {
		o.save = false
	}
}

// WithLogPath redirects the output of a saved script to p.
func WithLogPath(p string) CommandOption {
	return func(o *commandOptions) {
		o.logPath = p
	}
}

// WithExecPath sets the directory the script runs in and is saved to.
func WithExecPath(p string) CommandOption {
	return func(o *commandOptions) {
		if p != "" {
			o.execPath = p
		}
	}
}

// ExecuteRemoteCommand runs script on the target under bash -x.
//
// By default the script is saved as <exec>/<name> with mode 0700 and run with
// its output redirected to <exec>/<name>.log. The command runs once over a
// fresh transport; a non-zero exit status yields a *CommandError.
func (r *Remote) ExecuteRemoteCommand(ctx context.Context, name, script string, opts ...CommandOption) (*CommandResult, error) {
	o := commandOptions{
		save:     true,
		execPath: DefaultExecPath,
	}
	for _, opt := range opts {
		opt(&o)
	}

	ctx, span := otel.Tracer(telemetry.InstrumentationName).Start(ctx, "remote.execute", trace.WithAttributes(
		telemetry.AttrTargetHost.String(r.target.Host),
		telemetry.AttrCommandName.String(name),
	))
	defer span.End()

	wrapped := WrapScript(o.execPath, script)
	command := wrapped
	logPath := ""

	if o.save {
		scriptPath, err := r.WriteRemoteFile(ctx, o.execPath, name, []byte(wrapped), scriptMode)
		if err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}

		logPath = o.logPath
		if logPath == "" {
			logPath = scriptPath + ".log"
		}
		command = fmt.Sprintf("%s > %s 2>&1", scriptPath, logPath)
	}

	log.Debug().
		Str("host", r.target.Host).
		Str("name", name).
		Str("command", command).
		Msg("running remote command")

	start := time.Now()
	result, err := r.dialer.Run(ctx, command)
	if err != nil {
		r.metrics.RecordRemoteCommand(name, false, time.Since(start))
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to run %s on %s: %w", name, r.target.Host, err)
	}

	span.SetAttributes(telemetry.AttrExitCode.Int(result.ExitCode))
	r.metrics.RecordRemoteCommand(name, result.ExitCode == 0, result.Duration)

	if result.ExitCode != 0 {
		cmdErr := &CommandError{
			Host:     r.target.Host,
			Command:  command,
			ExitCode: result.ExitCode,
			LogPath:  logPath,
			Output:   result.Stderr,
		}

		if logPath != "" {
			lines, rerr := r.ReadRemoteFile(ctx, logPath, RetryOnTransientError())
			if rerr != nil {
				log.Warn().Err(rerr).Str("host", r.target.Host).Str("path", logPath).Msg("failed to read remote log")
			} else {
				cmdErr.Output = strings.Join(lines, "")
			}
		}

		log.Error().
			Str("host", r.target.Host).
			Str("name", name).
			Int("exit_code", result.ExitCode).
			Str("log", logPath).
			Msg("remote command failed")

		telemetry.RecordError(span, cmdErr)
		return nil, cmdErr
	}

	log.Info().
		Str("host", r.target.Host).
		Str("name", name).
		Dur("duration", result.Duration).
		Msg("remote command succeeded")

	telemetry.RecordSuccess(span)
	return &CommandResult{
		ExitCode: result.ExitCode,
		Stdout:   result.Stdout,
		Stderr:   result.Stderr,
		LogPath:  logPath,
	}, nil
}

// WrapScript prefixes script with a bash -x shebang and a cd into execPath.
func WrapScript(execPath, script string) string {
	return fmt.Sprintf("#!/bin/bash -x\ncd %s\n%s", execPath, script)
}

// Script is a generated remote script together with how it should run.
type Script struct {
	Body string

	// Save writes the script to a file before running it.
	Save bool

	// PostRun is called after the script exits zero.
	PostRun func(ctx context.Context) error
}

// RunScript executes s as name through ExecuteRemoteCommand.
func (r *Remote) RunScript(ctx context.Context, name string, s Script, execPath, logPath string) (*CommandResult, error) {
	opts := []CommandOption{WithExecPath(execPath)}
	if !s.Save {
		opts = append(opts, WithoutSave())
	}
	if logPath != "" {
		opts = append(opts, WithLogPath(logPath))
	}

	result, err := r.ExecuteRemoteCommand(ctx, name, s.Body, opts...)
	if err != nil {
		return nil, err
	}

	if s.PostRun != nil {
		if err := s.PostRun(ctx); err != nil {
			return nil, fmt.Errorf("post-run of %s failed: %w", name, err)
		}
	}

	return result, nil
}
