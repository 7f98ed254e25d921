// Package hook implements the Hook Runner (§4.4): named lifecycle events
// that fire a fixed shell command or script, optionally capturing its
// stdout as an inline attachment.
package hook

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/google/uuid"

	"lectic/pkg/header"
	"lectic/pkg/logging"
	"lectic/pkg/message"
)

// Event is one lifecycle event a hook can bind to (§4.4).
type Event string

const (
	EventUserMessage      Event = "user_message"
	EventToolUsePre       Event = "tool_use_pre"
	EventToolUsePost      Event = "tool_use_post"
	EventAssistantMessage Event = "assistant_message"
	EventError            Event = "error"
)

// Runner fires every configured hook bound to a given event, in
// declaration order.
type Runner struct {
	specs  []header.HookSpec
	logger *logging.Logger
}

// NewRunner builds a Runner over one interlocutor's hook specs.
func NewRunner(specs []header.HookSpec, logger *logging.Logger) *Runner {
	return &Runner{specs: specs, logger: logger}
}

// Fire runs every hook bound to event with env layered over the
// process's own environment (§4.4: "hooks receive a fixed set of
// environment variables depending on the event"). Non-inline hooks are
// fire-and-observe (§4.4): a nonzero exit is logged, not returned, unless
// the hook spec says fatal, in which case Fire returns an error after
// running any remaining same-event hooks' attachments have already been
// collected.
func (r *Runner) Fire(ctx context.Context, event Event, env map[string]string) ([]message.InlineAttachment, error) {
	var attachments []message.InlineAttachment
	var fatalErr error
	for _, spec := range r.specs {
		if spec.On != string(event) {
			continue
		}
		invocationID := uuid.NewString()
		hookEnv := make(map[string]string, len(env)+1)
		for k, v := range env {
			hookEnv[k] = v
		}
		hookEnv["LECTIC_HOOK_ID"] = invocationID
		out, exitCode, runErr := run(ctx, spec.Do, hookEnv)
		if runErr != nil {
			r.log("hook failed to start", spec, exitCode, runErr, invocationID)
			if spec.Fatal && fatalErr == nil {
				fatalErr = fmt.Errorf("hook: fatal hook on %s: %w", spec.On, runErr)
			}
			continue
		}
		r.log("hook ran", spec, exitCode, nil, invocationID)
		if spec.Inline {
			attachments = append(attachments, message.InlineAttachment{
				Kind:     "hook",
				Content:  out,
				Mimetype: "text/plain",
			})
		}
		if exitCode != 0 && spec.Fatal && fatalErr == nil {
			fatalErr = fmt.Errorf("hook: fatal hook %q on %s exited %d", spec.Do, spec.On, exitCode)
		}
	}
	return attachments, fatalErr
}

func (r *Runner) log(msg string, spec header.HookSpec, exitCode int, err error, invocationID string) {
	if r.logger == nil {
		return
	}
	if err != nil {
		r.logger.Warn(msg, "on", spec.On, "id", invocationID, "error", err.Error())
		return
	}
	r.logger.Info(msg, "on", spec.On, "id", invocationID, "exit", fmt.Sprint(exitCode))
}

// run executes one hook command via "sh -c", returning its stdout, exit
// code, and a non-nil error only when the command could not be started
// at all (§4.4: "CMD is either a single shell command or a multiline
// script").
func run(ctx context.Context, cmd string, env map[string]string) (string, int, error) {
	proc := exec.CommandContext(ctx, "sh", "-c", cmd)
	proc.Env = mergeEnv(os.Environ(), env)

	var stdout bytes.Buffer
	proc.Stdout = &stdout

	if err := proc.Run(); err != nil {
		var exitErr *exec.ExitError
		if ok := asExitError(err, &exitErr); ok {
			return stdout.String(), exitErr.ExitCode(), nil
		}
		return "", -1, err
	}
	return stdout.String(), 0, nil
}

func asExitError(err error, target **exec.ExitError) bool {
	ee, ok := err.(*exec.ExitError)
	if ok {
		*target = ee
	}
	return ok
}

func mergeEnv(base []string, overlay map[string]string) []string {
	out := append([]string(nil), base...)
	for k, v := range overlay {
		out = append(out, k+"="+v)
	}
	return out
}
