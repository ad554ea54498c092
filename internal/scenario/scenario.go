// Package scenario runs the end-to-end account check used by the
// "scenario" command: connect, log in, change the password, prove the
// new one works, put the old one back, and log out.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"authclient/internal/client"
	"authclient/internal/session"
	"authclient/util"
)

// Step names, in run order.
const (
	StepConnect        = "connect"
	StepLogin          = "login"
	StepChangePassword = "change-password"
	StepVerify         = "verify-new-password"
	StepRestore        = "restore-password"
	StepCleanup        = "cleanup"
)

// Step is one timed stage of a run.
type Step struct {
	Name     string
	Err      error
	Duration time.Duration
}

// Report is the outcome of a run.
type Report struct {
	Steps      []Step
	FinalPhase session.Phase
}

// Failed returns the first failed step, or nil.
func (r *Report) Failed() *Step {
	for i := range r.Steps {
		if r.Steps[i].Err != nil {
			return &r.Steps[i]
		}
	}
	return nil
}

// String renders one line per step.
func (r *Report) String() string {
	var b strings.Builder
	for _, s := range r.Steps {
		status := "ok"
		if s.Err != nil {
			status = "FAILED: " + s.Err.Error()
		}
		fmt.Fprintf(&b, "%-20s %8s  %s\n", s.Name, s.Duration.Round(time.Millisecond), status)
	}
	fmt.Fprintf(&b, "final session phase: %s\n", r.FinalPhase)
	return b.String()
}

// DefaultCleanupTimeout bounds the restore and cleanup steps.
const DefaultCleanupTimeout = 10 * time.Second

// Runner holds the inputs of a run.
type Runner struct {
	Client      *client.Client
	UserID      string
	Password    string
	NewPassword string
	Logger      *util.Logger

	// CleanupTimeout bounds restore and cleanup, which run even after
	// the caller's context is cancelled.  Zero means DefaultCleanupTimeout.
	CleanupTimeout time.Duration
}

// Run executes the scenario.  Cleanup runs even when an earlier step
// fails.  The returned error is the first step failure, or a failure to
// leave the session empty.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	if r.NewPassword == "" || r.NewPassword == r.Password {
		return nil, errors.New("scenario: new password must differ from the current one")
	}
	logger := r.Logger.Named("scenario")
	rep := &Report{}

	step := func(name string, fn func() error) bool {
		start := time.Now()
		err := fn()
		rep.Steps = append(rep.Steps, Step{Name: name, Err: err, Duration: time.Since(start)})
		if err != nil {
			logger.Warn("%s: %v", name, err)
			return false
		}
		logger.Verbose("%s ok", name)
		return true
	}

	changed := false
	_ = step(StepConnect, func() error { return r.Client.Connect(ctx) }) &&
		step(StepLogin, func() error {
			_, err := r.Client.Login(ctx, r.UserID, r.Password)
			return err
		}) &&
		step(StepChangePassword, func() error {
			err := r.Client.ChangePassword(ctx, r.Password, r.NewPassword)
			changed = err == nil
			return err
		}) &&
		step(StepVerify, func() error {
			_, err := r.Client.Login(ctx, r.UserID, r.NewPassword)
			return err
		})

	timeout := r.CleanupTimeout
	if timeout <= 0 {
		timeout = DefaultCleanupTimeout
	}
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	// Put the original password back whenever it was changed, even if
	// the verification failed or ctx was cancelled.
	if changed {
		step(StepRestore, func() error {
			return r.Client.ChangePassword(cleanupCtx, r.NewPassword, r.Password)
		})
	}

	step(StepCleanup, func() error {
		return errors.Join(r.Client.Logout(cleanupCtx)...)
	})
	rep.FinalPhase = r.Client.State().Phase()

	if f := rep.Failed(); f != nil {
		return rep, fmt.Errorf("scenario step %s: %w", f.Name, f.Err)
	}
	if rep.FinalPhase != session.PhaseEmpty {
		return rep, fmt.Errorf("scenario: session left in phase %s", rep.FinalPhase)
	}
	return rep, nil
}
