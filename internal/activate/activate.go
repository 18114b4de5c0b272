// Package activate implements the Activation Orchestrator (spec.md §5):
// the per-work-item state machine that drives a pushed closure through
// activate -> wait -> confirm, including the self-healing magic-rollback
// handshake and its three independent SSH connections.
package activate

import (
	"fmt"

	"deployctl/m/v2/internal/activate/cmdbuild"
	"deployctl/m/v2/internal/descriptor"
	"deployctl/m/v2/internal/settings"
	"deployctl/m/v2/internal/sshconn"
)

// SessionHandle is the subset of *sshconn.Session the orchestrator needs,
// extracted as an interface so tests can substitute a fake SSH session
// without a real network.
type SessionHandle interface {
	WriteSudoPassword(password string) error
	Wait(cmd string) error
	Close() error
}

// Connector opens a new SSH session for a command on the node named by
// defs.NodeName. One Connector call is one independent SSH connection.
type Connector func(cmd string) (SessionHandle, error)

var _ SessionHandle = (*sshconn.Session)(nil)

// Options carries the per-invocation flags that aren't part of the
// merged settings (dry-activate, boot-time activation, debug logging).
type Options struct {
	DryActivate bool
	Boot        bool
	DebugLogs   bool
	LogDir      *string
}

func wantsSudoStdin(defs settings.DeployDefs) bool {
	return defs.InteractiveSudo || defs.SudoSecret != nil
}

func feedSudoIfNeeded(sess SessionHandle, defs settings.DeployDefs) error {
	if !wantsSudoStdin(defs) {
		return nil
	}
	pw := ""
	if defs.SudoPassword != nil {
		pw = *defs.SudoPassword
	}
	return sess.WriteSudoPassword(pw)
}

// Deploy runs the activate phase for one work item: a single activate
// command run to completion, with no separate wait or confirm command,
// when magic rollback is off (or this is a dry-activate/boot run), or the
// full three-connection magic-rollback handshake otherwise (spec.md §5,
// properties 10-11).
func Deploy(connect Connector, defs settings.DeployDefs, profileInfo descriptor.ProfileInfo, opts Options) error {
	var sudo *string
	if defs.Sudo != nil {
		sudo = defs.Sudo
	}

	activateCmd := cmdbuild.Activate(cmdbuild.ActivateData{
		Sudo:           sudo,
		ProfileInfo:    profileInfo,
		Closure:        defs.ProfilePath,
		AutoRollback:   defs.AutoRollback,
		TempPath:       defs.TempPath,
		ConfirmTimeout: defs.ConfirmTimeout,
		MagicRollback:  defs.MagicRollback,
		DebugLogs:      opts.DebugLogs,
		LogDir:         opts.LogDir,
		DryActivate:    opts.DryActivate,
		Boot:           opts.Boot,
	})

	if !defs.MagicRollback || opts.DryActivate || opts.Boot {
		return runSimpleActivate(connect, defs, activateCmd)
	}
	return runMagicRollback(connect, defs, activateCmd, opts)
}

func runSimpleActivate(connect Connector, defs settings.DeployDefs, activateCmd string) error {
	sess, err := connect(activateCmd)
	if err != nil {
		return fmt.Errorf("spawning activation command: %w", err)
	}
	if err := feedSudoIfNeeded(sess, defs); err != nil {
		sess.Close()
		return err
	}
	return sess.Wait(activateCmd)
}

// runMagicRollback implements deploy_profile's else-branch: the activate
// command is started on one connection, a wait command on a second, and
// whichever of "wait finishes" or "activate errors out" happens first
// wins the race -- mirroring tokio::select! over a oneshot channel with
// two goroutines and buffered channels.
func runMagicRollback(connect Connector, defs settings.DeployDefs, activateCmd string, opts Options) error {
	var sudo *string
	if defs.Sudo != nil {
		sudo = defs.Sudo
	}

	waitCmd := cmdbuild.Wait(cmdbuild.WaitData{
		Sudo:              sudo,
		Closure:           defs.ProfilePath,
		TempPath:          defs.TempPath,
		ActivationTimeout: defs.ActivationTimeout,
		DebugLogs:         opts.DebugLogs,
		LogDir:            opts.LogDir,
	})

	activateSess, err := connect(activateCmd)
	if err != nil {
		return fmt.Errorf("spawning activation command: %w", err)
	}
	if err := feedSudoIfNeeded(activateSess, defs); err != nil {
		activateSess.Close()
		return err
	}

	activateErr := make(chan error, 1)
	activateDone := make(chan struct{})
	go func() {
		err := activateSess.Wait(activateCmd)
		if err != nil {
			activateErr <- err
		}
		close(activateDone)
	}()

	waitSess, err := connect(waitCmd)
	if err != nil {
		return fmt.Errorf("spawning wait command: %w", err)
	}
	if err := feedSudoIfNeeded(waitSess, defs); err != nil {
		waitSess.Close()
		return err
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- waitSess.Wait(waitCmd) }()

	select {
	case err := <-waitErr:
		if err != nil {
			return fmt.Errorf("waiting for activation: %w", err)
		}
	case err := <-activateErr:
		return fmt.Errorf("activation command exited with an error: %w", err)
	}

	confirmErr := Confirm(connect, defs)
	<-activateDone

	if confirmErr != nil {
		return confirmErr
	}
	return nil
}

// Confirm runs the confirmation command (removing the lock file so the
// target's own watchdog doesn't roll back the activation). A failure here
// means the server is expected to roll back on its own.
func Confirm(connect Connector, defs settings.DeployDefs) error {
	var sudo *string
	if defs.Sudo != nil {
		sudo = defs.Sudo
	}

	lockPath := cmdbuild.MakeLockPath(defs.TempPath, defs.ProfilePath)
	confirmCmd := fmt.Sprintf("rm %s", lockPath)
	if sudo != nil {
		confirmCmd = fmt.Sprintf("%s %s", *sudo, confirmCmd)
	}

	sess, err := connect(confirmCmd)
	if err != nil {
		return fmt.Errorf("spawning confirm command (server should roll back): %w", err)
	}
	if err := feedSudoIfNeeded(sess, defs); err != nil {
		sess.Close()
		return err
	}
	if err := sess.Wait(confirmCmd); err != nil {
		return fmt.Errorf("confirming activation over ssh (server should roll back): %w", err)
	}
	return nil
}

// Revoke runs the on-target revoke command for a profile; the batch
// controller uses it to roll back a previously-succeeded activation.
func Revoke(connect Connector, defs settings.DeployDefs, profileInfo descriptor.ProfileInfo, opts Options) error {
	var sudo *string
	if defs.Sudo != nil {
		sudo = defs.Sudo
	}

	revokeCmd := cmdbuild.Revoke(cmdbuild.RevokeData{
		Sudo:        sudo,
		Closure:     defs.ProfilePath,
		ProfileInfo: profileInfo,
		DebugLogs:   opts.DebugLogs,
		LogDir:      opts.LogDir,
	})

	sess, err := connect(revokeCmd)
	if err != nil {
		return fmt.Errorf("spawning revocation command: %w", err)
	}
	if err := feedSudoIfNeeded(sess, defs); err != nil {
		sess.Close()
		return err
	}
	return sess.Wait(revokeCmd)
}
