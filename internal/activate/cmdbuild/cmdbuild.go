// Package cmdbuild builds the exact remote command strings the orchestrator
// pipes over SSH to the on-target activate-rs binary, for the activate,
// wait and revoke phases of the magic-rollback handshake (spec.md §5).
package cmdbuild

import (
	"fmt"
	"strings"

	"deployctl/m/v2/internal/descriptor"
)

// ActivateData is everything build_activate_command needs.
type ActivateData struct {
	Sudo              *string
	ProfileInfo       descriptor.ProfileInfo
	Closure           string
	AutoRollback      bool
	TempPath          string
	ConfirmTimeout    uint16
	MagicRollback     bool
	DebugLogs         bool
	LogDir            *string
	DryActivate       bool
	Boot              bool
}

// Activate builds the "activate" remote command.
func Activate(d ActivateData) string {
	cmd := fmt.Sprintf("%s/activate-rs", d.Closure)
	cmd = withDebugFlags(cmd, d.DebugLogs, d.LogDir)

	cmd = fmt.Sprintf("%s activate '%s' %s --temp-path '%s'",
		cmd, d.Closure, profileInfoFlags(d.ProfileInfo), d.TempPath)

	cmd = fmt.Sprintf("%s --confirm-timeout %d", cmd, d.ConfirmTimeout)

	if d.MagicRollback {
		cmd += " --magic-rollback"
	}
	if d.AutoRollback {
		cmd += " --auto-rollback"
	}
	if d.DryActivate {
		cmd += " --dry-activate"
	}
	if d.Boot {
		cmd += " --boot"
	}

	return withSudo(cmd, d.Sudo)
}

// WaitData is everything build_wait_command needs.
type WaitData struct {
	Sudo              *string
	Closure           string
	TempPath          string
	ActivationTimeout *uint16
	DebugLogs         bool
	LogDir            *string
}

// Wait builds the "wait" remote command.
func Wait(d WaitData) string {
	cmd := fmt.Sprintf("%s/activate-rs", d.Closure)
	cmd = withDebugFlags(cmd, d.DebugLogs, d.LogDir)

	cmd = fmt.Sprintf("%s wait '%s' --temp-path '%s'", cmd, d.Closure, d.TempPath)

	if d.ActivationTimeout != nil {
		cmd = fmt.Sprintf("%s --activation-timeout %d", cmd, *d.ActivationTimeout)
	}

	return withSudo(cmd, d.Sudo)
}

// RevokeData is everything build_revoke_command needs.
type RevokeData struct {
	Sudo        *string
	Closure     string
	ProfileInfo descriptor.ProfileInfo
	DebugLogs   bool
	LogDir      *string
}

// Revoke builds the "revoke" remote command.
func Revoke(d RevokeData) string {
	cmd := fmt.Sprintf("%s/activate-rs", d.Closure)
	cmd = withDebugFlags(cmd, d.DebugLogs, d.LogDir)

	cmd = fmt.Sprintf("%s revoke %s", cmd, profileInfoFlags(d.ProfileInfo))

	return withSudo(cmd, d.Sudo)
}

func withDebugFlags(cmd string, debugLogs bool, logDir *string) string {
	if debugLogs {
		cmd += " --debug-logs"
	}
	if logDir != nil {
		cmd = fmt.Sprintf("%s --log-dir %s", cmd, *logDir)
	}
	return cmd
}

func withSudo(cmd string, sudo *string) string {
	if sudo == nil {
		return cmd
	}
	return fmt.Sprintf("%s %s", *sudo, cmd)
}

func profileInfoFlags(pi descriptor.ProfileInfo) string {
	switch v := pi.(type) {
	case descriptor.ProfilePath:
		return fmt.Sprintf("--profile-path '%s'", v.Path)
	case descriptor.ProfileUserAndName:
		return fmt.Sprintf("--profile-user %s --profile-name %s", v.User, v.Name)
	default:
		return ""
	}
}

// SanitizeLockPath turns a closure store path into the lock-file basename
// the magic-rollback handshake coordinates on: any byte outside
// [A-Za-z0-9._-] becomes '_', so the result is always a safe
// shell-unquoted remote path fragment regardless of what's in the store
// path.
func SanitizeLockPath(closure string) string {
	var b strings.Builder
	b.Grow(len(closure))
	for i := 0; i < len(closure); i++ {
		c := closure[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '.', c == '_', c == '-':
			b.WriteByte(c)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// MakeLockPath builds the remote lock-file path the activate/confirm
// commands coordinate on: tempPath joined with a name derived from the
// closure being activated, so concurrent deployments of different
// profiles on the same node never collide on one lock file.
func MakeLockPath(tempPath, closure string) string {
	return fmt.Sprintf("%s/deploy-rs-canary-%s", strings.TrimRight(tempPath, "/"), SanitizeLockPath(closure))
}
