// Package settings implements the Settings Merger (spec.md §4.2): folding
// the four-level configuration hierarchy (generic < node < profile < CLI
// override) into a single Effective Settings record per work item, plus
// deriving the final DeployDefs used by the rest of the pipeline.
package settings

import "deployctl/m/v2/internal/descriptor"

// EffectiveSettings is the merged, defaulted settings record for one work
// item (spec.md §3 "Effective Settings").
type EffectiveSettings struct {
	SSHUser           string
	ProfileUser       string
	SSHOpts           []string
	FastConnection    bool
	Compress          bool
	AutoRollback      bool
	MagicRollback     bool
	ConfirmTimeout    uint16
	ActivationTimeout *uint16
	TempPath          string
	Hostname          string
	Sudo              *string
	InteractiveSudo   bool
	SudoFile          *string
	SudoSecret        *string
	RemoteBuild       bool
	RollbackSucceeded bool
}

const (
	defaultConfirmTimeout uint16 = 30
	defaultTempPath              = "/tmp"
)

// Merge collapses generic < node < profile < override into one
// EffectiveSettings record (spec.md §4.2, property 6: for any field f,
// effective(f) = override ?? profile ?? node ?? generic). sshOpts is taken
// wholesale from the highest level that sets it, never concatenated.
func Merge(generic, node, profile, override descriptor.Overridable, nodeHostname string) EffectiveSettings {
	eff := EffectiveSettings{
		SSHUser:           derefStr(coalesceStr(override.SSHUser, profile.SSHUser, node.SSHUser, generic.SSHUser)),
		ProfileUser:       derefStr(coalesceStr(override.ProfileUser, profile.ProfileUser, node.ProfileUser, generic.ProfileUser)),
		SSHOpts:           coalesceOpts(override.SSHOpts, profile.SSHOpts, node.SSHOpts, generic.SSHOpts),
		FastConnection:    derefBool(coalesceBool(override.FastConnection, profile.FastConnection, node.FastConnection, generic.FastConnection), false),
		Compress:          derefBool(coalesceBool(override.Compress, profile.Compress, node.Compress, generic.Compress), false),
		AutoRollback:      derefBool(coalesceBool(override.AutoRollback, profile.AutoRollback, node.AutoRollback, generic.AutoRollback), true),
		MagicRollback:     derefBool(coalesceBool(override.MagicRollback, profile.MagicRollback, node.MagicRollback, generic.MagicRollback), true),
		ConfirmTimeout:    derefU16(coalesceU16(override.ConfirmTimeout, profile.ConfirmTimeout, node.ConfirmTimeout, generic.ConfirmTimeout), defaultConfirmTimeout),
		ActivationTimeout: coalesceU16(override.ActivationTimeout, profile.ActivationTimeout, node.ActivationTimeout, generic.ActivationTimeout),
		TempPath:          derefStr(coalesceStr(override.TempPath, profile.TempPath, node.TempPath, generic.TempPath)),
		Hostname:          nodeHostname,
		Sudo:              coalesceStr(override.Sudo, profile.Sudo, node.Sudo, generic.Sudo),
		InteractiveSudo:   derefBool(coalesceBool(override.InteractiveSudo, profile.InteractiveSudo, node.InteractiveSudo, generic.InteractiveSudo), false),
		SudoFile:          coalesceStr(override.SudoFile, profile.SudoFile, node.SudoFile, generic.SudoFile),
		SudoSecret:        coalesceStr(override.SudoSecret, profile.SudoSecret, node.SudoSecret, generic.SudoSecret),
		RemoteBuild:       derefBool(coalesceBool(override.RemoteBuild, profile.RemoteBuild, node.RemoteBuild, generic.RemoteBuild), false),
		RollbackSucceeded: derefBool(coalesceBool(override.RollbackSucceeded, profile.RollbackSucceeded, node.RollbackSucceeded, generic.RollbackSucceeded), true),
	}
	if eff.TempPath == "" {
		eff.TempPath = defaultTempPath
	}
	if override.Hostname != nil {
		eff.Hostname = *override.Hostname
	}
	return eff
}

func coalesceStr(vals ...*string) *string {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}

func coalesceBool(vals ...*bool) *bool {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}

func coalesceU16(vals ...*uint16) *uint16 {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}

// coalesceOpts picks sshOpts wholesale from the highest-precedence level
// that sets it (a nil slice means "not set at this level"; an explicitly
// empty, non-nil slice counts as set).
func coalesceOpts(levels ...[]string) []string {
	for _, l := range levels {
		if l != nil {
			return l
		}
	}
	return nil
}

func derefStr(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func derefBool(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func derefU16(p *uint16, def uint16) uint16 {
	if p == nil {
		return def
	}
	return *p
}
