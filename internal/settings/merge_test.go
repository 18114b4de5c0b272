package settings

import (
	"reflect"
	"testing"

	"deployctl/m/v2/internal/descriptor"
)

func strp(s string) *string { return &s }
func boolp(b bool) *bool    { return &b }
func u16p(v uint16) *uint16 { return &v }

// Property 6: for any field f, effective(f) = override ?? profile ?? node
// ?? generic. sshOpts is taken wholesale from the highest level that sets
// it, never concatenated.
func TestMergePrecedence(t *testing.T) {
	generic := descriptor.Overridable{
		SSHUser:  strp("generic-user"),
		SSHOpts:  []string{"-o", "generic=1"},
		Compress: boolp(false),
	}
	node := descriptor.Overridable{
		SSHUser: strp("node-user"),
		SSHOpts: []string{"-o", "node=1"},
	}
	profile := descriptor.Overridable{
		SSHOpts: []string{"-o", "profile=1"},
	}
	override := descriptor.Overridable{}

	eff := Merge(generic, node, profile, override, "host1")

	if eff.SSHUser != "node-user" {
		t.Errorf("SSHUser = %q, want node-user (profile/override unset)", eff.SSHUser)
	}
	if !reflect.DeepEqual(eff.SSHOpts, []string{"-o", "profile=1"}) {
		t.Errorf("SSHOpts = %v, want wholesale profile-level value, not a merge", eff.SSHOpts)
	}
	if eff.Compress {
		t.Errorf("Compress = true, want generic-level false")
	}
}

func TestMergeOverrideWins(t *testing.T) {
	generic := descriptor.Overridable{SSHUser: strp("generic-user")}
	override := descriptor.Overridable{SSHUser: strp("cli-user")}

	eff := Merge(generic, descriptor.Overridable{}, descriptor.Overridable{}, override, "host1")
	if eff.SSHUser != "cli-user" {
		t.Errorf("SSHUser = %q, want cli-user", eff.SSHUser)
	}
}

func TestMergeDefaults(t *testing.T) {
	eff := Merge(descriptor.Overridable{}, descriptor.Overridable{}, descriptor.Overridable{}, descriptor.Overridable{}, "host1")

	if eff.ConfirmTimeout != defaultConfirmTimeout {
		t.Errorf("ConfirmTimeout = %d, want default %d", eff.ConfirmTimeout, defaultConfirmTimeout)
	}
	if eff.TempPath != defaultTempPath {
		t.Errorf("TempPath = %q, want default %q", eff.TempPath, defaultTempPath)
	}
	if !eff.MagicRollback {
		t.Errorf("MagicRollback = false, want default true")
	}
	if !eff.AutoRollback {
		t.Errorf("AutoRollback = false, want default true")
	}
	if !eff.RollbackSucceeded {
		t.Errorf("RollbackSucceeded = false, want default true")
	}
	if eff.Hostname != "host1" {
		t.Errorf("Hostname = %q, want host1", eff.Hostname)
	}
}

func TestMergeOverrideHostnameWins(t *testing.T) {
	override := descriptor.Overridable{Hostname: strp("override-host")}
	eff := Merge(descriptor.Overridable{}, descriptor.Overridable{}, descriptor.Overridable{}, override, "node-declared-host")
	if eff.Hostname != "override-host" {
		t.Errorf("Hostname = %q, want override-host", eff.Hostname)
	}
}

func TestMergeConfirmTimeoutPrecedence(t *testing.T) {
	generic := descriptor.Overridable{ConfirmTimeout: u16p(10)}
	node := descriptor.Overridable{ConfirmTimeout: u16p(20)}
	eff := Merge(generic, node, descriptor.Overridable{}, descriptor.Overridable{}, "h")
	if eff.ConfirmTimeout != 20 {
		t.Errorf("ConfirmTimeout = %d, want node-level 20", eff.ConfirmTimeout)
	}
}
