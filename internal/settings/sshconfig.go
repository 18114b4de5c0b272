package settings

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kevinburke/ssh_config"
)

// HostOptions is the subset of ~/.ssh/config that the orchestrator reads
// per node (spec.md's Open Question on whether fastConnection/compress
// also adjust SSH options for activate, resolved in SPEC_FULL.md §4.2 for
// fastConnection; compress is not read here).
type HostOptions struct {
	User             string
	Port             string
	IdentityFile     string
	KnownHostsFile   string
	ControlPath      string
	ControlPersist   string
	StrictHostKeyChk string
	ProxyJump        string
}

// LoadHostOptions reads the user's ~/.ssh/config (or the given path, for
// tests) and resolves the options that apply to hostAlias, the way the
// OS ssh client itself would.
func LoadHostOptions(configPath, hostAlias string) (HostOptions, error) {
	f, err := os.Open(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return HostOptions{}, nil
		}
		return HostOptions{}, fmt.Errorf("opening ssh config %s: %w", configPath, err)
	}
	defer f.Close()

	cfg, err := ssh_config.Decode(f)
	if err != nil {
		return HostOptions{}, fmt.Errorf("decoding ssh config %s: %w", configPath, err)
	}

	get := func(key string) string {
		v, _ := cfg.Get(hostAlias, key)
		return v
	}

	opts := HostOptions{
		User:             get("User"),
		Port:             get("Port"),
		IdentityFile:     expandHome(get("IdentityFile")),
		KnownHostsFile:   expandHome(get("UserKnownHostsFile")),
		ControlPath:      expandHome(get("ControlPath")),
		ControlPersist:   get("ControlPersist"),
		StrictHostKeyChk: get("StrictHostKeyChecking"),
		ProxyJump:        get("ProxyJump"),
	}
	return opts, nil
}

// DefaultSSHConfigPath returns ~/.ssh/config, the path the orchestrator
// reads unless a test substitutes one.
func DefaultSSHConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".ssh", "config")
}

// SynthesizeControlPath deterministically derives a ControlPath for
// per-node SSH connection multiplexing when fastConnection is set and the
// node's own ssh config doesn't already name one. The path is keyed off a
// hash of user@host so concurrent deployments to distinct nodes never
// collide on the same control socket.
func SynthesizeControlPath(sshDir, user, host string) string {
	h := sha1.Sum([]byte(user + "@" + host))
	return filepath.Join(sshDir, "cm-"+hex.EncodeToString(h[:8])+".sock")
}

// ResolveMultiplexing folds fastConnection into the effective SSH
// options: when set and the host's own config has no ControlPath, a
// synthesized one with ControlMaster=auto and a 10-minute ControlPersist
// is appended so repeat connections to the same node in a batch reuse the
// same multiplexed session. Since the orchestrator links ssh natively
// instead of shelling out to ssh(1) (no external process reads these
// "-o" strings), the caller resolves the literal ControlMaster/
// ControlPersist entries for the rendered sshOpts list it passes along, and
// uses SynthesizeControlPath directly as the key of its own in-process
// *ssh.Client reuse cache -- a socket-free equivalent of the same
// connection-persistence behavior.
func ResolveMultiplexing(eff EffectiveSettings, hostOpts HostOptions, sshDir, host string) []string {
	opts := append([]string(nil), eff.SSHOpts...)
	if !eff.FastConnection {
		return opts
	}
	if hostOpts.ControlPath != "" {
		return opts
	}

	user := eff.SSHUser
	if user == "" {
		user = "root"
	}
	cp := SynthesizeControlPath(sshDir, user, host)
	opts = append(opts,
		"-o", "ControlMaster=auto",
		"-o", fmt.Sprintf("ControlPath=%s", cp),
		"-o", "ControlPersist=10m",
	)
	return opts
}

func expandHome(p string) string {
	if p == "" || !strings.HasPrefix(p, "~") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
