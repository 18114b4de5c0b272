// controller
package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"deployctl/m/v2/internal/activate"
	"deployctl/m/v2/internal/batch"
	"deployctl/m/v2/internal/descriptor"
	"deployctl/m/v2/internal/logging"
	"deployctl/m/v2/internal/preview"
	"deployctl/m/v2/internal/push"
	"deployctl/m/v2/internal/resolve"
	"deployctl/m/v2/internal/secret"
	"deployctl/m/v2/internal/settings"
	"deployctl/m/v2/internal/sshconn"
)

// opts collects every flag from spec.md §6 in one place, mirroring the
// original Opts derive struct one field at a time.
type opts struct {
	target  string
	targets []string
	file    string

	checkSigs   bool
	interactive bool
	extraArgs   []string

	debugLogs bool
	logDir    string

	skipChecks  bool
	remoteBuild bool

	sshUser     string
	profileUser string
	sshOpts     string
	compress    string // tri-state: "", "true", "false"
	fastConn    string
	autoRollback string
	hostname    string

	magicRollback     string
	confirmTimeout    uint16
	activationTimeout uint16
	tempPath          string

	dryActivate bool
	boot        bool

	rollbackSucceeded string

	sudo            string
	interactiveSudo string
	sudoFile        string
	sudoSecret      string
	sudoCacheFile   string

	verbosity int
}

func newRootCmd() *cobra.Command {
	var o opts

	cmd := &cobra.Command{
		Use:   "deployctl [target]",
		Short: "Build, push and activate Nix profiles on remote nodes",
		Args: func(cmd *cobra.Command, args []string) error {
			positional := len(args)
			if idx := cmd.ArgsLenAtDash(); idx >= 0 {
				positional = idx
			}
			if positional > 1 {
				return fmt.Errorf("accepts at most 1 target before --, received %d", positional)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			positional := args
			if idx := cmd.ArgsLenAtDash(); idx >= 0 {
				positional = args[:idx]
				o.extraArgs = args[idx:]
			}
			if len(positional) == 1 {
				o.target = positional[0]
			}
			return runDeploy(&o)
		},
	}

	flags := cmd.Flags()
	flags.StringSliceVar(&o.targets, "targets", nil, "A list of flakes to deploy alternatively")
	flags.StringVarP(&o.file, "file", "f", "", "Treat targets as files instead of flakes")
	flags.BoolVarP(&o.checkSigs, "checksigs", "c", false, "Accepted but has no effect: the closure is copied over SFTP and no signatures are checked")
	flags.BoolVarP(&o.interactive, "interactive", "i", false, "Use the interactive prompt before deployment")
	flags.BoolVarP(&o.debugLogs, "debug-logs", "d", false, "Print debug logs to output")
	flags.StringVar(&o.logDir, "log-dir", "", "Directory to print logs to")
	flags.BoolVarP(&o.skipChecks, "skip-checks", "s", false, "Accepted but has no effect: no pre-build checks are run")
	flags.BoolVar(&o.remoteBuild, "remote-build", false, "Build on remote host")
	flags.StringVar(&o.sshUser, "ssh-user", "", "Override the SSH user with the given value")
	flags.StringVar(&o.profileUser, "profile-user", "", "Override the profile user with the given value")
	flags.StringVar(&o.sshOpts, "ssh-opts", "", "Override the SSH options used")
	flags.StringVar(&o.compress, "compress", "", "Merged into the effective settings but not read by the build, push or activation steps (true/false)")
	flags.StringVar(&o.fastConn, "fast-connection", "", "Override if the node should be considered a fast connection (true/false)")
	flags.StringVar(&o.autoRollback, "auto-rollback", "", "Override if a rollback should be attempted if activation fails (true/false)")
	flags.StringVar(&o.hostname, "hostname", "", "Override hostname used for the node")
	flags.StringVar(&o.magicRollback, "magic-rollback", "", "Make activation wait for confirmation, or roll back (true/false)")
	flags.Uint16Var(&o.confirmTimeout, "confirm-timeout", 0, "How long activation should wait for confirmation")
	flags.Uint16Var(&o.activationTimeout, "activation-timeout", 0, "How long we should wait for profile activation")
	flags.StringVar(&o.tempPath, "temp-path", "", "Where to store temporary files (the magic-rollback lock file and the pushed build manifest)")
	flags.BoolVar(&o.dryActivate, "dry-activate", false, "Show what will be activated on the machines")
	flags.BoolVar(&o.boot, "boot", false, "Don't activate, update the boot loader to boot into the new profile")
	flags.StringVar(&o.rollbackSucceeded, "rollback-succeeded", "", "Revoke all previously succeeded deploys when deploying multiple profiles (true/false)")
	flags.StringVar(&o.sudo, "sudo", "", "Which sudo command to use")
	flags.StringVar(&o.interactiveSudo, "interactive-sudo", "", "Prompt for sudo password during activation (true/false)")
	flags.StringVar(&o.sudoFile, "sudo-file", "", "File for the sudo password with sops integration")
	flags.StringVar(&o.sudoSecret, "sudo-secret", "", "Key for the sudo password with sops integration")
	flags.StringVar(&o.sudoCacheFile, "sudo-cache-file", "", "Encrypted local cache of per-node sudo passwords (SPEC_FULL.md §4.3)")
	flags.IntVar(&o.verbosity, "verbosity", 1, "Increase detailed progress messages (higher is more verbose)")

	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runDeploy is the Go analogue of cli.rs's run_deploy: resolve targets,
// merge settings, resolve secrets, preview/confirm, build+push, then run
// the batch controller.
func runDeploy(o *opts) error {
	log := logging.New(logging.Level(o.verbosity), o.verbosity >= int(logging.Debug))

	if o.target != "" && len(o.targets) > 0 {
		return fmt.Errorf("a positional target and --targets cannot be used together")
	}
	targets := o.targets
	if o.target != "" {
		targets = []string{o.target}
	}
	if len(targets) == 0 {
		return fmt.Errorf("no deployment target given")
	}

	var allItems []resolve.WorkItem
	for _, target := range targets {
		ref, d, err := loadTarget(o.file, target)
		if err != nil {
			return err
		}
		items, err := resolve.Resolve(ref, d)
		if err != nil {
			return fmt.Errorf("resolving target %q: %w", target, err)
		}
		allItems = append(allItems, items...)
	}

	override := cliOverride(o)

	secretSrc := secret.Source{}

	sudoCache, cacheEntries, cacheUnlock, err := openSudoCache(o.sudoCacheFile)
	if err != nil {
		return err
	}
	cacheDirty := false

	var batchItems []batch.Item
	var defsList []settings.DeployDefs
	for _, wi := range allItems {
		defs := settings.MakeDeployDefs(wi.Descriptor.GenericSettings, *wi.Node, wi.NodeName, *wi.Profile, wi.ProfileName, override)

		if cached, ok := cacheEntries[defs.Hostname]; ok {
			pw := cached
			defs.SudoPassword = &pw
		} else {
			pw, err := secret.Resolve(defs.Hostname, defs.InteractiveSudo, defs.SudoFile, defs.SudoSecret, secretSrc)
			if err != nil {
				return fmt.Errorf("resolving sudo secret for %s: %w", wi.NodeName, err)
			}
			defs.SudoPassword = pw
			if pw != nil && sudoCache != nil {
				cacheEntries[defs.Hostname] = *pw
				cacheDirty = true
			}
		}

		profileInfo, err := settings.GetProfileInfo(defs, wi.Profile.ProfileSettings)
		if err != nil {
			return fmt.Errorf("deriving profile info for %s.%s: %w", wi.NodeName, wi.ProfileName, err)
		}

		defsList = append(defsList, defs)
		batchItems = append(batchItems, batch.Item{Defs: defs, ProfileInfo: profileInfo})
	}

	if sudoCache != nil && cacheDirty {
		if err := sudoCache.Save(cacheUnlock, cacheEntries); err != nil {
			return fmt.Errorf("saving sudo cache %s: %w", o.sudoCacheFile, err)
		}
	}

	if o.interactive {
		doc := preview.Build(defsList)
		if err := preview.Confirm(os.Stdout, bufio.NewReader(os.Stdin), doc); err != nil {
			return err
		}
	} else {
		doc := preview.Build(defsList)
		rendered, err := preview.Render(doc)
		if err == nil {
			log.Info("The following profiles are going to be deployed:\n%s", rendered)
		}
	}

	ctx := context.Background()
	builder := push.NixBuilder{ExtraArgs: o.extraArgs}
	pusher := push.SFTPSCPPusher{Dial: dialForNode, BuildHost: localHostname()}

	results, err := push.BuildAll(ctx, builder, defsList)
	if err != nil {
		return err
	}
	if err := push.PushAll(ctx, pusher, defsList, results); err != nil {
		return err
	}

	deployer := &sshDeployer{
		opts: activate.Options{
			DryActivate: o.dryActivate,
			Boot:        o.boot,
			DebugLogs:   o.debugLogs,
			LogDir:      optionalString(o.logDir),
		},
	}

	batchOpts := batch.Options{
		DryActivate:       o.dryActivate,
		RollbackSucceeded: true,
	}
	if o.rollbackSucceeded != "" {
		batchOpts.RollbackSucceeded = o.rollbackSucceeded == "true"
	}
	if o.autoRollback != "" {
		v := o.autoRollback == "true"
		batchOpts.AutoRollbackOverride = &v
	}

	if err := batch.Run(deployer, batchItems, batchOpts); err != nil {
		log.Error("%v", err)
		return err
	}

	log.Info("Deployment complete.")
	return nil
}

// openSudoCache opens the encrypted sudo-password cache named by
// sudoCacheFile (SPEC_FULL.md §4.3), prompting once for the cache's own
// unlock password. A blank path means the feature isn't in use.
func openSudoCache(sudoCacheFile string) (*secret.Cache, map[string]string, string, error) {
	if sudoCacheFile == "" {
		return nil, map[string]string{}, "", nil
	}

	unlock, err := secret.PromptPassword("Sudo cache password: ")
	if err != nil {
		return nil, nil, "", fmt.Errorf("reading sudo cache password: %w", err)
	}

	cache := secret.OpenCache(sudoCacheFile)
	entries, err := cache.Load(unlock)
	if err != nil {
		return nil, nil, "", fmt.Errorf("opening sudo cache %s: %w", sudoCacheFile, err)
	}
	return cache, entries, unlock, nil
}

// sshDeployer adapts internal/activate's Connector-based API to
// internal/batch's Deployer interface, opening one fresh SSH connection
// per remote command the way the magic-rollback protocol requires.
type sshDeployer struct {
	opts activate.Options
}

func (d *sshDeployer) Deploy(defs settings.DeployDefs, profileInfo descriptor.ProfileInfo) error {
	return activate.Deploy(connectorFor(defs), defs, profileInfo, d.opts)
}

func (d *sshDeployer) Revoke(defs settings.DeployDefs, profileInfo descriptor.ProfileInfo) error {
	return activate.Revoke(connectorFor(defs), defs, profileInfo, d.opts)
}

func connectorFor(defs settings.DeployDefs) activate.Connector {
	// Activation commands bypass the fastConnection client cache so that
	// activate, wait and confirm each get their own connection.
	fresh := defs
	fresh.FastConnection = false
	return func(cmd string) (activate.SessionHandle, error) {
		client, err := dialForNode(fresh)
		if err != nil {
			return nil, err
		}
		return sshconn.StartCommand(client, cmd)
	}
}

// sshClientCache reuses one *ssh.Client per node across a run for the
// push stage's dials when fastConnection is set (connectorFor never uses
// it for activation commands), the native-library equivalent of ssh(1)'s
// ControlPersist (there's no external control socket to share, so the
// in-process client itself is what gets kept alive and handed back).
var (
	sshClientCacheMu sync.Mutex
	sshClientCache   = map[string]*ssh.Client{}
)

func dialForNode(defs settings.DeployDefs) (*ssh.Client, error) {
	home, _ := os.UserHomeDir()
	sshDir := filepath.Join(home, ".ssh")
	knownHosts := filepath.Join(sshDir, "known_hosts")

	hostOpts, _ := settings.LoadHostOptions(settings.DefaultSSHConfigPath(), defs.Hostname)

	user := defs.SSHUser
	if user == "" {
		user = hostOpts.User
	}
	if user == "" {
		user = "root"
	}

	resolvedOpts := settings.ResolveMultiplexing(defs.EffectiveSettings, hostOpts, sshDir, defs.Hostname)
	overlay := sshconn.ParseSSHOpts(resolvedOpts)

	target := sshconn.Target{
		User:         user,
		Host:         defs.Hostname,
		Port:         firstNonEmpty(overlay.Port, hostOpts.Port),
		IdentityFile: firstNonEmpty(overlay.IdentityFile, hostOpts.IdentityFile),
		ProxyJump:    firstNonEmpty(overlay.ProxyJump, hostOpts.ProxyJump),
	}

	cacheKey := settings.SynthesizeControlPath(sshDir, user, defs.Hostname)
	if defs.FastConnection {
		sshClientCacheMu.Lock()
		if c, ok := sshClientCache[cacheKey]; ok {
			sshClientCacheMu.Unlock()
			return c, nil
		}
		sshClientCacheMu.Unlock()
	}

	dialer, err := sshconn.NewDialer(knownHosts, sshAuthMethods(), 0)
	if err != nil {
		return nil, err
	}

	client, err := dialer.Dial(target)
	if err != nil {
		return nil, err
	}

	if defs.FastConnection {
		sshClientCacheMu.Lock()
		sshClientCache[cacheKey] = client
		sshClientCacheMu.Unlock()
	}
	return client, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func sshAuthMethods() []ssh.AuthMethod {
	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil
	}
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil
	}
	return []ssh.AuthMethod{ssh.PublicKeysCallback(agent.NewClient(conn).Signers)}
}

func localHostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}

// loadTarget parses target into a flake ref and loads the descriptor it
// points at: a local file in file-mode, or the output of evaluating the
// flake's deploy output otherwise.
func loadTarget(filePath, target string) (descriptor.FlakeRef, *descriptor.Descriptor, error) {
	if filePath != "" {
		ref, err := descriptor.ParseFileRef(filePath, target)
		if err != nil {
			return descriptor.FlakeRef{}, nil, err
		}
		d, err := descriptor.LoadFile(filePath)
		if err != nil {
			return descriptor.FlakeRef{}, nil, err
		}
		if warning := descriptor.WarnIfDirty(filepath.Dir(filePath)); warning != "" {
			fmt.Fprintln(os.Stderr, warning)
		}
		return ref, &d, nil
	}

	ref, err := descriptor.ParseFlakeRef(target)
	if err != nil {
		return descriptor.FlakeRef{}, nil, err
	}

	out, err := exec.Command("nix", "eval", "--json", ref.Repo+"#deploy").Output()
	if err != nil {
		return descriptor.FlakeRef{}, nil, fmt.Errorf("evaluating deploy output of %s: %w", ref.Repo, err)
	}
	d, err := descriptor.DecodeJSON(out)
	if err != nil {
		return descriptor.FlakeRef{}, nil, err
	}
	if warning := descriptor.WarnIfDirty(strings.TrimPrefix(ref.Repo, "path:")); warning != "" {
		fmt.Fprintln(os.Stderr, warning)
	}
	return ref, &d, nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optionalBool(s string) *bool {
	if s == "" {
		return nil
	}
	v := s == "true"
	return &v
}

func optionalU16(v uint16) *uint16 {
	if v == 0 {
		return nil
	}
	return &v
}

// boolFlagOverride turns a plain on/off flag into an override: "set"
// only when the flag was actually given, which for a bare bool flag
// means "true" (false is indistinguishable from "not passed", but also
// happens to match every affected default).
func boolFlagOverride(v bool) *bool {
	if !v {
		return nil
	}
	return &v
}

// cliOverride folds the command-line flags into the Overridable record
// that sits at the top of the four-level settings precedence chain.
func cliOverride(o *opts) descriptor.Overridable {
	ov := descriptor.Overridable{
		SSHUser:           optionalString(o.sshUser),
		ProfileUser:       optionalString(o.profileUser),
		FastConnection:    optionalBool(o.fastConn),
		Compress:          optionalBool(o.compress),
		AutoRollback:      optionalBool(o.autoRollback),
		MagicRollback:     optionalBool(o.magicRollback),
		ConfirmTimeout:    optionalU16(o.confirmTimeout),
		ActivationTimeout: optionalU16(o.activationTimeout),
		TempPath:          optionalString(o.tempPath),
		Hostname:          optionalString(o.hostname),
		Sudo:              optionalString(o.sudo),
		InteractiveSudo:   optionalBool(o.interactiveSudo),
		SudoFile:          optionalString(o.sudoFile),
		SudoSecret:        optionalString(o.sudoSecret),
		RemoteBuild:       boolFlagOverride(o.remoteBuild),
		RollbackSucceeded: optionalBool(o.rollbackSucceeded),
	}
	if o.sshOpts != "" {
		ov.SSHOpts = strings.Fields(o.sshOpts)
	}
	return ov
}
