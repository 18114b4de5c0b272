// Package descriptor holds the deployment descriptor data model: the
// nodes/profiles tree evaluated by the external flake evaluator, plus the
// flake-ref grammar used to select work out of it.
package descriptor

// Overridable is the set of fields that can be set at any of the four
// precedence levels (generic, node, profile, CLI override). A nil/zero
// pointer means "not set at this level" and falls through to the next
// level down in the chain.
type Overridable struct {
	SSHUser           *string  `json:"sshUser,omitempty"`
	ProfileUser       *string  `json:"user,omitempty"`
	SSHOpts           []string `json:"sshOpts,omitempty"`
	FastConnection    *bool    `json:"fastConnection,omitempty"`
	Compress          *bool    `json:"compress,omitempty"`
	AutoRollback      *bool    `json:"autoRollback,omitempty"`
	MagicRollback     *bool    `json:"magicRollback,omitempty"`
	ConfirmTimeout    *uint16  `json:"confirmTimeout,omitempty"`
	ActivationTimeout *uint16  `json:"activationTimeout,omitempty"`
	TempPath          *string  `json:"tempPath,omitempty"`
	Hostname          *string  `json:"hostname,omitempty"`
	Sudo              *string  `json:"sudo,omitempty"`
	InteractiveSudo   *bool    `json:"interactiveSudo,omitempty"`
	SudoFile          *string  `json:"sudoFile,omitempty"`
	SudoSecret        *string  `json:"sudoSecret,omitempty"`
	RemoteBuild       *bool    `json:"remoteBuild,omitempty"`
	RollbackSucceeded *bool    `json:"rollbackSucceeded,omitempty"`
}

// ProfileSettings identifies the closure to push and the symlink it
// activates to on the target.
type ProfileSettings struct {
	Path        string  `json:"path"`
	ProfilePath *string `json:"profilePath,omitempty"`
	ProfileUser *string `json:"profileUser,omitempty"`
	ProfileName *string `json:"profileName,omitempty"`
}

// Profile is one named deployable unit of a node.
type Profile struct {
	ProfileSettings ProfileSettings `json:"profileSettings"`
	Overridable
}

// NodeSettings carries the node-level overrides plus its profile map.
type NodeSettings struct {
	Hostname      string             `json:"hostname"`
	ProfilesOrder []string           `json:"profilesOrder,omitempty"`
	Profiles      map[string]Profile `json:"profiles"`
	Overridable
}

// Node is one deployment target host.
type Node struct {
	NodeSettings NodeSettings `json:"nodeSettings"`
}

// Descriptor is the full tree produced by the external flake evaluator.
type Descriptor struct {
	GenericSettings Overridable     `json:"genericSettings"`
	Nodes           map[string]Node `json:"nodes"`
}

// ProfileInfo is the sum type the on-target activate-rs binary expects:
// either a direct profile-path symlink, or a (user, name) pair it derives
// the path from. Rendered as an interface since Go has no closed enum.
type ProfileInfo interface {
	profileInfo()
}

// ProfilePath identifies the profile by its absolute symlink path.
type ProfilePath struct {
	Path string
}

func (ProfilePath) profileInfo() {}

// ProfileUserAndName identifies the profile by the owning user and name,
// letting the on-target binary derive the symlink path itself.
type ProfileUserAndName struct {
	User string
	Name string
}

func (ProfileUserAndName) profileInfo() {}
