package settings

import (
	"fmt"

	"deployctl/m/v2/internal/descriptor"
)

// DeployDefs is the final, fully-resolved settings record for one work
// item: EffectiveSettings plus the profile-path derivation the on-target
// activate binary needs (spec.md §3 "DeployDefs").
type DeployDefs struct {
	EffectiveSettings
	NodeName     string
	ProfileName  string
	ProfilePath  string  // closure store path to push/build, from ProfileSettings.Path
	SudoPassword *string // filled in by the secret resolver after MakeDeployDefs, never by the descriptor
}

// MakeDeployDefs merges the four precedence levels for a single work item
// and folds in the profile's own path/name so the rest of the pipeline has
// one flat record to work from.
func MakeDeployDefs(generic descriptor.Overridable, node descriptor.Node, nodeName string, profile descriptor.Profile, profileName string, override descriptor.Overridable) DeployDefs {
	eff := Merge(generic, node.NodeSettings.Overridable, profile.Overridable, override, node.NodeSettings.Hostname)
	return DeployDefs{
		EffectiveSettings: eff,
		NodeName:          nodeName,
		ProfileName:       profileName,
		ProfilePath:       profile.ProfileSettings.Path,
	}
}

// ErrProfileNameMissing is returned by GetProfileInfo when the profile
// carries neither an explicit profilePath nor a profileName to derive one
// from.
var ErrProfileNameMissing = fmt.Errorf("profile has neither profilePath nor profileName set")

// GetProfileInfo derives the ProfileInfo the on-target activate binary
// expects: a direct path if the descriptor set one explicitly, otherwise a
// (user, name) pair built from the effective profileUser and the
// profile's own name (deploy-rs's get_profile_info/defs split, spec.md
// §3).
func GetProfileInfo(d DeployDefs, ps descriptor.ProfileSettings) (descriptor.ProfileInfo, error) {
	if ps.ProfilePath != nil {
		return descriptor.ProfilePath{Path: *ps.ProfilePath}, nil
	}
	if ps.ProfileName == nil {
		return nil, ErrProfileNameMissing
	}
	user := d.ProfileUser
	if user == "" {
		user = "default"
	}
	return descriptor.ProfileUserAndName{User: user, Name: *ps.ProfileName}, nil
}
