package descriptor

import (
	"errors"
	"strings"
)

// Mode distinguishes a flake-mode target from a file-mode one.
type Mode int

const (
	ModeFlake Mode = iota
	ModeFile
)

// FlakeRef is a single parsed target: a repo (or file path) plus an
// optional node/profile selector suffix.
type FlakeRef struct {
	Repo    string
	Mode    Mode
	Node    *string
	Profile *string
}

// ErrProfileWithoutNode is returned when a target names a profile without
// naming a node, which is invalid at the grammar level as well as at
// resolution time (spec.md §4.1, "(_, profile): fail ProfileWithoutNode").
var ErrProfileWithoutNode = errors.New("profile given without node")

// ParseFlakeRef parses a flake-mode target: "<repo>[#<node>[.<profile>]]".
func ParseFlakeRef(target string) (FlakeRef, error) {
	repo, rest, hasSelector := strings.Cut(target, "#")
	ref := FlakeRef{Repo: repo, Mode: ModeFlake}
	if !hasSelector {
		return ref, nil
	}
	node, profile, err := parseSelectorSuffix(rest)
	if err != nil {
		return FlakeRef{}, err
	}
	ref.Node, ref.Profile = node, profile
	return ref, nil
}

// ParseFileRef parses a file-mode target. `file` is the path given via
// `-f/--file`; `target` carries the same optional node/profile suffix,
// either bare ("node.profile") or introduced with "#" for symmetry with
// flake mode.
func ParseFileRef(file, target string) (FlakeRef, error) {
	ref := FlakeRef{Repo: file, Mode: ModeFile}
	rest := target
	if _, after, ok := strings.Cut(target, "#"); ok {
		rest = after
	}
	node, profile, err := parseSelectorSuffix(rest)
	if err != nil {
		return FlakeRef{}, err
	}
	ref.Node, ref.Profile = node, profile
	return ref, nil
}

func parseSelectorSuffix(s string) (node *string, profile *string, err error) {
	if s == "" {
		return nil, nil, nil
	}
	nodePart, profilePart, hasProfile := strings.Cut(s, ".")
	if nodePart == "" {
		if hasProfile {
			return nil, nil, ErrProfileWithoutNode
		}
		return nil, nil, nil
	}
	node = &nodePart
	if hasProfile {
		profile = &profilePart
	}
	return node, profile, nil
}
