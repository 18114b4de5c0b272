// Package resolve implements the Target Resolver (spec.md §4.1): it
// expands a user-specified selector into a concrete, ordered list of
// (node, profile) work items.
package resolve

import (
	"fmt"
	"sort"

	"deployctl/m/v2/internal/descriptor"
)

// WorkItem is a single (node, profile) deployment unit.
type WorkItem struct {
	FlakeRef    descriptor.FlakeRef
	Descriptor  *descriptor.Descriptor
	NodeName    string
	Node        *descriptor.Node
	ProfileName string
	Profile     *descriptor.Profile
}

// NodeNotFoundError is returned when a selector names a node absent from
// the descriptor.
type NodeNotFoundError struct{ Name string }

func (e *NodeNotFoundError) Error() string { return fmt.Sprintf("node %q not found", e.Name) }

// ProfileNotFoundError is returned when a selector names a profile absent
// from the resolved node.
type ProfileNotFoundError struct{ Name string }

func (e *ProfileNotFoundError) Error() string { return fmt.Sprintf("profile %q not found", e.Name) }

// ErrProfileWithoutNode mirrors descriptor.ErrProfileWithoutNode at the
// resolution boundary: a (*, profile) selector never reaches the
// orchestrator.
var ErrProfileWithoutNode = descriptor.ErrProfileWithoutNode

// Resolve expands a single flake ref's (node, profile) selector against
// the descriptor it was evaluated from, per the four rules in spec.md
// §4.1.
func Resolve(ref descriptor.FlakeRef, d *descriptor.Descriptor) ([]WorkItem, error) {
	switch {
	case ref.Node != nil && ref.Profile != nil:
		return resolveSingle(ref, d, *ref.Node, *ref.Profile)
	case ref.Node != nil && ref.Profile == nil:
		return resolveNodeAllProfiles(ref, d, *ref.Node)
	case ref.Node == nil && ref.Profile == nil:
		return resolveAll(ref, d)
	default: // Node == nil && Profile != nil
		return nil, ErrProfileWithoutNode
	}
}

func resolveSingle(ref descriptor.FlakeRef, d *descriptor.Descriptor, nodeName, profileName string) ([]WorkItem, error) {
	node, ok := d.Nodes[nodeName]
	if !ok {
		return nil, &NodeNotFoundError{Name: nodeName}
	}
	profile, ok := node.NodeSettings.Profiles[profileName]
	if !ok {
		return nil, &ProfileNotFoundError{Name: profileName}
	}
	return []WorkItem{{
		FlakeRef:    ref,
		Descriptor:  d,
		NodeName:    nodeName,
		Node:        &node,
		ProfileName: profileName,
		Profile:     &profile,
	}}, nil
}

func resolveNodeAllProfiles(ref descriptor.FlakeRef, d *descriptor.Descriptor, nodeName string) ([]WorkItem, error) {
	node, ok := d.Nodes[nodeName]
	if !ok {
		return nil, &NodeNotFoundError{Name: nodeName}
	}

	names := orderedProfileNames(node.NodeSettings)

	items := make([]WorkItem, 0, len(names))
	for _, profileName := range names {
		profile := node.NodeSettings.Profiles[profileName]
		items = append(items, WorkItem{
			FlakeRef:    ref,
			Descriptor:  d,
			NodeName:    nodeName,
			Node:        &node,
			ProfileName: profileName,
			Profile:     &profile,
		})
	}
	return items, nil
}

func resolveAll(ref descriptor.FlakeRef, d *descriptor.Descriptor) ([]WorkItem, error) {
	nodeNames := make([]string, 0, len(d.Nodes))
	for nodeName := range d.Nodes {
		nodeNames = append(nodeNames, nodeName)
	}
	sort.Strings(nodeNames)

	var items []WorkItem
	for _, nodeName := range nodeNames {
		nodeItems, err := resolveNodeAllProfiles(ref, d, nodeName)
		if err != nil {
			return nil, err
		}
		items = append(items, nodeItems...)
	}
	return items, nil
}

// orderedProfileNames implements "node.profilesOrder ++ node.profiles.keys,
// emit each profile once (first occurrence wins)" (spec.md §4.1, property
// 4). Profiles not named in profilesOrder are appended in sorted order so
// the result is deterministic despite profiles being a Go map.
func orderedProfileNames(ns descriptor.NodeSettings) []string {
	seen := make(map[string]struct{}, len(ns.Profiles))
	var names []string

	for _, name := range ns.ProfilesOrder {
		if _, ok := ns.Profiles[name]; !ok {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}

	remaining := make([]string, 0, len(ns.Profiles))
	for name := range ns.Profiles {
		if _, dup := seen[name]; dup {
			continue
		}
		remaining = append(remaining, name)
	}
	sort.Strings(remaining)
	names = append(names, remaining...)

	return names
}
