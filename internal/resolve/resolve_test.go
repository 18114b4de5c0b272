package resolve

import (
	"errors"
	"testing"

	"deployctl/m/v2/internal/descriptor"
)

func nodeWithProfiles(order []string, names ...string) descriptor.Node {
	profiles := make(map[string]descriptor.Profile, len(names))
	for _, n := range names {
		profiles[n] = descriptor.Profile{}
	}
	return descriptor.Node{
		NodeSettings: descriptor.NodeSettings{
			Hostname:      "host",
			ProfilesOrder: order,
			Profiles:      profiles,
		},
	}
}

func strp(s string) *string { return &s }

// Property 4: profilesOrder = [a, c], profiles = {b, c, a} => [a, c, b].
func TestResolveNodeAllProfilesOrdering(t *testing.T) {
	d := &descriptor.Descriptor{
		Nodes: map[string]descriptor.Node{
			"n": nodeWithProfiles([]string{"a", "c"}, "b", "c", "a"),
		},
	}

	items, err := Resolve(descriptor.FlakeRef{Node: strp("n")}, d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got []string
	for _, it := range items {
		got = append(got, it.ProfileName)
	}

	want := []string{"a", "c", "b"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

// Property 5: (None, Some profile) always fails ProfileWithoutNode.
func TestResolveProfileWithoutNode(t *testing.T) {
	d := &descriptor.Descriptor{Nodes: map[string]descriptor.Node{}}

	_, err := Resolve(descriptor.FlakeRef{Profile: strp("p")}, d)
	if !errors.Is(err, ErrProfileWithoutNode) {
		t.Fatalf("got %v, want ErrProfileWithoutNode", err)
	}
}

func TestResolveSingleNotFound(t *testing.T) {
	d := &descriptor.Descriptor{Nodes: map[string]descriptor.Node{
		"n": nodeWithProfiles(nil, "a"),
	}}

	_, err := Resolve(descriptor.FlakeRef{Node: strp("n"), Profile: strp("missing")}, d)
	var pnf *ProfileNotFoundError
	if !errors.As(err, &pnf) {
		t.Fatalf("got %v, want ProfileNotFoundError", err)
	}

	_, err = Resolve(descriptor.FlakeRef{Node: strp("missing"), Profile: strp("a")}, d)
	var nnf *NodeNotFoundError
	if !errors.As(err, &nnf) {
		t.Fatalf("got %v, want NodeNotFoundError", err)
	}
}

func TestResolveAllIteratesAllNodes(t *testing.T) {
	d := &descriptor.Descriptor{Nodes: map[string]descriptor.Node{
		"n1": nodeWithProfiles(nil, "a"),
		"n2": nodeWithProfiles(nil, "b"),
	}}

	items, err := Resolve(descriptor.FlakeRef{}, d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
}
