package batch

import (
	"errors"
	"testing"

	"deployctl/m/v2/internal/descriptor"
	"deployctl/m/v2/internal/settings"
)

type fakeDeployer struct {
	failOn  map[string]error
	deploys []string
	revokes []string
}

func (f *fakeDeployer) Deploy(defs settings.DeployDefs, _ descriptor.ProfileInfo) error {
	f.deploys = append(f.deploys, defs.NodeName)
	if err, ok := f.failOn[defs.NodeName]; ok {
		return err
	}
	return nil
}

func (f *fakeDeployer) Revoke(defs settings.DeployDefs, _ descriptor.ProfileInfo) error {
	f.revokes = append(f.revokes, defs.NodeName)
	return nil
}

func items(names ...string) []Item {
	var out []Item
	for _, n := range names {
		out = append(out, Item{Defs: settings.DeployDefs{
			NodeName:          n,
			EffectiveSettings: settings.EffectiveSettings{AutoRollback: true},
		}})
	}
	return out
}

// Property 7: a full batch with no failures deploys every item in order
// and never revokes anything.
func TestRunAllSucceed(t *testing.T) {
	f := &fakeDeployer{}
	err := Run(f, items("n1", "n2", "n3"), Options{RollbackSucceeded: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.revokes) != 0 {
		t.Fatalf("got revokes %v, want none", f.revokes)
	}
}

// Property 8: a mid-batch failure with rollbackSucceeded rolls back every
// already-succeeded item, in order, then reports RollbackError.
func TestRunMidBatchFailureRollsBack(t *testing.T) {
	f := &fakeDeployer{failOn: map[string]error{"n3": errors.New("activation failed")}}
	err := Run(f, items("n1", "n2", "n3", "n4"), Options{RollbackSucceeded: true})

	var rollbackErr *RollbackError
	if !errors.As(err, &rollbackErr) || rollbackErr.FailedNode != "n3" {
		t.Fatalf("got %v, want RollbackError for n3", err)
	}
	if len(f.deploys) != 3 {
		t.Fatalf("got deploys %v, want n1,n2,n3 only (n4 never attempted)", f.deploys)
	}
	want := []string{"n1", "n2"}
	if len(f.revokes) != len(want) || f.revokes[0] != want[0] || f.revokes[1] != want[1] {
		t.Fatalf("got revokes %v, want %v", f.revokes, want)
	}
}

// Property 9: when rollbackSucceeded is false, a failure aborts without
// revoking anything and reports the original deploy error.
func TestRunFailureWithoutRollbackSucceeded(t *testing.T) {
	f := &fakeDeployer{failOn: map[string]error{"n2": errors.New("activation failed")}}
	err := Run(f, items("n1", "n2", "n3"), Options{RollbackSucceeded: false})

	var deployErr *DeployProfileError
	if !errors.As(err, &deployErr) || deployErr.Node != "n2" {
		t.Fatalf("got %v, want DeployProfileError for n2", err)
	}
	if len(f.revokes) != 0 {
		t.Fatalf("got revokes %v, want none", f.revokes)
	}
}

func TestRunDryActivateFailureNeverRollsBack(t *testing.T) {
	f := &fakeDeployer{failOn: map[string]error{"n2": errors.New("dry activation failed")}}
	err := Run(f, items("n1", "n2", "n3"), Options{RollbackSucceeded: true, DryActivate: true})

	var deployErr *DeployProfileError
	if !errors.As(err, &deployErr) || deployErr.Node != "n2" {
		t.Fatalf("got %v, want DeployProfileError for n2", err)
	}
	if len(f.revokes) != 0 {
		t.Fatalf("got revokes %v, want none on dry-activate failure", f.revokes)
	}
}

func TestRunRollbackSkipsItemsWithAutoRollbackDisabled(t *testing.T) {
	f := &fakeDeployer{failOn: map[string]error{"n3": errors.New("boom")}}
	its := items("n1", "n2", "n3")
	its[1].Defs.AutoRollback = false

	err := Run(f, its, Options{RollbackSucceeded: true})
	var rollbackErr *RollbackError
	if !errors.As(err, &rollbackErr) {
		t.Fatalf("got %v, want RollbackError", err)
	}
	if len(f.revokes) != 1 || f.revokes[0] != "n1" {
		t.Fatalf("got revokes %v, want [n1] only (n2 has autoRollback=false)", f.revokes)
	}
}

func TestRunCmdOverrideAutoRollbackFalseSuppressesRollback(t *testing.T) {
	f := &fakeDeployer{failOn: map[string]error{"n2": errors.New("boom")}}
	override := false
	err := Run(f, items("n1", "n2"), Options{RollbackSucceeded: true, AutoRollbackOverride: &override})

	var deployErr *DeployProfileError
	if !errors.As(err, &deployErr) {
		t.Fatalf("got %v, want DeployProfileError (override suppresses rollback)", err)
	}
	if len(f.revokes) != 0 {
		t.Fatalf("got revokes %v, want none", f.revokes)
	}
}
