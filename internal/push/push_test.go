package push

import (
	"context"
	"errors"
	"testing"

	"deployctl/m/v2/internal/settings"
)

type fakeBuilder struct {
	fail map[string]error
	log  *[]string
}

func (b fakeBuilder) Build(_ context.Context, defs settings.DeployDefs) (BuildResult, error) {
	*b.log = append(*b.log, "build:"+defs.NodeName)
	if err, ok := b.fail[defs.NodeName]; ok {
		return BuildResult{}, err
	}
	return BuildResult{StorePath: "/nix/store/fake-" + defs.NodeName}, nil
}

type fakePusher struct {
	log *[]string
}

func (p fakePusher) Push(_ context.Context, defs settings.DeployDefs, _ BuildResult) error {
	*p.log = append(*p.log, "push:"+defs.NodeName)
	return nil
}

func TestBuildAllAbortsBeforeAnyPush(t *testing.T) {
	var log []string
	items := []settings.DeployDefs{
		{NodeName: "n1"}, {NodeName: "n2"}, {NodeName: "n3"},
	}
	b := fakeBuilder{fail: map[string]error{"n2": errors.New("build broke")}, log: &log}

	_, err := BuildAll(context.Background(), b, items)
	if err == nil {
		t.Fatal("expected error from failed build")
	}
	var buildErr *BuildError
	if !errors.As(err, &buildErr) || buildErr.Node != "n2" {
		t.Fatalf("got %v, want BuildError for n2", err)
	}
	if len(log) != 2 {
		t.Fatalf("got %v, want build(n1), build(n2) only -- n3 never attempted", log)
	}
}

func TestBuildAllThenPushAllOrdering(t *testing.T) {
	var log []string
	items := []settings.DeployDefs{{NodeName: "n1"}, {NodeName: "n2"}}
	b := fakeBuilder{log: &log}
	p := fakePusher{log: &log}

	results, err := BuildAll(context.Background(), b, items)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := PushAll(context.Background(), p, items, results); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"build:n1", "build:n2", "push:n1", "push:n2"}
	if len(log) != len(want) {
		t.Fatalf("got %v, want %v", log, want)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("got %v, want %v", log, want)
		}
	}
}
