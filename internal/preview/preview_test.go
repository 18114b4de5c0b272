package preview

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"deployctl/m/v2/internal/settings"
)

func TestBuildGroupsByNodeThenProfile(t *testing.T) {
	doc := Build([]settings.DeployDefs{
		{NodeName: "n1", ProfileName: "system", ProfilePath: "/nix/store/a", Hostname: "h1"},
		{NodeName: "n1", ProfileName: "extra", ProfilePath: "/nix/store/b", Hostname: "h1"},
	})
	if len(doc) != 1 || len(doc["n1"]) != 2 {
		t.Fatalf("got %v, want one node with two profiles", doc)
	}
}

func TestConfirmYes(t *testing.T) {
	doc := Build([]settings.DeployDefs{{NodeName: "n1", ProfileName: "p"}})
	var out bytes.Buffer
	in := bufio.NewReader(strings.NewReader("yes\n"))
	if err := Confirm(&out, in, doc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestConfirmNo(t *testing.T) {
	doc := Build([]settings.DeployDefs{{NodeName: "n1", ProfileName: "p"}})
	var out bytes.Buffer
	in := bufio.NewReader(strings.NewReader("no\n"))
	if err := Confirm(&out, in, doc); err != ErrCancelled {
		t.Fatalf("got %v, want ErrCancelled", err)
	}
}

func TestConfirmSomewhatYesThenYes(t *testing.T) {
	doc := Build([]settings.DeployDefs{{NodeName: "n1", ProfileName: "p"}})
	var out bytes.Buffer
	in := bufio.NewReader(strings.NewReader("yeah i guess so\nyes\n"))
	if err := Confirm(&out, in, doc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
