// Package preview renders the pending deployment as a TOML document for
// operator review and, in interactive mode, asks for a fuzzy yes/no
// confirmation before anything runs (spec.md §6).
package preview

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/BurntSushi/toml"

	"deployctl/m/v2/internal/settings"
)

// Part is one (node, profile) entry in the preview document.
type Part struct {
	User     string   `toml:"user"`
	SSHUser  string   `toml:"ssh_user"`
	Path     string   `toml:"path"`
	Hostname string   `toml:"hostname"`
	SSHOpts  []string `toml:"ssh_opts"`
}

// Document groups parts by node name then profile name, matching the
// original's HashMap<node, HashMap<profile, PromptPart>> nesting.
type Document map[string]map[string]Part

// Build assembles a Document from the resolved work items' final settings.
func Build(defs []settings.DeployDefs) Document {
	doc := Document{}
	for _, d := range defs {
		node, ok := doc[d.NodeName]
		if !ok {
			node = map[string]Part{}
			doc[d.NodeName] = node
		}
		node[d.ProfileName] = Part{
			User:     d.ProfileUser,
			SSHUser:  d.SSHUser,
			Path:     d.ProfilePath,
			Hostname: d.Hostname,
			SSHOpts:  d.SSHOpts,
		}
	}
	return doc
}

// Render marshals doc to TOML, the way print_deployment does before
// logging it.
func Render(doc Document) (string, error) {
	var sb strings.Builder
	if err := toml.NewEncoder(&sb).Encode(doc); err != nil {
		return "", fmt.Errorf("rendering deployment preview as toml: %w", err)
	}
	return sb.String(), nil
}

// ErrCancelled is returned when the user declines the fuzzy confirmation
// prompt, or a second clarifying prompt also fails to land on "yes".
var ErrCancelled = fmt.Errorf("user cancelled deployment")

// Confirm prints the rendered preview, asks "Are you sure...?", and
// fuzzily interprets the answer: a clear yes proceeds, an answer that
// leans yes is re-asked once and proceeds only on a clear yes, and a clear
// no or an unclear answer cancels at once (the unclear case with a hint).
func Confirm(w io.Writer, r *bufio.Reader, doc Document) error {
	rendered, err := Render(doc)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "The following profiles are going to be deployed:\n%s\n", rendered)

	fmt.Fprint(w, "Are you sure you want to deploy these profiles?\n> ")
	line, err := readLine(r)
	if err != nil {
		return fmt.Errorf("reading confirmation: %w", err)
	}
	if isYes(line) {
		return nil
	}

	if isSomewhatYes(line) {
		fmt.Fprint(w, "Sounds like you might want to continue, to be more clear please just say \"yes\". Do you want to deploy these profiles?\n> ")
		line, err = readLine(r)
		if err != nil {
			return fmt.Errorf("reading confirmation: %w", err)
		}
		if isYes(line) {
			return nil
		}
		return ErrCancelled
	}

	if !isNo(line) {
		fmt.Fprintln(w, "That was unclear, but sounded like a no to me. Please say \"yes\" or \"no\" to be more clear.")
	}
	return ErrCancelled
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return line, nil
}

func isYes(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "y", "yes", "yeah", "yup", "sure", "ok", "okay":
		return true
	}
	return false
}

func isNo(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "n", "no", "nope", "nah":
		return true
	}
	return false
}

// isSomewhatYes catches answers that lean affirmative without being a
// crisp "yes" (any answer containing a "y" and no "n", e.g. "yes please",
// "yeah i guess so"), prompting one clarifying
// re-ask rather than silently treating them as a no.
func isSomewhatYes(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return false
	}
	return strings.Contains(s, "y") && !strings.Contains(s, "n")
}
