// Package push implements the Push Pipeline (spec.md §4.5): building a
// profile's closure locally (or triggering a remote build) and copying it
// to the target node's Nix store, as two independent passes over the
// whole batch.
package push

import (
	"context"

	"deployctl/m/v2/internal/settings"
)

// BuildResult is what a Builder hands back after producing a closure for
// one work item.
type BuildResult struct {
	StorePath string
}

// Builder produces the closure to deploy for one work item. The default
// implementation shells out to a Nix build; tests and alternate backends
// substitute their own.
type Builder interface {
	Build(ctx context.Context, defs settings.DeployDefs) (BuildResult, error)
}

// Pusher copies a built closure (and a small build manifest) onto the
// target node. The default implementation uses SFTP for the closure tree
// and SCP for the manifest.
type Pusher interface {
	Push(ctx context.Context, defs settings.DeployDefs, result BuildResult) error
}

// BuildAll runs Builder.Build for every item before any Push runs,
// preserving the build-all-then-push-all ordering guarantee: a build
// failure anywhere aborts the batch before any remote mutation happens.
func BuildAll(ctx context.Context, b Builder, items []settings.DeployDefs) ([]BuildResult, error) {
	results := make([]BuildResult, len(items))
	for i, defs := range items {
		r, err := b.Build(ctx, defs)
		if err != nil {
			return nil, &BuildError{Node: defs.NodeName, Cause: err}
		}
		results[i] = r
	}
	return results, nil
}

// PushAll runs Pusher.Push for every item, in order, after BuildAll has
// succeeded for the whole batch.
func PushAll(ctx context.Context, p Pusher, items []settings.DeployDefs, results []BuildResult) error {
	for i, defs := range items {
		if err := p.Push(ctx, defs, results[i]); err != nil {
			return &PushError{Node: defs.NodeName, Cause: err}
		}
	}
	return nil
}

// BuildError names the node a build failed for, matching deploy-rs's
// BuildProfile(node, cause) error shape.
type BuildError struct {
	Node  string
	Cause error
}

func (e *BuildError) Error() string {
	return "failed to build profile for node " + e.Node + ": " + e.Cause.Error()
}
func (e *BuildError) Unwrap() error { return e.Cause }

// PushError names the node a push failed for, matching deploy-rs's
// PushProfile(node, cause) error shape.
type PushError struct {
	Node  string
	Cause error
}

func (e *PushError) Error() string {
	return "failed to push profile to node " + e.Node + ": " + e.Cause.Error()
}
func (e *PushError) Unwrap() error { return e.Cause }
