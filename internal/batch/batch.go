// Package batch implements the Batch Controller (spec.md §4.7): running
// deployment across a resolved list of work items strictly sequentially,
// and deciding whether to roll back previously-succeeded items when one
// fails.
package batch

import (
	"fmt"

	"deployctl/m/v2/internal/descriptor"
	"deployctl/m/v2/internal/settings"
)

// Item bundles everything one work item's deploy/revoke call needs.
type Item struct {
	Defs        settings.DeployDefs
	ProfileInfo descriptor.ProfileInfo
}

// Deployer is the subset of internal/activate's surface the controller
// drives, extracted as an interface so it can be tested without real SSH.
type Deployer interface {
	Deploy(defs settings.DeployDefs, profileInfo descriptor.ProfileInfo) error
	Revoke(defs settings.DeployDefs, profileInfo descriptor.ProfileInfo) error
}

// Options carries the batch-level flags that affect rollback decisions.
type Options struct {
	DryActivate bool
	// RollbackSucceeded is the effective rollbackSucceeded setting.
	RollbackSucceeded bool
	// AutoRollbackOverride mirrors cmd_overrides.auto_rollback: when
	// non-nil it gates the batch-level rollback decision regardless of
	// any individual item's own autoRollback setting.
	AutoRollbackOverride *bool
}

// DeployProfileError wraps a single item's deploy failure with the node
// it happened on, matching RunDeployError::DeployProfile.
type DeployProfileError struct {
	Node  string
	Cause error
}

func (e *DeployProfileError) Error() string {
	return fmt.Sprintf("failed to deploy profile for node %s: %v", e.Node, e.Cause)
}
func (e *DeployProfileError) Unwrap() error { return e.Cause }

// RollbackError is returned once rollback of the succeeded items (those
// with autoRollback set) has completed after a failure, matching RunDeployError::Rollback.
type RollbackError struct{ FailedNode string }

func (e *RollbackError) Error() string {
	return fmt.Sprintf("deployment failed on node %s, rolled back previously-succeeded nodes", e.FailedNode)
}

// RevokeProfileError wraps a rollback-time revoke failure, matching
// RunDeployError::RevokeProfile. This always wins over RollbackError: if
// rollback itself can't complete, that's the more urgent problem.
type RevokeProfileError struct {
	Node  string
	Cause error
}

func (e *RevokeProfileError) Error() string {
	return fmt.Sprintf("failed to revoke profile on node %s during rollback: %v", e.Node, e.Cause)
}
func (e *RevokeProfileError) Unwrap() error { return e.Cause }

// Run deploys items strictly in order (properties 7-9): a failure mid-batch
// triggers rollback of every already-succeeded item whose own
// autoRollback is set, in order, provided
// the batch-level rollbackSucceeded setting is on and the deployment
// wasn't a dry-activate run -- dry-activate failures are reported but
// never trigger a rollback, since nothing real was ever activated.
func Run(d Deployer, items []Item, opts Options) error {
	var succeeded []Item

	for _, item := range items {
		err := d.Deploy(item.Defs, item.ProfileInfo)
		if err == nil {
			succeeded = append(succeeded, item)
			continue
		}

		if opts.DryActivate {
			return &DeployProfileError{Node: item.Defs.NodeName, Cause: err}
		}

		autoRollback := opts.AutoRollbackOverride == nil || *opts.AutoRollbackOverride
		if opts.RollbackSucceeded && autoRollback {
			if revokeErr := rollback(d, succeeded); revokeErr != nil {
				return revokeErr
			}
			return &RollbackError{FailedNode: item.Defs.NodeName}
		}

		return &DeployProfileError{Node: item.Defs.NodeName, Cause: err}
	}

	return nil
}

// rollback revokes every succeeded item whose own effective autoRollback
// is true, in the order they were deployed.
func rollback(d Deployer, succeeded []Item) error {
	for _, item := range succeeded {
		if !item.Defs.AutoRollback {
			continue
		}
		if err := d.Revoke(item.Defs, item.ProfileInfo); err != nil {
			return &RevokeProfileError{Node: item.Defs.NodeName, Cause: err}
		}
	}
	return nil
}
