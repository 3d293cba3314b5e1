// Package reconcile computes and applies the minimal set of transfers that
// makes a local font inventory and a remote one agree, resolving naming
// conflicts deterministically.
package reconcile

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/fontsync/fontsync/pkg/fingerprint"
)

// Action says what to do for one name in the plan.
type Action int

const (
	ActionSkip Action = iota
	ActionUpload
	ActionDownload
)

func (a Action) String() string {
	switch a {
	case ActionUpload:
		return "upload"
	case ActionDownload:
		return "download"
	default:
		return "skip"
	}
}

// ConflictDecision is the outcome of consulting a conflict policy for a name
// present on both sides with differing hashes.
type ConflictDecision int

const (
	// DecisionNone means the name wasn't in conflict.
	DecisionNone ConflictDecision = iota
	DecisionOverwrite
	DecisionRename
	DecisionSkip
)

func (d ConflictDecision) String() string {
	switch d {
	case DecisionOverwrite:
		return "overwrite"
	case DecisionRename:
		return "rename"
	case DecisionSkip:
		return "skip"
	default:
		return "none"
	}
}

// Step is the decision for one name.
type Step struct {
	// Name is the font's name in the local inventory.
	Name string

	Action   Action
	Conflict ConflictDecision

	// RenameTo is the collision-free name the font transfers under when
	// Conflict is DecisionRename.
	RenameTo string
}

// Plan is the ordered list of per-name decisions. Order is deterministic:
// names are visited sorted, so the same inputs always produce the same plan
// and the same prompting sequence.
type Plan []Step

// SkipOnly returns whether the plan transfers nothing, i.e. the inventories
// have converged.
func (p Plan) SkipOnly() bool {
	for _, step := range p {
		if step.Action != ActionSkip {
			return false
		}
	}
	return true
}

// Reconcile computes the transfer plan between two inventories.
//
// Names only in local are uploaded; names only in remote are downloaded;
// names on both sides with equal hashes are skipped. A name on both sides
// with differing hashes is a conflict and the policy decides: Overwrite
// uploads the local version over the remote one, Rename uploads under a
// fresh name that collides with nothing in the combined namespace, Skip
// leaves both sides alone. A policy that can't produce an answer defaults
// to Skip, never Overwrite.
func Reconcile(local, remote fingerprint.Inventory, policy Policy) Plan {
	names := make([]string, 0, len(local)+len(remote))
	seen := map[string]bool{}
	for name := range local {
		names = append(names, name)
		seen[name] = true
	}
	for name := range remote {
		if !seen[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	taken := combinedNamespace(local, remote)

	var plan Plan
	for _, name := range names {
		localHash, inLocal := local[name]
		remoteHash, inRemote := remote[name]

		switch {
		case inLocal && !inRemote:
			plan = append(plan, Step{Name: name, Action: ActionUpload})

		case !inLocal && inRemote:
			plan = append(plan, Step{Name: name, Action: ActionDownload})

		case localHash == remoteHash:
			plan = append(plan, Step{Name: name, Action: ActionSkip})

		default:
			plan = append(plan, resolveConflict(name, localHash, remoteHash, policy, taken))
		}
	}
	return plan
}

func resolveConflict(name, localHash, remoteHash string, policy Policy,
	taken map[string]bool) Step {

	decision, err := policy.Resolve(name, localHash, remoteHash)
	if err != nil {
		log.WithError(err).WithField("font", name).
			Warn("Conflict left unresolved; skipping")
		decision = DecisionSkip
	}

	switch decision {
	case DecisionOverwrite:
		return Step{Name: name, Action: ActionUpload, Conflict: DecisionOverwrite}

	case DecisionRename:
		renamed := uniqueName(name, taken)
		taken[renamed] = true
		return Step{
			Name:     name,
			Action:   ActionUpload,
			Conflict: DecisionRename,
			RenameTo: renamed,
		}

	default:
		return Step{Name: name, Action: ActionSkip, Conflict: DecisionSkip}
	}
}

// combinedNamespace is the set of names a renamed font must not collide
// with: everything known on either side.
func combinedNamespace(local, remote fingerprint.Inventory) map[string]bool {
	taken := map[string]bool{}
	for name := range local {
		taken[name] = true
	}
	for name := range remote {
		taken[name] = true
	}
	return taken
}

// uniqueName appends " (N)" before the extension, incrementing N until the
// result collides with nothing in taken.
func uniqueName(name string, taken map[string]bool) string {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s (%d)%s", stem, n, ext)
		if !taken[candidate] {
			return candidate
		}
	}
}
