// Package planhash computes the stable content hash of a tool plan.
//
// The hash is the whole-plan cache key for raw-response reuse, so it
// must be a pure function of call and dependency content: permuting
// the input arrays, or changing plan_id/created_at, must not change
// it. Calls are canonicalized by call_id, params by key, and
// dependency edges by (from, to) pair before hashing.
package planhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/glossarium/glossarium/pkg/models"
)

// Hash returns the canonical SHA-256 hash of the plan's calls and
// dependencies. The plan is not modified.
func Hash(plan *models.ToolPlan) string {
	var sb strings.Builder

	calls := make([]models.ToolCallSpec, len(plan.ToolCalls))
	copy(calls, plan.ToolCalls)
	sort.Slice(calls, func(i, j int) bool { return calls[i].CallID < calls[j].CallID })

	for _, c := range calls {
		fmt.Fprintf(&sb, "call|%s|%s|%s|%s|%d|%t\n", c.CallID, c.Tool, c.Endpoint, c.Stage, c.Priority, c.Optional)
		keys := make([]string, 0, len(c.Params))
		for k := range c.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, "param|%s|%s\n", k, c.Params[k])
		}
	}

	deps := make([]models.PlanDependency, len(plan.Dependencies))
	copy(deps, plan.Dependencies)
	sort.Slice(deps, func(i, j int) bool {
		if deps[i].FromCallID != deps[j].FromCallID {
			return deps[i].FromCallID < deps[j].FromCallID
		}
		return deps[i].ToCallID < deps[j].ToCallID
	})
	for _, d := range deps {
		fmt.Fprintf(&sb, "dep|%s|%s\n", d.FromCallID, d.ToCallID)
	}

	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

// EnsureHash returns the plan's hash, computing and writing it back
// onto the plan when unset. A caller-supplied non-empty hash is used
// verbatim.
func EnsureHash(plan *models.ToolPlan) string {
	if plan.PlanHash == "" {
		plan.PlanHash = Hash(plan)
	}
	return plan.PlanHash
}
