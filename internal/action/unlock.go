package action

import (
	"slices"

	"github.com/alekspetrov/scenarist/internal/flat"
	"github.com/alekspetrov/scenarist/internal/store"
)

// Decide returns the next status of a hold dependent once pred is terminal:
// drop when pred's status is in chain_drop_status, pending when it is in
// unlock_status, drop otherwise. A dependent marked is_failed at build time
// becomes failed instead of pending. A non-terminal pred keeps dep on hold.
func Decide(pred, dep *store.Action) store.Status {
	if !pred.Status.IsTerminal() {
		return store.StatusHold
	}
	s := string(pred.Status)
	if slices.Contains(dep.ChainDropStatus, s) {
		return store.StatusDrop
	}
	if slices.Contains(dep.UnlockStatus, s) {
		if IsFailed(dep) {
			return store.StatusFailed
		}
		return store.StatusPending
	}
	return store.StatusDrop
}

// IsFailed reports whether the chain builder marked a's own action data as
// failed, for example after an access check.
func IsFailed(a *store.Action) bool {
	return flat.Truthy(a.ActionData[KeyIsFailed])
}

// FailReason returns the reason recorded with is_failed.
func FailReason(a *store.Action) string {
	return flat.Map(a.ActionData).String(KeyFailReason)
}
