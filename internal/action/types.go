// Package action turns scenarios into chained action rows and prepares rows
// for execution.
package action

import "strings"

// Worker action types.
const (
	TypeSend     = "send"
	TypeRemove   = "remove"
	TypeUser     = "user"
	TypeScenario = "scenario"
)

var typeAliases = map[string]string{
	"user_state": TypeUser,
	"delete":     TypeRemove,
}

// CanonicalType resolves aliases and case.
func CanonicalType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if canon, ok := typeAliases[t]; ok {
		return canon
	}
	return t
}

// WorkerTypes are the action types with a worker loop.
var WorkerTypes = []string{TypeSend, TypeRemove, TypeUser}

// Action data keys set by the chain builder.
const (
	KeyIsFailed   = "is_failed"
	KeyFailReason = "fail_reason"

	FailAccessDenied = "access_denied"
)
