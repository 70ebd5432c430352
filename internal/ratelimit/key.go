package ratelimit

import "fmt"

// KeyForDecision builds a limiter key for the resolved scope.
func KeyForDecision(accountID uint64, decision Decision) string {
	if accountID == 0 || decision.Limit <= 0 {
		return ""
	}
	switch decision.Scope {
	case ScopeAccount:
		return fmt.Sprintf("a:%d", accountID)
	default:
		return ""
	}
}
