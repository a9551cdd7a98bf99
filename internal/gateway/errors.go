package gateway

import (
	"errors"
	"fmt"
	"strings"
)

// Error is a non-2xx or undecodable gateway response. Description may contain
// gateway internals and must not be echoed to buyers.
type Error struct {
	StatusCode  int
	Code        string
	Description string
	Op          string
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway %s failed: status=%d code=%s: %s", e.Op, e.StatusCode, e.Code, e.Description)
}

type errorBody struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
		Reason      string `json:"reason"`
	} `json:"error"`
}

// IsAlreadyCaptured reports whether err is the gateway refusing a capture because
// the payment was captured before (by auto-capture or an earlier call).
func IsAlreadyCaptured(err error) bool {
	var gwErr *Error
	if !errors.As(err, &gwErr) {
		return false
	}
	return strings.Contains(strings.ToLower(gwErr.Description), "already been captured")
}
