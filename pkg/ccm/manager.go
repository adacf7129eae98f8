package ccm

import (
	"fmt"

	"github.com/cuemby/ledger/pkg/types"
)

// New constructs the Manager variant named by protocol. A server instance
// chooses exactly one at startup; spec.md §9 leaves mixing protocols on one
// instance undefined, so ledger never attempts it (see DESIGN.md).
func New(protocol types.Protocol) (Manager, error) {
	switch protocol {
	case types.ProtocolLock:
		return NewLockManager(), nil
	case types.ProtocolTimestamp:
		return NewTimestampManager(), nil
	case types.ProtocolValidation:
		return NewValidationManager(), nil
	default:
		return nil, fmt.Errorf("ccm: unknown protocol %q", protocol)
	}
}
