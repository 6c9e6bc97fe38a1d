// Package settlement tracks the two-phase lifecycle of cross-chain operations.
//
// Every message an origin chain sends to the home chain becomes a settlement
// record. The record starts as initiated when the origin step commits, moves
// to in_flight once the message is queued, and ends settled or failed when the
// home chain executes it. There is no abort or compensation once a message is
// in flight.
package settlement

import (
	"fmt"

	liquidstake "github.com/marwen-abid/liquidstake-go"
	"github.com/marwen-abid/liquidstake-go/errors"
)

// legalTransitions defines the allowed settlement state transitions.
// Each key is a "from" state, and the value is a set of valid "to" states.
//
// Terminal states (settled, failed) have no outgoing transitions.
var legalTransitions = map[liquidstake.SettlementStatus]map[liquidstake.SettlementStatus]bool{
	liquidstake.StatusInitiated: {
		liquidstake.StatusInFlight: true,
		liquidstake.StatusFailed:   true,
	},
	liquidstake.StatusInFlight: {
		liquidstake.StatusSettled: true,
		liquidstake.StatusFailed:  true,
	},
	liquidstake.StatusSettled: {},
	liquidstake.StatusFailed:  {},
}

// ValidateTransition checks if a transition from "from" to "to" is legal.
//
// Returns nil if the transition is valid, or an error with code
// TRANSITION_INVALID if it is not.
func ValidateTransition(from, to liquidstake.SettlementStatus) error {
	validToStates, exists := legalTransitions[from]
	if !exists {
		return errors.NewHostError(
			errors.TRANSITION_INVALID,
			fmt.Sprintf("unknown source state: %s", from),
			nil,
		)
	}

	if !validToStates[to] {
		return errors.NewHostError(
			errors.TRANSITION_INVALID,
			fmt.Sprintf("illegal transition from %s to %s", from, to),
			nil,
		)
	}

	return nil
}

// IsTerminal reports whether status has no outgoing transitions.
func IsTerminal(status liquidstake.SettlementStatus) bool {
	next, ok := legalTransitions[status]
	return ok && len(next) == 0
}
