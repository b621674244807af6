package ingest

import (
	"github.com/inkwell-app/inkwell/db"
)

// transitions is the entry lifecycle: pending -> processing -> transcribed ->
// completed, with failed reachable while work is in flight and two re-entry
// edges — failed -> processing on retry, completed -> transcribed on a manual
// text edit (which must re-run analysis). There is no cancel edge: an entry
// in flight always resolves to completed or failed.
var transitions = map[string][]string{
	db.StatePending:     {db.StateProcessing},
	db.StateProcessing:  {db.StateTranscribed, db.StateFailed},
	db.StateTranscribed: {db.StateCompleted, db.StateFailed},
	db.StateFailed:      {db.StateProcessing},
	db.StateCompleted:   {db.StateTranscribed},
}

// CanTransition reports whether moving an entry from one state to another is
// legal. Every persisted state change goes through this check.
func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a state only changes via an explicit retry or
// edit event
func IsTerminal(state string) bool {
	return state == db.StateCompleted || state == db.StateFailed
}
