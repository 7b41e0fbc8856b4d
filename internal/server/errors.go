package server

import (
	"fmt"
	"time"

	"github.com/jrtknauer/pycraft2/internal/protocol"
)

// StatusMismatch records a response whose status differed from the one the
// operation expects. It is reported and kept on the session, never returned
// by an operation.
type StatusMismatch struct {
	Operation string          `json:"operation"`
	Expected  protocol.Status `json:"expected"`
	Observed  protocol.Status `json:"observed"`
	At        time.Time       `json:"at"`
}

func (m StatusMismatch) Error() string {
	return fmt.Sprintf("%s: expected status %s, observed %s", m.Operation, m.Expected, m.Observed)
}

// InvariantError reports a violated internal invariant, such as calling an
// operation from the wrong local phase or an ended match that carries no
// result for this session's player.
type InvariantError struct {
	Op  string
	Msg string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("%s: invariant violated: %s", e.Op, e.Msg)
}
