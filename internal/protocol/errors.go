package protocol

import "fmt"

// ProtocolError reports a malformed or unrecognized envelope.
type ProtocolError struct {
	Op     string
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol %s: %s: %v", e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("protocol %s: %s", e.Op, e.Reason)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}
