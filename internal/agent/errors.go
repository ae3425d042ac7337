package agent

import "errors"

var (
	// ErrInvalidRequest wraps inbound validation failures. Nothing has been
	// loaded or stored when it is returned.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrSessionClosed is returned for turns against an accepted or rejected session.
	ErrSessionClosed = errors.New("session is closed")

	// ErrOracleUnavailable wraps transport failures talking to the evaluator.
	ErrOracleUnavailable = errors.New("evaluator unavailable")

	// ErrMalformedDecision wraps evaluator replies that break the response contract.
	ErrMalformedDecision = errors.New("malformed evaluator response")
)
