package core

import "fmt"

// Code is the machine-readable error class carried back over the RPC
// boundary alongside a human-readable reason.
type Code string

const (
	CodeBadRequest          Code = "BAD_REQUEST"
	CodeNotFound            Code = "NOT_FOUND"
	CodeConflict            Code = "CONFLICT"
	CodeUnauthorized        Code = "UNAUTHORIZED"
	CodePreconditionFailed  Code = "PRECONDITION_FAILED"
	CodeInternalServerError Code = "INTERNAL_SERVER_ERROR"
)

// Error pairs a Code with a reason string. All lifecycle procedures
// return *Error so adapters never have to guess a status.
type Error struct {
	Code   Code   `json:"code"`
	Reason string `json:"reason"`
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Reason) }

func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// The session guard failures. A stale session is a soft failure: the
// client is expected to recover by re-issuing join.
func ErrSessionNotFound(peerID string) *Error {
	return Errorf(CodeBadRequest, "no session for peer %q, join first", peerID)
}

func ErrSessionStale(peerID string) *Error {
	return Errorf(CodePreconditionFailed, "session for peer %q is stale, rejoin", peerID)
}

// ErrResourceNotFound usually means the client holds a stale reference
// after a server-side cascade already removed the resource.
func ErrResourceNotFound(kind, id string) *Error {
	return Errorf(CodeNotFound, "%s %q not found", kind, id)
}

func ErrCapabilityConflict(producerID string) *Error {
	return Errorf(CodeConflict, "capabilities cannot consume producer %q", producerID)
}

func ErrUnauthorized(reason string) *Error {
	return Errorf(CodeUnauthorized, "%s", reason)
}

func ErrEngine(op string, err error) *Error {
	return Errorf(CodeInternalServerError, "engine %s: %v", op, err)
}
