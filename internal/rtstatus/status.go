package rtstatus

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind is one entry of the runtime's error taxonomy: NotFound,
// Conflict, InvalidArgument, Unavailable, DeadlineExceeded, Cancelled,
// Internal.
type Kind int

const (
	Unknown Kind = iota
	NotFound
	Conflict
	InvalidArgument
	Unavailable
	DeadlineExceeded
	Cancelled
	Internal
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "NotFound"
	case Conflict:
		return "Conflict"
	case InvalidArgument:
		return "InvalidArgument"
	case Unavailable:
		return "Unavailable"
	case DeadlineExceeded:
		return "DeadlineExceeded"
	case Cancelled:
		return "Cancelled"
	case Internal:
		return "Internal"
	default:
		return "Unknown"
	}
}

// Error pairs a taxonomy Kind with a human-readable message. It is the
// error type every runtime component (gateway, worker, statestore,
// registry) returns so callers can branch on Kind without parsing
// strings.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// New constructs an *Error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind of err if it is (or wraps) an *Error,
// otherwise returns Internal — an unclassified error is a programming
// error or an unexpected condition by construction.
func KindOf(err error) Kind {
	var rtErr *Error
	if errors.As(err, &rtErr) {
		return rtErr.Kind
	}
	return Internal
}

// ToGRPCCode maps a Kind to the nearest gRPC status code.
func (k Kind) ToGRPCCode() codes.Code {
	switch k {
	case NotFound:
		return codes.NotFound
	case Conflict:
		return codes.Aborted
	case InvalidArgument:
		return codes.InvalidArgument
	case Unavailable:
		return codes.Unavailable
	case DeadlineExceeded:
		return codes.DeadlineExceeded
	case Cancelled:
		return codes.Canceled
	case Internal:
		return codes.Internal
	default:
		return codes.Unknown
	}
}

// ToGRPCStatus converts a runtime error into a gRPC status error for
// transport across the unary RPC surface (GetState, SaveState,
// AddSubscription, RegisterAgent).
func ToGRPCStatus(err error) error {
	if err == nil {
		return nil
	}
	var rtErr *Error
	if errors.As(err, &rtErr) {
		return status.Error(rtErr.Kind.ToGRPCCode(), rtErr.Message)
	}
	return status.Error(codes.Internal, err.Error())
}

// FromGRPCStatus converts a gRPC status error observed by a client back
// into a runtime *Error, preserving the taxonomy across the wire.
func FromGRPCStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return New(Internal, "%s", err.Error())
	}
	switch st.Code() {
	case codes.NotFound:
		return New(NotFound, "%s", st.Message())
	case codes.Aborted:
		return New(Conflict, "%s", st.Message())
	case codes.InvalidArgument:
		return New(InvalidArgument, "%s", st.Message())
	case codes.Unavailable:
		return New(Unavailable, "%s", st.Message())
	case codes.DeadlineExceeded:
		return New(DeadlineExceeded, "%s", st.Message())
	case codes.Canceled:
		return New(Cancelled, "%s", st.Message())
	default:
		return New(Internal, "%s", st.Message())
	}
}
