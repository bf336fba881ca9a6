// Package rtstatus defines the runtime's error taxonomy (kinds, not
// concrete types) and converts between it and gRPC status codes at the
// wire boundary, using google.golang.org/grpc/codes and status.
package rtstatus
