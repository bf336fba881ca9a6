// Package wire defines the on-the-wire message union that flows over the
// bidirectional OpenChannel stream between a worker and the gateway, plus
// the identity/state records carried by the unary control RPCs.
//
// The envelope is a plain Go struct rather than a protoc-gen-go message,
// transported over google.golang.org/grpc using a hand-written codec and
// service descriptor instead of protoc-gen-go-grpc; see codec.go for how
// it is marshalled onto the wire and service.go for the client/server
// plumbing.
package wire
