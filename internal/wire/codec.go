package wire

import (
	"encoding/json"
	"fmt"
)

// CodecName identifies the JSON codec registered for the Runtime service.
// gRPC's default codec assumes protoc-gen-go messages; since this
// package's messages are plain Go structs (see doc.go for why), the
// server and client are both configured with grpc.ForceServerCodec /
// grpc.ForceCodec using this codec instead.
const CodecName = "agentmesh-wire-json"

// jsonCodec implements google.golang.org/grpc/encoding.Codec over plain
// Go values using encoding/json. It is deliberately simple: every message
// exchanged by the Runtime service is one of the types in this package,
// all of which round-trip cleanly through JSON.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal %T: %w", v, err)
	}
	return b, nil
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("wire: unmarshal into %T: %w", v, err)
	}
	return nil
}

func (jsonCodec) Name() string {
	return CodecName
}

// Codec returns the shared JSON codec instance used by both the gateway
// server and worker clients.
func Codec() interface {
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
	Name() string
} {
	return jsonCodec{}
}
