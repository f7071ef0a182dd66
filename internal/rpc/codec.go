package rpc

import "encoding/json"

// jsonCodec lets colink-core's service exchange plain Go structs over
// google.golang.org/grpc without protoc-generated message types, since no
// .proto file exists anywhere in the retrieval pack (see doc.go). It
// satisfies the grpc "encoding.Codec" shape (Marshal/Unmarshal/Name).
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func (jsonCodec) Name() string { return "json" }
