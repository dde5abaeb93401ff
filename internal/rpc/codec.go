// Package rpc defines the row store wire contract shared by the server and
// the client: the gRPC service descriptor, method names and the JSON-shaped
// messages carried inside structpb.Struct envelopes.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Encode converts a JSON-tagged Go value into a Struct envelope.
func Encode(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(b, s); err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return s, nil
}

// Decode fills v from a Struct envelope. A nil envelope decodes as {}.
func Decode(s *structpb.Struct, v any) error {
	if s == nil {
		s = &structpb.Struct{}
	}
	b, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	return nil
}

// Invoke performs a unary call with typed request and response values.
func Invoke(ctx context.Context, cc grpc.ClientConnInterface, method string, req, resp any, opts ...grpc.CallOption) error {
	in, err := Encode(req)
	if err != nil {
		return err
	}
	out := &structpb.Struct{}
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return err
	}
	if resp == nil {
		return nil
	}
	return Decode(out, resp)
}
