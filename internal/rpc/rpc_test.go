package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestEncodeDecode_PreservesRows(t *testing.T) {
	in := UpsertRequest{
		Table: "students",
		Rows: []json.RawMessage{
			json.RawMessage(`{"id":"s1","name":"Ann","user_id":null,"metadata":{"k":[1,2]},"deleted":false}`),
		},
	}

	s, err := Encode(in)
	require.NoError(t, err)
	assert.Equal(t, "students", s.Fields["table"].GetStringValue())

	var out UpsertRequest
	require.NoError(t, Decode(s, &out))
	assert.Equal(t, "students", out.Table)
	require.Len(t, out.Rows, 1)
	assert.JSONEq(t, string(in.Rows[0]), string(out.Rows[0]))
}

func TestEncodeDecode_Time(t *testing.T) {
	at := time.Date(2024, 6, 1, 10, 30, 0, 123000000, time.UTC)
	s, err := Encode(SoftDeleteRequest{Table: "groups", IDs: []string{"g1"}, At: at})
	require.NoError(t, err)

	var out SoftDeleteRequest
	require.NoError(t, Decode(s, &out))
	assert.True(t, at.Equal(out.At))
	assert.Equal(t, []string{"g1"}, out.IDs)
}

func TestDecode_NilEnvelope(t *testing.T) {
	var out PingResponse
	require.NoError(t, Decode(nil, &out))
	assert.Equal(t, "", out.Status)
}

func TestDecode_TypeMismatch(t *testing.T) {
	s, err := structpb.NewStruct(map[string]any{"rows": "not an array"})
	require.NoError(t, err)

	var out SelectResponse
	require.Error(t, Decode(s, &out))
}

type fakeConn struct {
	method string
	in     *structpb.Struct
	reply  *structpb.Struct
	err    error
}

func (f *fakeConn) Invoke(ctx context.Context, method string, args, reply any, opts ...grpc.CallOption) error {
	f.method = method
	f.in = args.(*structpb.Struct)
	if f.err != nil {
		return f.err
	}
	proto.Merge(reply.(*structpb.Struct), f.reply)
	return nil
}

func (f *fakeConn) NewStream(context.Context, *grpc.StreamDesc, string, ...grpc.CallOption) (grpc.ClientStream, error) {
	return nil, errors.New("not supported")
}

func TestInvoke(t *testing.T) {
	reply, err := Encode(PingResponse{Status: "OK"})
	require.NoError(t, err)
	cc := &fakeConn{reply: reply}

	var resp PingResponse
	require.NoError(t, Invoke(context.Background(), cc, MethodPing, struct{}{}, &resp))
	assert.Equal(t, "OK", resp.Status)
	assert.Equal(t, "/attendkeeper.rowstore.RowStore/Ping", cc.method)
}

func TestInvoke_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	cc := &fakeConn{err: boom}

	err := Invoke(context.Background(), cc, MethodSelect, SelectRequest{Table: "students"}, &SelectResponse{})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, "students", cc.in.Fields["table"].GetStringValue())
}

type echoServer struct {
	RowStoreServer
}

func (echoServer) Ping(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return Encode(PingResponse{Status: "OK"})
}

func TestServiceDesc_HandlerRunsInterceptor(t *testing.T) {
	var ping grpc.MethodDesc
	for _, m := range ServiceDesc.Methods {
		if m.MethodName == "Ping" {
			ping = m
		}
	}
	require.NotNil(t, ping.Handler)

	dec := func(v any) error {
		proto.Merge(v.(*structpb.Struct), &structpb.Struct{})
		return nil
	}

	var seen string
	interceptor := func(ctx context.Context, req any, info *grpc.UnaryServerInfo, h grpc.UnaryHandler) (any, error) {
		seen = info.FullMethod
		return h(ctx, req)
	}

	out, err := ping.Handler(echoServer{}, context.Background(), dec, interceptor)
	require.NoError(t, err)
	assert.Equal(t, MethodPing, seen)

	var resp PingResponse
	require.NoError(t, Decode(out.(*structpb.Struct), &resp))
	assert.Equal(t, "OK", resp.Status)

	out, err = ping.Handler(echoServer{}, context.Background(), dec, nil)
	require.NoError(t, err)
	assert.NotNil(t, out)
}

func TestServiceDesc_DecodeError(t *testing.T) {
	boom := errors.New("bad frame")
	_, err := ServiceDesc.Methods[0].Handler(echoServer{}, context.Background(), func(any) error { return boom }, nil)
	require.ErrorIs(t, err, boom)
}

func TestPublicMethods(t *testing.T) {
	assert.True(t, PublicMethods[MethodSignIn])
	assert.True(t, PublicMethods[MethodPing])
	assert.False(t, PublicMethods[MethodUpsert])
	assert.Len(t, ServiceDesc.Methods, 8)
}
