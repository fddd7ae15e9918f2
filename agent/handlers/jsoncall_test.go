package handlers

import (
	"context"
	"errors"
	"testing"

	"github.com/kestrel-run/kestrel/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONCallDispatchesToRegisteredMethod(t *testing.T) {
	j := NewJSONCall()
	j.RegisterMethod("echo", func(ctx context.Context, params []byte) ([]byte, error) {
		return params, nil
	})

	req := protocol.NewJSONCallRequest(protocol.JSONCallRequest{Method: "echo", Params: []byte(`{"a":1}`)})
	resp, err := j.Handle(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, protocol.RespJSONResult, resp.Kind)
	require.NotNil(t, resp.JSONResult)
	assert.JSONEq(t, `{"a":1}`, string(resp.JSONResult.Result))
}

func TestJSONCallUnknownMethodIsUnsupported(t *testing.T) {
	j := NewJSONCall()

	req := protocol.NewJSONCallRequest(protocol.JSONCallRequest{Method: "does_not_exist"})
	resp, err := j.Handle(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, resp.IsError())
	assert.Equal(t, protocol.ErrorCodeUnsupported, resp.Error.Code)
}

func TestJSONCallMethodErrorBecomesInternalError(t *testing.T) {
	j := NewJSONCall()
	j.RegisterMethod("boom", func(ctx context.Context, params []byte) ([]byte, error) {
		return nil, errors.New("boom")
	})

	req := protocol.NewJSONCallRequest(protocol.JSONCallRequest{Method: "boom"})
	resp, err := j.Handle(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, resp.IsError())
	assert.Equal(t, protocol.ErrorCodeInternalError, resp.Error.Code)
}

func TestJSONCallRegisterMethodReplacesExisting(t *testing.T) {
	j := NewJSONCall()
	j.RegisterMethod("m", func(ctx context.Context, params []byte) ([]byte, error) {
		return []byte("first"), nil
	})
	j.RegisterMethod("m", func(ctx context.Context, params []byte) ([]byte, error) {
		return []byte("second"), nil
	})

	req := protocol.NewJSONCallRequest(protocol.JSONCallRequest{Method: "m"})
	resp, err := j.Handle(context.Background(), req)
	require.NoError(t, err)

	require.NotNil(t, resp.JSONResult)
	assert.Equal(t, "second", string(resp.JSONResult.Result))
}
