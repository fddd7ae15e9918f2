package handlers

import (
	"context"
	"testing"

	"github.com/kestrel-run/kestrel/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPingEchoesTimestampAndStampsResponse(t *testing.T) {
	req := protocol.NewPingRequest(protocol.PingRequest{Timestamp: 1234})

	resp, err := Ping{}.Handle(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, protocol.RespPong, resp.Kind)
	require.NotNil(t, resp.Pong)
	assert.Equal(t, uint64(1234), resp.Pong.Timestamp)
	assert.Equal(t, req.ID, resp.RequestID)
	assert.NotZero(t, resp.Pong.ResponseTimestamp)
}
