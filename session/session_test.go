package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseTargetDefaults(t *testing.T) {
	user, host, port := ParseTarget("example.com")
	assert.Equal(t, "root", user)
	assert.Equal(t, "example.com", host)
	assert.Equal(t, 22, port)
}

func TestParseTargetUserAndPort(t *testing.T) {
	user, host, port := ParseTarget("deploy@example.com:2222")
	assert.Equal(t, "deploy", user)
	assert.Equal(t, "example.com", host)
	assert.Equal(t, 2222, port)
}

func TestParseTargetUserOnly(t *testing.T) {
	user, host, port := ParseTarget("deploy@example.com")
	assert.Equal(t, "deploy", user)
	assert.Equal(t, "example.com", host)
	assert.Equal(t, 22, port)
}

func TestParseTargetPortOnly(t *testing.T) {
	user, host, port := ParseTarget("example.com:2200")
	assert.Equal(t, "root", user)
	assert.Equal(t, "example.com", host)
	assert.Equal(t, 2200, port)
}

func TestParseTargetIgnoresNonNumericTrailingColon(t *testing.T) {
	// An IPv6-ish or malformed host should not be mistaken for a port suffix.
	user, host, port := ParseTarget("example.com:notaport")
	assert.Equal(t, "root", user)
	assert.Equal(t, "example.com:notaport", host)
	assert.Equal(t, 22, port)
}

func TestDefaultConfigAppliesSpecDefaults(t *testing.T) {
	cfg := DefaultConfig("deploy@example.com:2200")
	assert.Equal(t, "deploy", cfg.SSH.User)
	assert.Equal(t, "example.com", cfg.SSH.Host)
	assert.Equal(t, 2200, cfg.SSH.Port)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, uint32(100), cfg.MaxStreams)
	assert.True(t, cfg.Bootstrap)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "Connecting", StatusConnecting.String())
	assert.Equal(t, "Bootstrapping", StatusBootstrapping.String())
	assert.Equal(t, "Active", StatusActive.String())
	assert.Equal(t, "Disconnected", StatusDisconnected.String())
	assert.Equal(t, "Error", StatusError.String())
}

func TestConnectedContextRequiresActiveStatus(t *testing.T) {
	c := &Connected{state: State{Status: StatusConnecting}}
	_, err := c.Context()
	assert.Error(t, err)
}
