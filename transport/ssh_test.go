package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultSSHConfig(t *testing.T) {
	cfg := DefaultSSHConfig("example.com")
	assert.Equal(t, "example.com", cfg.Host)
	assert.Equal(t, 22, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.ConnectTimeout)
	assert.False(t, cfg.StrictHostKeyChecking)
}

func TestSSHTransportArgsDefaultsToInsecureHostKeyChecking(t *testing.T) {
	tr := NewSSHTransport("example.com", WithUser("root"))
	args := tr.args("")

	assert.Contains(t, args, "BatchMode=yes")
	assert.Contains(t, args, "StrictHostKeyChecking=no")
	assert.Contains(t, args, "root@example.com")
}

func TestSSHTransportArgsStrictHostKeyChecking(t *testing.T) {
	tr := NewSSHTransport("example.com", WithStrictHostKeyChecking("/tmp/known_hosts"))
	args := tr.args("")

	assert.Contains(t, args, "StrictHostKeyChecking=yes")
	assert.Contains(t, args, "UserKnownHostsFile=/tmp/known_hosts")
}

func TestSSHTransportArgsNonDefaultPort(t *testing.T) {
	tr := NewSSHTransport("example.com", WithPort(2222))
	args := tr.args("")

	assert.Contains(t, args, "-p")
	assert.Contains(t, args, "2222")
}

func TestSSHTransportArgsOmitsPortFlagForDefaultPort(t *testing.T) {
	tr := NewSSHTransport("example.com")
	args := tr.args("")
	assert.NotContains(t, args, "-p")
}

func TestSSHTransportArgsIdentityFile(t *testing.T) {
	tr := NewSSHTransport("example.com", WithIdentityFile("/home/u/.ssh/id_ed25519"))
	args := tr.args("")
	assert.Contains(t, args, "-i")
	assert.Contains(t, args, "/home/u/.ssh/id_ed25519")
}

func TestSSHTransportArgsExtraOptionAndRemoteCommand(t *testing.T) {
	tr := NewSSHTransport("example.com", WithExtraOption("Compression", "yes"))
	args := tr.args("echo hi")
	assert.Contains(t, args, "Compression=yes")
	assert.Equal(t, "echo hi", args[len(args)-1])
}

func TestConnectionInfo(t *testing.T) {
	tr := NewSSHTransport("example.com", WithUser("deploy"), WithPort(2200))
	info := tr.ConnectionInfo()
	assert.Equal(t, Info{Host: "example.com", Port: 2200, User: "deploy"}, info)
}

func TestRunCommandUsesEchoOverride(t *testing.T) {
	tr := NewSSHTransport("example.com", WithSSHBinary("echo"))
	out, err := tr.RunCommand(context.Background(), "uname -m")
	assert.NoError(t, err)
	assert.Contains(t, out, "uname -m")
	assert.Contains(t, out, "example.com")
}

func TestRandomTokenIsUnique(t *testing.T) {
	a, err := randomToken()
	assert.NoError(t, err)
	b, err := randomToken()
	assert.NoError(t, err)
	assert.NotEqual(t, a, b)
}
