package bootstrap

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeRunner(responses map[string]string, fail map[string]bool) CommandRunner {
	return func(ctx context.Context, command string) (string, error) {
		for k, v := range fail {
			if v && strings.Contains(command, k) {
				return "", errors.New("command failed")
			}
		}
		for k, v := range responses {
			if strings.Contains(command, k) {
				return v, nil
			}
		}
		return "", errors.New("unrecognized command")
	}
}

func TestParsePlatformOutput(t *testing.T) {
	arch, os, version, ok := parsePlatformOutput("x86_64\nLinux\nUbuntu 20.04.3 LTS\n")
	require.True(t, ok)
	assert.Equal(t, "x86_64", arch)
	assert.Equal(t, "Linux", os)
	assert.Equal(t, "Ubuntu 20.04.3 LTS", version)
}

func TestParsePlatformOutputNoVersion(t *testing.T) {
	arch, os, version, ok := parsePlatformOutput("aarch64\nLinux\n")
	require.True(t, ok)
	assert.Equal(t, "aarch64", arch)
	assert.Equal(t, "Linux", os)
	assert.Empty(t, version)
}

func TestParsePlatformOutputTooFewLines(t *testing.T) {
	_, _, _, ok := parsePlatformOutput("onlyonelinehere")
	assert.False(t, ok)
}

func TestDetectPlatformAllCapabilities(t *testing.T) {
	run := fakeRunner(map[string]string{
		"uname -m":          "x86_64\nLinux\nUbuntu 20.04.3 LTS",
		"syscall(319":       "True",
		"python3 --version": "Python 3.8.10",
		"/dev/shm":          "available",
		"/tmp":              "available",
	}, nil)

	b := New()
	info, err := b.DetectPlatform(context.Background(), run)
	require.NoError(t, err)
	assert.Equal(t, "x86_64", info.Arch)
	assert.Equal(t, "Linux", info.OS)
	require.Len(t, info.Methods, 5)
	assert.Equal(t, MethodMemfdCreate, info.Methods[0])
	assert.Equal(t, MethodShell, info.Methods[len(info.Methods)-1])
}

func TestDetectPlatformNoCapabilitiesFallsBackToShell(t *testing.T) {
	run := fakeRunner(map[string]string{
		"uname -m": "x86_64\nDarwin\nmacOS 14",
	}, map[string]bool{
		"python3 --version": true,
		"/dev/shm":          true,
		"/tmp":              true,
	})

	b := New()
	info, err := b.DetectPlatform(context.Background(), run)
	require.NoError(t, err)
	assert.Equal(t, []Method{MethodShell}, info.Methods)
}

func TestDetectPlatformMemfdSkippedOnNonLinux(t *testing.T) {
	run := fakeRunner(map[string]string{
		"uname -m":          "x86_64\nDarwin\nmacOS 14",
		"python3 --version": "Python 3.11",
		"/dev/shm":          "available",
		"/tmp":              "available",
	}, nil)

	b := New()
	info, err := b.DetectPlatform(context.Background(), run)
	require.NoError(t, err)
	for _, m := range info.Methods {
		assert.NotEqual(t, MethodMemfdCreate, m)
	}
}

func TestDetectPlatformFailsOnBadProbeOutput(t *testing.T) {
	run := fakeRunner(map[string]string{"uname -m": "garbage"}, nil)
	b := New()
	_, err := b.DetectPlatform(context.Background(), run)
	require.Error(t, err)
}

func TestGenerateScriptUsesCustomOverride(t *testing.T) {
	b := New(WithCustomScript("echo custom"))
	script, err := b.GenerateScript()
	require.NoError(t, err)
	assert.Equal(t, "echo custom", script)
}

func TestGenerateScriptRequiresDetectionFirst(t *testing.T) {
	b := New()
	_, err := b.GenerateScript()
	require.Error(t, err)
}

func TestGenerateScriptSelectsBestMethod(t *testing.T) {
	run := fakeRunner(map[string]string{
		"uname -m":          "x86_64\nLinux\nUbuntu 20.04.3 LTS",
		"syscall(319":       "True",
		"python3 --version": "Python 3.8.10",
		"/dev/shm":          "available",
		"/tmp":              "available",
	}, nil)

	b := New()
	_, err := b.DetectPlatform(context.Background(), run)
	require.NoError(t, err)

	script, err := b.GenerateScript()
	require.NoError(t, err)
	assert.Contains(t, script, "memfd_create")
}

func TestScriptBodiesContainExpectedMarkers(t *testing.T) {
	assert.Contains(t, memfdScript, "memfd_create")
	assert.Contains(t, pythonScript, "tempfile")
	assert.Contains(t, devShmScript, "/dev/shm")
	assert.Contains(t, tempFileScript, "/tmp")
	assert.Contains(t, shellScript, "/dev/shm")
	assert.Contains(t, shellScript, "/tmp")
}
