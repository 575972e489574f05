package docker

import (
	"testing"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/require"
)

func TestDockerHostConfigNoNetworking(t *testing.T) {
	cfg := dockerHostConfig(0)
	require.Empty(t, cfg.PortBindings)
}

func TestDockerHostConfigWithNetworking(t *testing.T) {
	cfg := dockerHostConfig(8080)
	bindings, ok := cfg.PortBindings[nat.Port("8080/tcp")]
	require.True(t, ok)
	require.Len(t, bindings, 1)
	require.Equal(t, "127.0.0.1", bindings[0].HostIP)
}
