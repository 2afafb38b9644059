package config

import (
	"os"
	"sync"
)

// DockerHostAlias is the name a container uses to reach services on its host.
const DockerHostAlias = "host.docker.internal"

var (
	isDockerOnce   sync.Once
	isDockerResult bool
)

// IsRunningInDocker reports whether /.dockerenv exists. Checked once per process.
func IsRunningInDocker() bool {
	isDockerOnce.Do(func() {
		isDockerResult = fileExists("/.dockerenv")
	})
	return isDockerResult
}

// ResolveHostForDocker points loopback record store and cache hosts at DockerHostAlias when the
// engine runs in a container. An empty host (Redis disabled) stays empty.
func ResolveHostForDocker(host string) string {
	return resolveHost(host, IsRunningInDocker())
}

func resolveHost(host string, inDocker bool) string {
	if !inDocker {
		return host
	}
	switch host {
	case "localhost", "127.0.0.1", "::1":
		return DockerHostAlias
	}
	return host
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
