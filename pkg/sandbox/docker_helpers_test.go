package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/docker/docker/client"
)

// skipIfNoDocker skips the calling test when no Docker daemon is reachable.
// It returns the probe client (closed on cleanup) so callers that want to
// issue further Docker API calls can reuse the connection.
func skipIfNoDocker(t *testing.T) (*client.Client, func()) {
	t.Helper()

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		t.Skipf("docker client unavailable: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := cli.Ping(ctx); err != nil {
		_ = cli.Close()
		t.Skipf("docker daemon unreachable: %v", err)
	}

	return cli, func() { _ = cli.Close() }
}
