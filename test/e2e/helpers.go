//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

// GetBinaryPath builds the CLI and returns the binary path.
func GetBinaryPath(t *testing.T) string {
	t.Helper()
	binPath := filepath.Join(t.TempDir(), "hybridcost")
	cmd := exec.Command("go", "build", "-o", binPath, "./cmd/hybridcost")
	cmd.Dir = "../../"
	cmd.Env = os.Environ()
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("Build failed: %s", out)
	}
	return binPath
}

// command prepares bin against the LocalStack S3 bucket with the scripted
// pricing source. prefix isolates each test's snapshots.
func command(ctx context.Context, t *testing.T, bin, prefix string, args ...string) *exec.Cmd {
	t.Helper()
	base := []string{"--endpoint", endpointURL, "--storage", "s3", "--mock", "--no-telemetry", "--log-format", "json"}
	cmd := exec.CommandContext(ctx, bin, append(args, base...)...)
	cmd.Env = append(os.Environ(),
		"HOME="+t.TempDir(),
		"HYBRIDCOST_STORAGE_BUCKET="+bucket,
		"HYBRIDCOST_STORAGE_PREFIX="+prefix,
	)
	return cmd
}

// run executes bin and returns its stdout, failing the test on error.
func run(t *testing.T, bin, prefix string, args ...string) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := command(ctx, t, bin, prefix, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		t.Fatalf("%v failed: %v\n%s", args, err, stderr.String())
	}
	return stdout.String()
}
