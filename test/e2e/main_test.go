//go:build e2e

package e2e

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

var (
	awsCfg       aws.Config
	endpointURL  string
	DockerClient *client.Client
	containerID  string
)

const (
	localstackImage = "localstack/localstack:3.0.2"
	bucket          = "hybridcost-e2e"
)

func getDockerSocket() string {
	if env := os.Getenv("E2E_DOCKER_SOCKET"); env != "" {
		return env
	}
	if _, err := os.Stat("/var/run/docker.sock"); err == nil {
		return "unix:///var/run/docker.sock"
	}
	// OrbStack on macOS
	home, _ := os.UserHomeDir()
	orbPath := filepath.Join(home, ".orbstack/run/docker.sock")
	if _, err := os.Stat(orbPath); err == nil {
		return "unix://" + orbPath
	}
	return "unix:///var/run/docker.sock"
}

func TestMain(m *testing.M) {
	ctx := context.Background()

	cli, err := client.NewClientWithOpts(
		client.WithHost(getDockerSocket()),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		fmt.Printf("Failed to create docker client: %v\n", err)
		os.Exit(1)
	}
	DockerClient = cli

	reader, err := cli.ImagePull(ctx, localstackImage, image.PullOptions{})
	if err != nil {
		fmt.Printf("Failed to pull image: %v\n", err)
		os.Exit(1)
	}
	io.Copy(io.Discard, reader)
	reader.Close()

	resp, err := cli.ContainerCreate(ctx, &container.Config{
		Image:        localstackImage,
		ExposedPorts: nat.PortSet{"4566/tcp": struct{}{}},
		Env:          []string{"SERVICES=s3,sts"},
	}, &container.HostConfig{
		AutoRemove: true,
		PortBindings: nat.PortMap{
			"4566/tcp": []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: "0"}},
		},
	}, nil, nil, "")
	if err != nil {
		fmt.Printf("Failed to create container: %v\n", err)
		os.Exit(1)
	}
	containerID = resp.ID

	if err := cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		fmt.Printf("Failed to start container: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Started LocalStack container: %s\n", containerID)

	inspect, err := cli.ContainerInspect(ctx, containerID)
	if err != nil {
		fmt.Printf("Failed to inspect container: %v\n", err)
		cleanup()
		os.Exit(1)
	}
	bindings := inspect.NetworkSettings.Ports["4566/tcp"]
	if len(bindings) == 0 {
		fmt.Printf("No port binding found for 4566/tcp\n")
		cleanup()
		os.Exit(1)
	}
	endpointURL = fmt.Sprintf("http://localhost:%s", bindings[0].HostPort)
	fmt.Printf("LocalStack mapped to %s\n", endpointURL)

	waitForLocalStack(endpointURL)

	os.Setenv("AWS_ACCESS_KEY_ID", "test")
	os.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	os.Setenv("AWS_REGION", "us-east-1")

	awsCfg, err = config.LoadDefaultConfig(ctx,
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return aws.Credentials{AccessKeyID: "test", SecretAccessKey: "test"}, nil
		})),
		config.WithBaseEndpoint(endpointURL),
	)
	if err != nil {
		fmt.Printf("Failed to load AWS config: %v\n", err)
		cleanup()
		os.Exit(1)
	}

	s3c := s3.NewFromConfig(awsCfg, func(o *s3.Options) { o.UsePathStyle = true })
	if _, err := s3c.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)}); err != nil {
		fmt.Printf("Failed to create bucket: %v\n", err)
		cleanup()
		os.Exit(1)
	}

	code := m.Run()

	cleanup()
	os.Exit(code)
}

func cleanup() {
	if DockerClient != nil && containerID != "" {
		DockerClient.ContainerRemove(context.Background(), containerID, container.RemoveOptions{Force: true})
	}
}

func waitForLocalStack(endpoint string) {
	fmt.Println("Waiting for LocalStack...")
	c := &http.Client{Timeout: time.Second}
	for range 30 {
		resp, err := c.Get(endpoint + "/_localstack/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				fmt.Println("LocalStack is ready!")
				return
			}
		}
		time.Sleep(time.Second)
	}
	fmt.Println("Timeout waiting for LocalStack")
}
