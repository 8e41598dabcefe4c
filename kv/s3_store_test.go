package kv

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// s3TestConfig provides a MinIO endpoint for the S3 store tests: either an
// externally managed one named by SEALBOX_S3_ENDPOINT, or a throwaway
// container.
func s3TestConfig(t *testing.T) S3Config {
	t.Helper()

	config := S3Config{
		AccessKeyID:     "minioadmin",
		SecretAccessKey: "minioadmin",
		Bucket:          "sealbox-test",
		UseSSL:          false,
	}

	if endpoint := os.Getenv("SEALBOX_S3_ENDPOINT"); endpoint != "" {
		config.Endpoint = endpoint
		if v := os.Getenv("SEALBOX_S3_ACCESS_KEY"); v != "" {
			config.AccessKeyID = v
		}
		if v := os.Getenv("SEALBOX_S3_SECRET_KEY"); v != "" {
			config.SecretAccessKey = v
		}
		return config
	}

	if testing.Short() {
		t.Skip("skipping MinIO container in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "minio/minio:latest",
			ExposedPorts: []string{"9000/tcp"},
			Env: map[string]string{
				"MINIO_ROOT_USER":     config.AccessKeyID,
				"MINIO_ROOT_PASSWORD": config.SecretAccessKey,
			},
			Cmd:        []string{"server", "/data"},
			WaitingFor: wait.ForHTTP("/minio/health/ready").WithPort("9000/tcp"),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("could not start MinIO container: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "9000/tcp")
	if err != nil {
		t.Fatalf("container port: %v", err)
	}
	config.Endpoint = fmt.Sprintf("%s:%s", host, port.Port())
	return config
}

func TestS3StoreContract(t *testing.T) {
	config := s3TestConfig(t)
	config.KeyPrefix = "contract"

	store, err := NewS3Store(config)
	if err != nil {
		t.Fatalf("NewS3Store failed: %v", err)
	}
	defer store.Close()

	exerciseStore(t, store)
}

func TestS3StoreKeyPrefixIsolation(t *testing.T) {
	config := s3TestConfig(t)

	config.KeyPrefix = "device-a"
	a, err := NewS3Store(config)
	if err != nil {
		t.Fatalf("NewS3Store failed: %v", err)
	}
	defer a.Close()

	config.KeyPrefix = "device-b"
	b, err := NewS3Store(config)
	if err != nil {
		t.Fatalf("NewS3Store failed: %v", err)
	}
	defer b.Close()

	if err = a.Put("record/profile", []byte("from device a")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// The same key under a different prefix is a different object.
	if _, err = b.Get("record/profile"); err != ErrNotFound {
		t.Fatalf("prefix isolation broken: %v", err)
	}
	keys, err := b.Keys("record/")
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("device-b sees device-a's keys: %v", keys)
	}
}
