//go:build integration

package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/duckmesh/sqlagent/internal/storage"
)

func TestStoreRoundTripAgainstMinIO(t *testing.T) {
	endpoint := envOr("SQLAGENT_TEST_S3_ENDPOINT", "")
	if endpoint == "" {
		t.Skip("SQLAGENT_TEST_S3_ENDPOINT is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	store, err := New(ctx, Config{
		Endpoint:         endpoint,
		Region:           envOr("SQLAGENT_TEST_S3_REGION", "us-east-1"),
		Bucket:           envOr("SQLAGENT_TEST_S3_BUCKET", "sqlagent-it"),
		AccessKeyID:      envOr("SQLAGENT_TEST_S3_ACCESS_KEY", "minio"),
		SecretAccessKey:  envOr("SQLAGENT_TEST_S3_SECRET_KEY", "miniostorage"),
		Prefix:           "integration-tests",
		AutoCreateBucket: true,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	day := storage.DayPrefix(time.Now())
	key := day + "/hour=00/roundtrip-" + time.Now().Format("150405.000000000") + ".parquet"
	payload := []byte("sqlagent-integration")

	if _, err := store.Put(ctx, key, bytes.NewReader(payload), int64(len(payload)), storage.PutOptions{ContentType: "application/octet-stream"}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	reader, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	got, err := io.ReadAll(reader)
	_ = reader.Close()
	if err != nil {
		t.Fatalf("io.ReadAll() error = %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("Get() payload = %q, want %q", got, payload)
	}

	objects, err := store.List(ctx, day+"/")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	found := false
	for _, obj := range objects {
		found = found || obj.Key == key
	}
	if !found {
		t.Fatalf("List() = %#v, missing %q", objects, key)
	}

	if _, err := store.Get(ctx, day+"/missing.parquet"); !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("Get(missing) error = %v, want ErrObjectNotFound", err)
	}
}

func envOr(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}
