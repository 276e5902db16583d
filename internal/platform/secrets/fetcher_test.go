package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func newTestFetcher(t *testing.T, client *stubSecretClient, extra ...Option) *Fetcher {
	t.Helper()
	opts := append([]Option{
		WithSecretManagerClient(client),
		WithDefaultProject("test"),
		WithLogger(zap.NewNop()),
	}, extra...)
	fetcher, err := NewFetcher(context.Background(), opts...)
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}
	t.Cleanup(func() { fetcher.Close() })
	return fetcher
}

func writeFallback(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("failed writing fallback file: %v", err)
	}
	return path
}

func TestResolveCachesRemoteSecret(t *testing.T) {
	ctx := context.Background()
	client := newStubSecretClient()
	resource := "projects/test/secrets/stripe_api_key/versions/latest"
	client.values[resource] = "remote-secret"

	fetcher := newTestFetcher(t, client)

	for i := 0; i < 2; i++ {
		got, err := fetcher.Resolve(ctx, "secret://stripe_api_key")
		if err != nil {
			t.Fatalf("Resolve call %d returned error: %v", i+1, err)
		}
		if got != "remote-secret" {
			t.Fatalf("expected remote-secret, got %s", got)
		}
	}

	if calls := client.callCount(resource); calls != 1 {
		t.Fatalf("expected one remote fetch, got %d", calls)
	}
}

func TestResolveFallsBackWhenAccessDenied(t *testing.T) {
	ctx := context.Background()
	path := writeFallback(t, "secret://stripe_api_key=local-secret\n")

	client := newStubSecretClient()
	client.errors["projects/test/secrets/stripe_api_key/versions/latest"] = status.Error(codes.PermissionDenied, "denied")

	fetcher := newTestFetcher(t, client, WithFallbackFile(path))

	got, err := fetcher.Resolve(ctx, "secret://stripe_api_key")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if got != "local-secret" {
		t.Fatalf("expected local-secret, got %s", got)
	}
}

func TestResolveHonoursProjectAndVersionOverrides(t *testing.T) {
	ctx := context.Background()
	client := newStubSecretClient()
	client.values["projects/other/secrets/stripe_api_key/versions/5"] = "version-5"

	fetcher := newTestFetcher(t, client)

	got, err := fetcher.Resolve(ctx, "secret://stripe_api_key?project=other&version=5")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if got != "version-5" {
		t.Fatalf("expected version-5, got %s", got)
	}
}

func TestResolveMissingFallbackValue(t *testing.T) {
	ctx := context.Background()
	path := writeFallback(t, "secret://other_key=value\n")

	client := newStubSecretClient()
	client.errors["projects/test/secrets/stripe_api_key/versions/latest"] = status.Error(codes.Unavailable, "down")

	fetcher := newTestFetcher(t, client, WithFallbackFile(path))

	if _, err := fetcher.Resolve(ctx, "secret://stripe_api_key"); err == nil {
		t.Fatal("expected error when secret is missing everywhere")
	}
}

func TestResolveRejectsForeignSchemes(t *testing.T) {
	fetcher := newTestFetcher(t, newStubSecretClient())
	if _, err := fetcher.Resolve(context.Background(), "vault://stripe_api_key"); err == nil {
		t.Fatal("expected error for unsupported scheme")
	}
}

func TestNewFetcherWithoutCredentialsUsesFallback(t *testing.T) {
	ctx := context.Background()

	originalFactory := secretManagerClientFactory
	secretManagerClientFactory = func(context.Context, ...option.ClientOption) (*secretmanager.Client, error) {
		return nil, errors.New("no credentials")
	}
	t.Cleanup(func() {
		secretManagerClientFactory = originalFactory
	})

	path := writeFallback(t, "secret://stripe_api_key=local-secret\n")

	fetcher, err := NewFetcher(ctx, WithFallbackFile(path))
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}
	defer fetcher.Close()

	value, err := fetcher.Resolve(ctx, "secret://stripe_api_key")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if value != "local-secret" {
		t.Fatalf("expected local-secret, got %s", value)
	}
}

type stubSecretClient struct {
	mu      sync.Mutex
	values  map[string]string
	errors  map[string]error
	counter map[string]int
}

func newStubSecretClient() *stubSecretClient {
	return &stubSecretClient{
		values:  make(map[string]string),
		errors:  make(map[string]error),
		counter: make(map[string]int),
	}
}

func (s *stubSecretClient) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := req.GetName()
	s.counter[name]++

	if err, ok := s.errors[name]; ok && err != nil {
		return nil, err
	}
	if value, ok := s.values[name]; ok {
		return &secretmanagerpb.AccessSecretVersionResponse{
			Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
		}, nil
	}
	return nil, status.Error(codes.NotFound, "not found")
}

func (s *stubSecretClient) Close() error { return nil }

func (s *stubSecretClient) callCount(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counter[name]
}
