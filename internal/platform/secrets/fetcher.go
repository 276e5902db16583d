package secrets

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultFallbackPath = ".secrets.local"
	meterName           = "github.com/cartforge/api/internal/platform/secrets"
)

var secretManagerClientFactory = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves secret:// references against Google Secret Manager.
// Resolved values are cached for the process lifetime, and a local fallback
// file covers environments without Secret Manager access.
type Fetcher struct {
	client     secretManagerClient
	ownsClient bool
	logger     *zap.Logger
	projectID  string

	fallback fallbackFile

	mu    sync.RWMutex
	cache map[string]string

	metrics fetcherMetrics
}

type fetcherMetrics struct {
	latency   metric.Float64Histogram
	cacheHits metric.Int64Counter
}

// Option customises Fetcher construction.
type Option func(*Fetcher, *[]option.ClientOption)

// WithLogger sets the diagnostic logger.
func WithLogger(logger *zap.Logger) Option {
	return func(f *Fetcher, _ *[]option.ClientOption) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithDefaultProject sets the project used by references without a project override.
func WithDefaultProject(projectID string) Option {
	return func(f *Fetcher, _ *[]option.ClientOption) {
		f.projectID = strings.TrimSpace(projectID)
	}
}

// WithFallbackFile overrides the local fallback secrets path.
func WithFallbackFile(path string) Option {
	return func(f *Fetcher, _ *[]option.ClientOption) {
		f.fallback.path = strings.TrimSpace(path)
	}
}

// WithMeter injects the OpenTelemetry meter used for fetch metrics.
func WithMeter(m metric.Meter) Option {
	return func(f *Fetcher, _ *[]option.ClientOption) {
		f.metrics = newFetcherMetrics(m, f.logger)
	}
}

// WithSecretManagerClient injects a preconfigured client, mainly for tests.
func WithSecretManagerClient(client secretManagerClient) Option {
	return func(f *Fetcher, _ *[]option.ClientOption) {
		f.client = client
	}
}

// WithClientOptions forwards options to the Secret Manager client constructor.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(_ *Fetcher, clientOpts *[]option.ClientOption) {
		*clientOpts = append(*clientOpts, opts...)
	}
}

// NewFetcher builds a Fetcher. A missing Secret Manager credential is not
// fatal; the fetcher then serves only fallback-file values.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	f := &Fetcher{
		logger:   zap.NewNop(),
		fallback: fallbackFile{path: defaultFallbackPath},
		cache:    make(map[string]string),
	}
	var clientOpts []option.ClientOption
	for _, opt := range opts {
		opt(f, &clientOpts)
	}

	if f.metrics.latency == nil {
		f.metrics = newFetcherMetrics(otel.GetMeterProvider().Meter(meterName), f.logger)
	}

	if f.client == nil {
		client, err := secretManagerClientFactory(ctx, clientOpts...)
		if err != nil {
			f.logger.Warn("secrets: secret manager client unavailable; operating in fallback mode", zap.Error(err))
		} else {
			f.client = client
			f.ownsClient = true
		}
	}

	return f, nil
}

func newFetcherMetrics(m metric.Meter, logger *zap.Logger) fetcherMetrics {
	var metrics fetcherMetrics
	var err error
	metrics.latency, err = m.Float64Histogram(
		"secrets.fetch.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency in milliseconds for secret fetch attempts"),
	)
	if err != nil {
		logger.Warn("secrets: unable to register latency metric", zap.Error(err))
	}
	metrics.cacheHits, err = m.Int64Counter(
		"secrets.fetch.cache_hits",
		metric.WithDescription("Count of cache hits when resolving secrets"),
	)
	if err != nil {
		logger.Warn("secrets: unable to register cache hit metric", zap.Error(err))
	}
	return metrics
}

// Close releases the Secret Manager client when the fetcher owns it.
func (f *Fetcher) Close() error {
	if f.ownsClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// ResolveSecret implements config.SecretResolver.
func (f *Fetcher) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f.Resolve(ctx, ref)
}

// Resolve returns the secret value for a secret://NAME reference. The
// reference may carry ?project= and ?version= overrides. Remote failures
// caused by missing access fall through to the fallback file; other failures
// are returned.
func (f *Fetcher) Resolve(ctx context.Context, ref string) (string, error) {
	start := time.Now()
	parsed, err := parseReference(ref)
	if err != nil {
		return "", err
	}

	if value, ok := f.cached(parsed.cacheKey()); ok {
		f.observe(ctx, start, "cache", nil)
		if f.metrics.cacheHits != nil {
			f.metrics.cacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("secret", mask(parsed.canonical))))
		}
		return value, nil
	}

	projectID := parsed.project
	if projectID == "" {
		projectID = f.projectID
	}

	if projectID != "" && f.client != nil {
		value, fetchErr := f.access(ctx, projectID, parsed)
		if fetchErr == nil {
			f.store(parsed.cacheKey(), value)
			f.observe(ctx, start, "remote", nil)
			return value, nil
		}
		if !accessDenied(fetchErr) {
			f.observe(ctx, start, "error", fetchErr)
			return "", fmt.Errorf("secrets: fetch failed for %s: %w", parsed.canonical, fetchErr)
		}
		f.logger.Debug("secrets: falling back to local secrets", zap.String("ref", parsed.canonical), zap.Error(fetchErr))
	}

	value, ok := f.fallback.lookup(parsed, f.logger)
	if !ok {
		err := fmt.Errorf("secrets: fallback value not found for %s", parsed.canonical)
		f.observe(ctx, start, "error", err)
		return "", err
	}
	f.store(parsed.cacheKey(), value)
	f.observe(ctx, start, "fallback", nil)
	return value, nil
}

func (f *Fetcher) cached(key string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	value, ok := f.cache[key]
	return value, ok
}

func (f *Fetcher) store(key, value string) {
	f.mu.Lock()
	f.cache[key] = value
	f.mu.Unlock()
}

func (f *Fetcher) access(ctx context.Context, projectID string, ref reference) (string, error) {
	name := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", projectID, ref.secret, ref.version)
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return "", err
	}
	if resp.GetPayload() == nil {
		return "", fmt.Errorf("secret manager returned empty payload for %s", name)
	}
	return string(resp.GetPayload().GetData()), nil
}

func (f *Fetcher) observe(ctx context.Context, start time.Time, source string, err error) {
	if f.metrics.latency == nil {
		return
	}
	attrs := []attribute.KeyValue{attribute.String("source", source)}
	if err != nil {
		attrs = append(attrs, attribute.String("error", err.Error()))
	}
	f.metrics.latency.Record(ctx, float64(time.Since(start))/float64(time.Millisecond), metric.WithAttributes(attrs...))
}

// accessDenied reports errors worth retrying against the fallback file.
func accessDenied(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}

type reference struct {
	canonical string
	secret    string
	version   string
	project   string
}

func (r reference) cacheKey() string {
	return r.canonical + "#" + r.version
}

func parseReference(ref string) (reference, error) {
	if strings.TrimSpace(ref) == "" {
		return reference{}, errors.New("secrets: empty reference")
	}
	u, err := url.Parse(ref)
	if err != nil {
		return reference{}, fmt.Errorf("secrets: invalid reference %q: %w", ref, err)
	}
	if u.Scheme != "secret" {
		return reference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	secret := strings.Trim(strings.TrimPrefix(u.Host+u.Path, "/"), "/")
	if secret == "" {
		return reference{}, fmt.Errorf("secrets: missing secret name in %q", ref)
	}

	canonical := *u
	canonical.RawQuery = ""
	canonical.Fragment = ""

	query := u.Query()
	version := strings.TrimSpace(query.Get("version"))
	if version == "" {
		version = "latest"
	}

	return reference{
		canonical: canonical.String(),
		secret:    secret,
		version:   version,
		project:   strings.TrimSpace(query.Get("project")),
	}, nil
}

func mask(ref string) string {
	sum := sha256.Sum256([]byte(ref))
	return hex.EncodeToString(sum[:8])
}

// fallbackFile holds KEY=VALUE lines where KEY is a secret:// reference.
// Blank lines and #-comments are skipped. The file is read once.
type fallbackFile struct {
	path   string
	once   sync.Once
	values map[string]string
	err    error
}

func (ff *fallbackFile) lookup(ref reference, logger *zap.Logger) (string, bool) {
	ff.load()
	if ff.err != nil {
		logger.Debug("secrets: fallback load error", zap.Error(ff.err))
		return "", false
	}
	if value, ok := ff.values[ref.cacheKey()]; ok {
		return value, true
	}
	value, ok := ff.values[ref.canonical]
	return value, ok
}

func (ff *fallbackFile) load() {
	ff.once.Do(func() {
		ff.values = map[string]string{}
		path := strings.TrimSpace(ff.path)
		if path == "" {
			return
		}

		file, err := os.Open(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				ff.err = fmt.Errorf("secrets: unable to open fallback file %s: %w", path, err)
			}
			return
		}
		defer file.Close()

		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			key, value, found := strings.Cut(line, "=")
			if !found {
				continue
			}
			key = strings.TrimSpace(key)
			value = strings.TrimSpace(value)
			if parsed, err := parseReference(key); err == nil {
				ff.values[parsed.canonical] = value
				ff.values[parsed.cacheKey()] = value
			} else if key != "" {
				ff.values[key] = value
			}
		}
		if err := scanner.Err(); err != nil {
			ff.err = fmt.Errorf("secrets: failed reading %s: %w", path, err)
		}
	})
}
