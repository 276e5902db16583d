package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	defaultEnvFile           = ".env"
	defaultPort              = "8080"
	defaultReadTimeout       = 15 * time.Second
	defaultWriteTimeout      = 30 * time.Second
	defaultIdleTimeout       = 120 * time.Second
	defaultOrderEventsTopic  = "order-events"
	defaultWorkflowRetention = 72 * time.Hour
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server    ServerConfig
	Firestore FirestoreConfig
	PubSub    PubSubConfig
	PSP       PSPConfig
	Workflow  WorkflowConfig
	Features  FeatureFlags
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PubSubConfig names the topics order events are published to.
type PubSubConfig struct {
	ProjectID        string
	OrderEventsTopic string
}

// PSPConfig collects secrets for payment providers.
type PSPConfig struct {
	StripeAPIKey string
}

// WorkflowConfig controls workflow engine behaviour.
type WorkflowConfig struct {
	ExecutionRetention time.Duration
}

// FeatureFlags toggle optional behaviour without redeploying.
type FeatureFlags struct {
	EnablePromotions bool
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError lists the configuration fields that failed validation.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return "config: missing or invalid fields: " + strings.Join(e.fields, ", ")
}

// Fields returns the offending field names.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// SecretError wraps a failed secret resolution with the reference involved.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("config: resolve secret %s: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// source layers explicit overrides, the system environment, and a .env file,
// in that precedence order.
type source struct {
	overrides map[string]string
	dotEnv    map[string]string
	useSystem bool
}

func (s source) get(key string) string {
	if value, ok := s.overrides[key]; ok {
		return value
	}
	if s.useSystem {
		if value, ok := os.LookupEnv(key); ok {
			return value
		}
	}
	return s.dotEnv[key]
}

func (s source) str(key, fallback string) string {
	if value := s.get(key); value != "" {
		return value
	}
	return fallback
}

func (s source) duration(key string, fallback time.Duration) time.Duration {
	if value := s.get(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func (s source) boolean(key string, fallback bool) bool {
	switch strings.ToLower(s.get(key)) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		return fallback
	}
}

// Option customises Load behaviour.
type Option func(*loader)

type loader struct {
	envFile string
	source  source
	secret  SecretResolver
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(l *loader) {
		l.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map taking precedence over the
// system environment.
func WithEnvMap(values map[string]string) Option {
	return func(l *loader) {
		l.source.overrides = values
	}
}

// WithoutSystemEnv disables os.LookupEnv, leaving only provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(l *loader) {
		l.source.useSystem = false
	}
}

// WithSecretResolver sets the resolver used for secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(l *loader) {
		l.secret = resolver
	}
}

// Load assembles the application configuration from defaults, a .env file,
// environment variables, and optional Secret Manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	l := loader{
		envFile: defaultEnvFile,
		source:  source{useSystem: true},
	}
	for _, opt := range opts {
		opt(&l)
	}

	dotEnv, err := parseDotEnv(l.envFile)
	if err != nil {
		return Config{}, err
	}
	l.source.dotEnv = dotEnv
	env := l.source

	cfg := Config{
		Server: ServerConfig{
			Port:         env.str("API_SERVER_PORT", defaultPort),
			ReadTimeout:  env.duration("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: env.duration("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  env.duration("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firestore: FirestoreConfig{
			ProjectID:    env.get("API_FIRESTORE_PROJECT_ID"),
			EmulatorHost: env.get("API_FIRESTORE_EMULATOR_HOST"),
		},
		PubSub: PubSubConfig{
			ProjectID:        env.get("API_PUBSUB_PROJECT_ID"),
			OrderEventsTopic: env.str("API_PUBSUB_ORDER_EVENTS_TOPIC", defaultOrderEventsTopic),
		},
		PSP: PSPConfig{
			StripeAPIKey: env.get("API_PSP_STRIPE_API_KEY"),
		},
		Workflow: WorkflowConfig{
			ExecutionRetention: env.duration("API_WORKFLOW_EXECUTION_RETENTION", defaultWorkflowRetention),
		},
		Features: FeatureFlags{
			EnablePromotions: env.boolean("API_FEATURE_PROMOTIONS", true),
		},
	}

	// Pub/Sub project defaults to the Firestore project when unspecified.
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}

	cfg.PSP.StripeAPIKey, err = resolveSecret(ctx, cfg.PSP.StripeAPIKey, l.secret)
	if err != nil {
		return Config{}, err
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Firestore.ProjectID == "" {
		missing = append(missing, "Firestore.ProjectID")
	}
	if strings.TrimSpace(cfg.PubSub.OrderEventsTopic) == "" {
		missing = append(missing, "PubSub.OrderEventsTopic")
	}
	if cfg.Workflow.ExecutionRetention <= 0 {
		missing = append(missing, "Workflow.ExecutionRetention")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

// resolveSecret passes plain values through and resolves secret:// or sm://
// references with the configured resolver.
func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	trimmed := strings.TrimSpace(value)
	ref, ok := strings.CutPrefix(trimmed, "sm://")
	if ok {
		ref = "secret://" + ref
	} else if strings.HasPrefix(trimmed, "secret://") {
		ref = trimmed
	} else {
		return value, nil
	}

	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

func parseDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", path, err)
	}
	return values, nil
}
