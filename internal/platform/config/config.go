package config

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	defaultEnvFile             = ".env"
	defaultPort                = "8080"
	defaultReadTimeout         = 15 * time.Second
	defaultWriteTimeout        = 30 * time.Second
	defaultIdleTimeout         = 120 * time.Second
	defaultShutdownTimeout     = 20 * time.Second
	defaultEnvironment         = "local"
	defaultStoreDriver         = StoreDriverMemory
	defaultLockTimeout         = 5 * time.Second
	defaultTxAttempts          = 5
	defaultPostgresMaxOpen     = 20
	defaultPostgresMaxIdle     = 5
	defaultPostgresMaxLifetime = 30 * time.Minute
	defaultCartCacheTTL        = 15 * time.Minute
	defaultEventsDriver        = EventsDriverLog
	defaultEventsTopic         = "ordercore-events"
	defaultBreakerFailures     = 5
	defaultBreakerOpenTimeout  = 30 * time.Second
	defaultBreakerInterval     = time.Minute
	defaultCurrency            = "USD"
	defaultGuestCartTTL        = 7 * 24 * time.Hour
	defaultOrderNumberPrefix   = "ORD"
	defaultOrderNumberAttempts = 3
	defaultIdempotencyHeader   = "Idempotency-Key"
	defaultIdempotencyTTL      = 24 * time.Hour
	defaultIdempotencyInterval = time.Hour
	defaultIdempotencyBatch    = 200
	defaultGuestSessionHeader  = "X-Guest-Session"
	defaultStaffRole           = "staff"
)

// Store drivers accepted by ORDERCORE_STORE_DRIVER.
const (
	StoreDriverMemory    = "memory"
	StoreDriverPostgres  = "postgres"
	StoreDriverFirestore = "firestore"
)

// Event publisher drivers accepted by ORDERCORE_EVENTS_DRIVER.
const (
	EventsDriverLog    = "log"
	EventsDriverPubSub = "pubsub"
	EventsDriverKafka  = "kafka"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Environment string
	Server      ServerConfig
	Store       StoreConfig
	Postgres    PostgresConfig
	Firestore   FirestoreConfig
	Firebase    FirebaseConfig
	Redis       RedisConfig
	Events      EventsConfig
	Pricing     PricingConfig
	Cart        CartConfig
	Orders      OrdersConfig
	Idempotency IdempotencyConfig
	Auth        AuthConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// StoreConfig selects the persistence backend and its transaction limits.
type StoreConfig struct {
	Driver string
	// LockTimeout bounds how long a transaction waits for an exclusive record lock.
	LockTimeout time.Duration
	// TxAttempts bounds optimistic transaction retries on stores that retry on contention.
	TxAttempts int
}

// PostgresConfig stores relational database parameters.
type PostgresConfig struct {
	DSN             string
	AutoMigrate     bool
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// RedisConfig configures the cart cache and the shared idempotency store.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	CartCacheTTL time.Duration
}

// Enabled reports whether a redis address is configured.
func (c RedisConfig) Enabled() bool { return strings.TrimSpace(c.Addr) != "" }

// EventsConfig selects and tunes the notification publisher.
type EventsConfig struct {
	Driver    string
	ProjectID string
	Topic     string
	Brokers   []string
	// BreakerFailures consecutive failures open the circuit for BreakerOpenTimeout.
	BreakerFailures    int
	BreakerOpenTimeout time.Duration
	BreakerInterval    time.Duration
}

// PricingConfig holds the flat charge policy and the default currency.
type PricingConfig struct {
	DefaultCurrency  string
	CartTaxRate      decimal.Decimal
	OrderTaxRate     decimal.Decimal
	ShippingFlat     decimal.Decimal
	FreeShippingOver decimal.Decimal
}

// CartConfig controls guest cart lifetime.
type CartConfig struct {
	GuestTTL time.Duration
}

// OrdersConfig controls order numbering and return handling.
type OrdersConfig struct {
	NumberPrefix    string
	NumberAttempts  int
	RestockOnReturn bool
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// AuthConfig controls how callers are identified.
type AuthConfig struct {
	GuestSessionHeader string
	// StaffRole is the custom claim role that grants access to the admin routes.
	StaffRole string
	// DisableFirebase skips bearer token verification; only guest sessions are accepted.
	DisableFirebase bool
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

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets failed to resolve.
type MissingSecretsError struct {
	secrets []missingSecret
}

type missingSecret struct {
	name     string
	redacted string
}

// Error implements the error interface.
func (e *MissingSecretsError) Error() string {
	if e == nil || len(e.secrets) == 0 {
		return "missing required secrets"
	}
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// RedactedNames returns the redacted secret identifiers, sorted.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil || len(e.secrets) == 0 {
		return nil
	}
	out := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		out = append(out, secret.redacted)
	}
	sort.Strings(out)
	return out
}

// Names returns the underlying secret identifiers, sorted.
func (e *MissingSecretsError) Names() []string {
	if e == nil || len(e.secrets) == 0 {
		return nil
	}
	out := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		out = append(out, secret.name)
	}
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

// EnvironmentValues returns the effective key/value environment map after applying the same precedence
// rules as Load (dotenv < OS env < explicit env map). Callers use it to initialise dependencies, such
// as the secret fetcher, before invoking Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}

	values := make(map[string]string)
	for key, value := range dotEnvValues {
		values[key] = value
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if !ok || strings.TrimSpace(key) == "" {
				continue
			}
			values[strings.TrimSpace(key)] = value
		}
	}
	for key, value := range options.envMap {
		values[key] = value
	}
	return values, nil
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets a custom secret resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks the provided secret identifiers as mandatory. Identifiers match the
// config field names recorded by the loader, e.g. "Postgres.DSN" or "Redis.Password".
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secret: SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
			return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
		}),
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if dotEnvValues != nil {
			if value, ok := dotEnvValues[key]; ok {
				return value, true
			}
		}
		return "", false
	}

	var invalid []string
	rate := func(key, field string, fallback decimal.Decimal) decimal.Decimal {
		value, ok := decimalWithDefault(lookup, key, fallback)
		if !ok {
			invalid = append(invalid, field)
		}
		return value
	}

	cfg := Config{
		Environment: strings.ToLower(stringWithDefault(lookup, "ORDERCORE_ENV", defaultEnvironment)),
		Server: ServerConfig{
			Port:            stringWithDefault(lookup, "ORDERCORE_SERVER_PORT", stringWithDefault(lookup, "PORT", defaultPort)),
			ReadTimeout:     durationWithDefault(lookup, "ORDERCORE_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    durationWithDefault(lookup, "ORDERCORE_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     durationWithDefault(lookup, "ORDERCORE_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: durationWithDefault(lookup, "ORDERCORE_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		},
		Store: StoreConfig{
			Driver:      strings.ToLower(stringWithDefault(lookup, "ORDERCORE_STORE_DRIVER", defaultStoreDriver)),
			LockTimeout: durationWithDefault(lookup, "ORDERCORE_STORE_LOCK_TIMEOUT", defaultLockTimeout),
			TxAttempts:  intWithDefault(lookup, "ORDERCORE_STORE_TX_ATTEMPTS", defaultTxAttempts),
		},
		Postgres: PostgresConfig{
			DSN:             stringWithDefault(lookup, "ORDERCORE_POSTGRES_DSN", ""),
			AutoMigrate:     boolWithDefault(lookup, "ORDERCORE_POSTGRES_AUTO_MIGRATE", true),
			MaxOpenConns:    intWithDefault(lookup, "ORDERCORE_POSTGRES_MAX_OPEN_CONNS", defaultPostgresMaxOpen),
			MaxIdleConns:    intWithDefault(lookup, "ORDERCORE_POSTGRES_MAX_IDLE_CONNS", defaultPostgresMaxIdle),
			ConnMaxLifetime: durationWithDefault(lookup, "ORDERCORE_POSTGRES_CONN_MAX_LIFETIME", defaultPostgresMaxLifetime),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "ORDERCORE_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "ORDERCORE_FIRESTORE_EMULATOR_HOST", ""),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "ORDERCORE_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "ORDERCORE_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Redis: RedisConfig{
			Addr:         stringWithDefault(lookup, "ORDERCORE_REDIS_ADDR", ""),
			Password:     stringWithDefault(lookup, "ORDERCORE_REDIS_PASSWORD", ""),
			DB:           intWithDefault(lookup, "ORDERCORE_REDIS_DB", 0),
			CartCacheTTL: durationWithDefault(lookup, "ORDERCORE_REDIS_CART_CACHE_TTL", defaultCartCacheTTL),
		},
		Events: EventsConfig{
			Driver:             strings.ToLower(stringWithDefault(lookup, "ORDERCORE_EVENTS_DRIVER", defaultEventsDriver)),
			ProjectID:          stringWithDefault(lookup, "ORDERCORE_EVENTS_PROJECT_ID", ""),
			Topic:              stringWithDefault(lookup, "ORDERCORE_EVENTS_TOPIC", defaultEventsTopic),
			Brokers:            csvWithDefault(lookup, "ORDERCORE_EVENTS_BROKERS"),
			BreakerFailures:    intWithDefault(lookup, "ORDERCORE_EVENTS_BREAKER_FAILURES", defaultBreakerFailures),
			BreakerOpenTimeout: durationWithDefault(lookup, "ORDERCORE_EVENTS_BREAKER_OPEN_TIMEOUT", defaultBreakerOpenTimeout),
			BreakerInterval:    durationWithDefault(lookup, "ORDERCORE_EVENTS_BREAKER_INTERVAL", defaultBreakerInterval),
		},
		Pricing: PricingConfig{
			DefaultCurrency:  strings.ToUpper(stringWithDefault(lookup, "ORDERCORE_PRICING_DEFAULT_CURRENCY", defaultCurrency)),
			CartTaxRate:      rate("ORDERCORE_PRICING_CART_TAX_RATE", "Pricing.CartTaxRate", decimal.RequireFromString("0.10")),
			OrderTaxRate:     rate("ORDERCORE_PRICING_ORDER_TAX_RATE", "Pricing.OrderTaxRate", decimal.RequireFromString("0.10")),
			ShippingFlat:     rate("ORDERCORE_PRICING_SHIPPING_FLAT", "Pricing.ShippingFlat", decimal.Zero),
			FreeShippingOver: rate("ORDERCORE_PRICING_FREE_SHIPPING_OVER", "Pricing.FreeShippingOver", decimal.Zero),
		},
		Cart: CartConfig{
			GuestTTL: durationWithDefault(lookup, "ORDERCORE_CART_GUEST_TTL", defaultGuestCartTTL),
		},
		Orders: OrdersConfig{
			NumberPrefix:    strings.ToUpper(stringWithDefault(lookup, "ORDERCORE_ORDERS_NUMBER_PREFIX", defaultOrderNumberPrefix)),
			NumberAttempts:  intWithDefault(lookup, "ORDERCORE_ORDERS_NUMBER_ATTEMPTS", defaultOrderNumberAttempts),
			RestockOnReturn: boolWithDefault(lookup, "ORDERCORE_ORDERS_RESTOCK_ON_RETURN", true),
		},
		Idempotency: IdempotencyConfig{
			Header:           stringWithDefault(lookup, "ORDERCORE_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              durationWithDefault(lookup, "ORDERCORE_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  durationWithDefault(lookup, "ORDERCORE_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: intWithDefault(lookup, "ORDERCORE_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatch),
		},
		Auth: AuthConfig{
			GuestSessionHeader: stringWithDefault(lookup, "ORDERCORE_AUTH_GUEST_SESSION_HEADER", defaultGuestSessionHeader),
			StaffRole:          strings.ToLower(stringWithDefault(lookup, "ORDERCORE_AUTH_STAFF_ROLE", defaultStaffRole)),
			DisableFirebase:    boolWithDefault(lookup, "ORDERCORE_AUTH_DISABLE_FIREBASE", false),
		},
	}

	// Firestore and the Pub/Sub publisher default to the Firebase project when unspecified.
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.Events.ProjectID == "" {
		cfg.Events.ProjectID = cfg.Firebase.ProjectID
	}

	resolvedSecrets := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Postgres.DSN", &cfg.Postgres.DSN},
		{"Redis.Password", &cfg.Redis.Password},
	}
	for _, target := range secretFields {
		resolved, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = resolved
		resolvedSecrets[target.name] = strings.TrimSpace(resolved)
	}

	if err := validateConfig(cfg, invalid); err != nil {
		return Config{}, err
	}
	if missing := findMissingSecrets(options.requiredSecrets, resolvedSecrets); missing != nil {
		return Config{}, missing
	}
	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" || !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config, invalid []string) error {
	missing := append([]string(nil), invalid...)

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	switch cfg.Store.Driver {
	case StoreDriverMemory:
	case StoreDriverPostgres:
		if strings.TrimSpace(cfg.Postgres.DSN) == "" {
			missing = append(missing, "Postgres.DSN")
		}
	case StoreDriverFirestore:
		if cfg.Firestore.ProjectID == "" {
			missing = append(missing, "Firestore.ProjectID")
		}
	default:
		missing = append(missing, "Store.Driver")
	}
	if cfg.Store.LockTimeout <= 0 {
		missing = append(missing, "Store.LockTimeout")
	}
	if cfg.Store.TxAttempts <= 0 {
		missing = append(missing, "Store.TxAttempts")
	}

	switch cfg.Events.Driver {
	case EventsDriverLog:
	case EventsDriverPubSub:
		if cfg.Events.ProjectID == "" {
			missing = append(missing, "Events.ProjectID")
		}
		if cfg.Events.Topic == "" {
			missing = append(missing, "Events.Topic")
		}
	case EventsDriverKafka:
		if len(cfg.Events.Brokers) == 0 {
			missing = append(missing, "Events.Brokers")
		}
		if cfg.Events.Topic == "" {
			missing = append(missing, "Events.Topic")
		}
	default:
		missing = append(missing, "Events.Driver")
	}
	if cfg.Events.BreakerFailures <= 0 {
		missing = append(missing, "Events.BreakerFailures")
	}

	if len(cfg.Pricing.DefaultCurrency) != 3 {
		missing = append(missing, "Pricing.DefaultCurrency")
	}
	if cfg.Pricing.CartTaxRate.IsNegative() {
		missing = append(missing, "Pricing.CartTaxRate")
	}
	if cfg.Pricing.OrderTaxRate.IsNegative() {
		missing = append(missing, "Pricing.OrderTaxRate")
	}
	if cfg.Pricing.ShippingFlat.IsNegative() {
		missing = append(missing, "Pricing.ShippingFlat")
	}
	if cfg.Cart.GuestTTL <= 0 {
		missing = append(missing, "Cart.GuestTTL")
	}
	if strings.TrimSpace(cfg.Orders.NumberPrefix) == "" {
		missing = append(missing, "Orders.NumberPrefix")
	}
	if cfg.Orders.NumberAttempts <= 0 {
		missing = append(missing, "Orders.NumberAttempts")
	}
	if !cfg.Auth.DisableFirebase && cfg.Firebase.ProjectID == "" {
		missing = append(missing, "Firebase.ProjectID")
	}
	if strings.TrimSpace(cfg.Auth.GuestSessionHeader) == "" {
		missing = append(missing, "Auth.GuestSessionHeader")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		missing = append(missing, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		missing = append(missing, "Idempotency.TTL")
	}
	if cfg.Idempotency.CleanupInterval <= 0 {
		missing = append(missing, "Idempotency.CleanupInterval")
	}
	if cfg.Idempotency.CleanupBatchSize <= 0 {
		missing = append(missing, "Idempotency.CleanupBatchSize")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	if len(required) == 0 {
		return nil
	}
	missing := make([]missingSecret, 0, len(required))
	seen := make(map[string]struct{})
	for _, name := range required {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		if value := strings.TrimSpace(resolved[trimmed]); value != "" {
			continue
		}
		missing = append(missing, missingSecret{
			name:     trimmed,
			redacted: redactSecretName(trimmed),
		})
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{secrets: missing}
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}

// decimalWithDefault reports false when a value is present but unparseable, so the loader can list
// it as invalid instead of silently falling back.
func decimalWithDefault(lookup func(string) (string, bool), key string, fallback decimal.Decimal) (decimal.Decimal, bool) {
	value, ok := lookup(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback, true
	}
	parsed, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return fallback, false
	}
	return parsed, true
}

func csvWithDefault(lookup func(string) (string, bool), key string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
