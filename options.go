package cortex

import (
	"log/slog"
	"time"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	databasePath string
	logger       *slog.Logger
	version      string
	memoryStore  MemoryStore
	atomWriter   AtomWriter
	messaging    MessagingSink
	privateKey   string
	publicKey    string
	sessionTTL   time.Duration
	now          func() time.Time
}

// WithDatabasePath overrides the sqlite file path from config
// (CORTEX_DB_PATH env var). ":memory:" is valid for tests.
func WithDatabasePath(path string) Option {
	return func(o *resolvedOptions) { o.databasePath = path }
}

// WithLogger sets the structured logger for the App. If not set, the
// default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithMemoryStore wires an external memory store into Knowledge
// Discovery. Without this option, memory lookup is disabled and every
// Check call is SOP-only.
func WithMemoryStore(store MemoryStore) Option {
	return func(o *resolvedOptions) { o.memoryStore = store }
}

// WithAtomWriter wires the write half of the same external memory store
// into the Feedback Tracker's pattern promotion path. Without this
// option, a repeatedly-acted-on advisory pattern is detected but never
// written back as a causal atom.
func WithAtomWriter(writer AtomWriter) Option {
	return func(o *resolvedOptions) { o.atomWriter = writer }
}

// WithMessaging wires the opaque send-message sink used for milestone
// summaries and critical confirmation requests.
func WithMessaging(sink MessagingSink) Option {
	return func(o *resolvedOptions) { o.messaging = sink }
}

// WithSessionKeys sets the Ed25519 key pair paths and token TTL the
// session token manager uses to issue and validate interactive-session
// descriptors, overriding CORTEX_JWT_PRIVATE_KEY / CORTEX_JWT_PUBLIC_KEY.
func WithSessionKeys(privateKeyPath, publicKeyPath string, ttl time.Duration) Option {
	return func(o *resolvedOptions) {
		o.privateKey = privateKeyPath
		o.publicKey = publicKeyPath
		o.sessionTTL = ttl
	}
}

// WithClock overrides the App's notion of "now". Test-only: production
// callers should never need this.
func WithClock(now func() time.Time) Option {
	return func(o *resolvedOptions) { o.now = now }
}
