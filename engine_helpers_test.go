package authcore

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/MrEthical07/authcore/store/memory"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

const (
	testJWTSecret    = "0123456789abcdef0123456789abcdef"
	testMasterSecret = "fedcba9876543210fedcba9876543210"
)

type sentMail struct {
	email string
	token string
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *recordingMailer) SendPasswordResetEmail(_ context.Context, email, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{email: email, token: token})
	return m.err
}

func (m *recordingMailer) last(t *testing.T) sentMail {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		t.Fatal("expected a password reset email")
	}
	return m.sent[len(m.sent)-1]
}

func (m *recordingMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type testEnv struct {
	engine  *Engine
	mr      *miniredis.Miniredis
	rdb     *redis.Client
	records *memory.Store
	mailer  *recordingMailer
	audit   *ChannelSink
}

func newTestRedis(t testing.TB) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = []byte(testJWTSecret)
	cfg.Cipher.MasterSecret = []byte(testMasterSecret)
	cfg.Cipher.BcryptCost = bcrypt.MinCost
	cfg.Cipher.KDFIterations = 1_000
	cfg.Audit.Enabled = true
	cfg.Audit.BufferSize = 4096
	cfg.Audit.DropIfFull = true
	return cfg
}

func newTestEnv(t testing.TB, mutate func(*Config)) *testEnv {
	t.Helper()

	mr, rdb := newTestRedis(t)
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	env := &testEnv{
		mr:      mr,
		rdb:     rdb,
		records: memory.New(),
		mailer:  &recordingMailer{},
		audit:   NewChannelSink(4096),
	}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithRecords(env.records).
		WithMailer(env.mailer).
		WithAuditSink(env.audit).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	env.engine = engine
	return env
}

// drainAudit closes the engine and returns every audit event delivered.
func (env *testEnv) drainAudit() []AuditEvent {
	env.engine.Close()
	var events []AuditEvent
	for {
		select {
		case ev := <-env.audit.Events():
			events = append(events, ev)
		default:
			return events
		}
	}
}

func clientCtx(ip, userAgent string) context.Context {
	return WithUserAgent(WithClientIP(context.Background(), ip), userAgent)
}

func deviceA() context.Context {
	return clientCtx("203.0.113.10", "Mozilla/5.0 (X11; Linux x86_64) Firefox/128.0")
}

func deviceB() context.Context {
	return clientCtx("198.51.100.77", "curl/8.5.0")
}

func signUpAlice(t testing.TB, env *testEnv) *AuthResult {
	t.Helper()
	res, err := env.engine.SignUp(deviceA(), SignUpInput{
		Email:         "alice@example.com",
		Password:      "Secret123!",
		FirstName:     "Alice",
		LastName:      "Liddell",
		WorkspaceName: "Wonderland",
	})
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	return res
}

func countKeys(t *testing.T, mr *miniredis.Miniredis, prefix string) int {
	t.Helper()
	n := 0
	for _, k := range mr.Keys() {
		if strings.HasPrefix(k, prefix) {
			n++
		}
	}
	return n
}
