package authcore

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/store"
	"github.com/MrEthical07/authcore/store/memory"
	"golang.org/x/crypto/bcrypt"
)

func TestSignUpCreatesOwnerWorkspaceAndTrial(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	res := signUpAlice(t, env)
	if res.Tokens.AccessToken == "" || res.Tokens.RefreshToken == "" {
		t.Fatal("expected both tokens to be issued")
	}
	if res.Tokens.TokenType != TokenTypeBearer || res.Tokens.ExpiresIn != 15*time.Minute {
		t.Fatalf("unexpected token metadata: %+v", res.Tokens)
	}

	user, err := env.records.FindUserByEmail(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("FindUserByEmail failed: %v", err)
	}
	if user.Role != store.RoleOwner {
		t.Fatalf("expected OWNER role, got %s", user.Role)
	}
	if user.PasswordHash == "Secret123!" || !strings.HasPrefix(user.PasswordHash, "$2") {
		t.Fatal("expected a bcrypt hash to be stored")
	}

	ws, ok := env.records.Workspace(user.WorkspaceID)
	if !ok {
		t.Fatal("expected workspace to exist")
	}
	if ws.Name != "Wonderland" || ws.Slug != "wonderland" {
		t.Fatalf("unexpected workspace: %+v", ws)
	}

	sub, ok := env.records.Subscription(ws.ID)
	if !ok {
		t.Fatal("expected subscription to exist")
	}
	if sub.Plan != store.PlanTrial || sub.Status != store.StatusTrialing {
		t.Fatalf("unexpected subscription: %+v", sub)
	}
	trial := sub.TrialEndsAt.Sub(sub.CreatedAt)
	if trial != 14*24*time.Hour {
		t.Fatalf("expected 14 day trial, got %s", trial)
	}

	claims, err := env.engine.ValidateAccess(ctx, res.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccess failed: %v", err)
	}
	if claims.Subject != user.ID || claims.Email != user.Email || claims.WorkspaceID != ws.ID || claims.Role != "OWNER" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestSignUpConflicts(t *testing.T) {
	env := newTestEnv(t, nil)
	signUpAlice(t, env)

	_, err := env.engine.SignUp(deviceA(), SignUpInput{
		Email:         "  ALICE@example.com ",
		Password:      "another-password",
		WorkspaceName: "Elsewhere",
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate email, got %v", err)
	}

	_, err = env.engine.SignUp(deviceA(), SignUpInput{
		Email:         "bob@example.com",
		Password:      "another-password",
		WorkspaceName: "wonderland!",
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate workspace slug, got %v", err)
	}

	if users, workspaces := env.records.Counts(); users != 1 || workspaces != 1 {
		t.Fatalf("expected a single account, got users=%d workspaces=%d", users, workspaces)
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricSignUpConflict]; got != 2 {
		t.Fatalf("expected 2 conflicts counted, got %d", got)
	}
}

func TestSignUpRejectsInvalidInput(t *testing.T) {
	env := newTestEnv(t, nil)

	cases := map[string]SignUpInput{
		"bad email":       {Email: "not-an-email", Password: "Secret123!", WorkspaceName: "W"},
		"display name":    {Email: "Alice <alice@example.com>", Password: "Secret123!", WorkspaceName: "W"},
		"short password":  {Email: "a@example.com", Password: "short", WorkspaceName: "W"},
		"long password":   {Email: "a@example.com", Password: strings.Repeat("x", 73), WorkspaceName: "W"},
		"empty workspace": {Email: "a@example.com", Password: "Secret123!", WorkspaceName: "   "},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := env.engine.SignUp(deviceA(), in)
			if !errors.Is(err, ErrBadRequest) {
				t.Fatalf("expected ErrBadRequest, got %v", err)
			}
		})
	}

	if users, _ := env.records.Counts(); users != 0 {
		t.Fatalf("expected no users, got %d", users)
	}
}

func TestSignUpIsAtomicWhenWorkspaceInsertFails(t *testing.T) {
	env := newTestEnv(t, nil)
	env.records.FailOn(memory.OpCreateWorkspace, errors.New("disk full"))

	_, err := env.engine.SignUp(deviceA(), SignUpInput{
		Email:         "alice@example.com",
		Password:      "Secret123!",
		WorkspaceName: "Wonderland",
	})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}

	if users, workspaces := env.records.Counts(); users != 0 || workspaces != 0 {
		t.Fatalf("expected nothing persisted, got users=%d workspaces=%d", users, workspaces)
	}
	if _, err := env.records.FindUserByEmail(context.Background(), "alice@example.com"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected no user record, got %v", err)
	}
	if n := countKeys(t, env.mr, "rt"); n != 0 {
		t.Fatalf("expected no refresh entries, got %d keys", n)
	}

	env.records.FailOn(memory.OpCreateWorkspace, nil)
	signUpAlice(t, env)
}

func TestSignUpRateLimitedPerIP(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.RateLimit.SignUp = RateLimitPolicy{Limit: 2, Window: time.Hour}
	})

	for i, email := range []string{"a@example.com", "b@example.com"} {
		if _, err := env.engine.SignUp(deviceA(), SignUpInput{Email: email, Password: "Secret123!", WorkspaceName: email}); err != nil {
			t.Fatalf("sign-up %d failed: %v", i, err)
		}
	}

	_, err := env.engine.SignUp(deviceA(), SignUpInput{Email: "c@example.com", Password: "Secret123!", WorkspaceName: "c"})
	var limited *RateLimitedError
	if !errors.As(err, &limited) || !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected RateLimitedError, got %v", err)
	}
	if limited.Category != RateCategorySignUp {
		t.Fatalf("unexpected category %q", limited.Category)
	}

	if _, err := env.engine.SignUp(deviceB(), SignUpInput{Email: "c@example.com", Password: "Secret123!", WorkspaceName: "c"}); err != nil {
		t.Fatalf("expected another IP to be allowed, got %v", err)
	}
}

func TestAuthenticateFailuresAreIndistinguishable(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	signUpAlice(t, env)

	if _, err := env.engine.SignInFederated(deviceA(), FederatedIdentity{
		Provider: "google", Subject: "g-1", Email: "fed@example.com", FirstName: "Fed",
	}, ""); err != nil {
		t.Fatalf("SignInFederated failed: %v", err)
	}

	cases := []struct{ email, password string }{
		{"alice@example.com", "wrong-password"},
		{"nobody@example.com", "Secret123!"},
		{"fed@example.com", ""},
		{"fed@example.com", "anything-at-all"},
		{"garbage", "Secret123!"},
	}
	for _, c := range cases {
		_, err := env.engine.Authenticate(ctx, c.email, c.password)
		if err != ErrUnauthorized {
			t.Fatalf("Authenticate(%q): expected bare ErrUnauthorized, got %v", c.email, err)
		}
	}

	user, err := env.engine.Authenticate(ctx, " Alice@Example.com", "Secret123!")
	if err != nil || user.Email != "alice@example.com" {
		t.Fatalf("expected successful authentication, got user=%v err=%v", user, err)
	}
}

func TestSignInRateLimitBoundaryAndBlock(t *testing.T) {
	env := newTestEnv(t, nil)
	signUpAlice(t, env)

	for i := 0; i < 5; i++ {
		_, err := env.engine.SignIn(deviceA(), "alice@example.com", "wrong-password")
		if !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("attempt %d: expected ErrUnauthorized, got %v", i+1, err)
		}
	}

	_, err := env.engine.SignIn(deviceA(), "alice@example.com", "Secret123!")
	var limited *RateLimitedError
	if !errors.As(err, &limited) {
		t.Fatalf("expected RateLimitedError on 6th attempt, got %v", err)
	}
	if limited.RetryAfter != 30*time.Minute {
		t.Fatalf("expected 30m retry-after, got %s", limited.RetryAfter)
	}

	// The block outlives the 15 minute window.
	env.mr.FastForward(20 * time.Minute)
	if _, err := env.engine.SignIn(deviceA(), "alice@example.com", "Secret123!"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected block to persist past the window, got %v", err)
	}

	env.mr.FastForward(11 * time.Minute)
	if _, err := env.engine.SignIn(deviceA(), "alice@example.com", "Secret123!"); err != nil {
		t.Fatalf("expected sign-in after block expiry, got %v", err)
	}

	// Another address is tracked independently.
	if _, err := env.engine.SignIn(deviceB(), "alice@example.com", "Secret123!"); err != nil {
		t.Fatalf("expected other IP to sign in, got %v", err)
	}
}

func TestSignInSuccessClearsFailureCounter(t *testing.T) {
	env := newTestEnv(t, nil)
	signUpAlice(t, env)

	for i := 0; i < 4; i++ {
		_, _ = env.engine.SignIn(deviceA(), "alice@example.com", "wrong-password")
	}
	if _, err := env.engine.SignIn(deviceA(), "alice@example.com", "Secret123!"); err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		_, err := env.engine.SignIn(deviceA(), "alice@example.com", "wrong-password")
		if errors.Is(err, ErrRateLimited) {
			t.Fatalf("attempt %d after success should not be limited", i+1)
		}
	}
}

func TestSignInRecordsLoginAndUpgradesHashCost(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.Cipher.BcryptCost = bcrypt.MinCost + 1
	})
	ctx := context.Background()

	weak, err := bcrypt.GenerateFromPassword([]byte("Secret123!"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("GenerateFromPassword failed: %v", err)
	}
	now := time.Now().UTC()
	user := &store.User{
		ID: "u-legacy", Email: "legacy@example.com", PasswordHash: string(weak),
		Role: store.RoleMember, WorkspaceID: "w-legacy", CreatedAt: now, UpdatedAt: now,
	}
	if err := env.records.CreateUserAndWorkspace(ctx, user,
		&store.Workspace{ID: "w-legacy", Name: "Legacy", Slug: "legacy", CreatedAt: now},
		&store.Subscription{ID: "s-legacy", WorkspaceID: "w-legacy", Plan: store.PlanTrial, Status: store.StatusTrialing, TrialEndsAt: now, CreatedAt: now},
	); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	res, err := env.engine.SignIn(deviceA(), "legacy@example.com", "Secret123!")
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if res.User.Role != "MEMBER" {
		t.Fatalf("unexpected role %q", res.User.Role)
	}

	stored, err := env.records.FindUserByID(ctx, "u-legacy")
	if err != nil {
		t.Fatalf("FindUserByID failed: %v", err)
	}
	if stored.LastLoginAt == nil {
		t.Fatal("expected LastLoginAt to be recorded")
	}
	cost, err := bcrypt.Cost([]byte(stored.PasswordHash))
	if err != nil || cost != bcrypt.MinCost+1 {
		t.Fatalf("expected hash upgraded to cost %d, got %d (%v)", bcrypt.MinCost+1, cost, err)
	}
	if _, err := env.engine.SignIn(deviceA(), "legacy@example.com", "Secret123!"); err != nil {
		t.Fatalf("SignIn with upgraded hash failed: %v", err)
	}
}

func TestSlugify(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "ascii", in: "Wonderland Labs!", want: "wonderland-labs"},
		{name: "diacritics", in: "Café Zoë", want: "cafe-zoe"},
		{name: "fullwidth", in: "ＡＣＭＥ ２０２４", want: "acme-2024"},
		{name: "ligature", in: "ﬁnance", want: "finance"},
		{name: "mixed script", in: "Équipe 東京", want: "equipe"},
		{name: "no latin", in: "東京チーム", want: ""},
		{name: "punctuation only", in: "!!! ---", want: ""},
		{name: "length cap", in: strings.Repeat("a", 60), want: strings.Repeat("a", maxSlugLength)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := slugify(tc.in); got != tc.want {
				t.Fatalf("slugify(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestSignUpNonLatinWorkspaceNamesDoNotCollide(t *testing.T) {
	env := newTestEnv(t, nil)

	first, err := env.engine.SignUp(deviceA(), SignUpInput{
		Email:         "kenji@example.com",
		Password:      "Secret123!",
		WorkspaceName: "東京チーム",
	})
	if err != nil {
		t.Fatalf("first SignUp failed: %v", err)
	}
	second, err := env.engine.SignUp(deviceB(), SignUpInput{
		Email:         "olga@example.com",
		Password:      "Secret123!",
		WorkspaceName: "Команда",
	})
	if err != nil {
		t.Fatalf("second SignUp failed: %v", err)
	}

	ws1, ok := env.records.Workspace(first.User.WorkspaceID)
	if !ok {
		t.Fatal("expected first workspace to exist")
	}
	ws2, ok := env.records.Workspace(second.User.WorkspaceID)
	if !ok {
		t.Fatal("expected second workspace to exist")
	}
	if ws1.Name != "東京チーム" || ws2.Name != "Команда" {
		t.Fatalf("expected names to be kept verbatim, got %q and %q", ws1.Name, ws2.Name)
	}
	if !strings.HasPrefix(ws1.Slug, "workspace-") || !strings.HasPrefix(ws2.Slug, "workspace-") {
		t.Fatalf("expected generated slugs, got %q and %q", ws1.Slug, ws2.Slug)
	}
	if ws1.Slug == ws2.Slug {
		t.Fatalf("expected distinct slugs, both were %q", ws1.Slug)
	}
}
