package identity_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"database/sql"
	"encoding/pem"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	identity "github.com/goliatone/go-identity"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

var (
	testCertOnce sync.Once
	testCertPEM  []byte
	testKeyPEM   []byte

	testHashOnce sync.Once
	testHash     string
)

// testCertPair generates one self-signed RSA certificate for the whole test
// binary; key generation is too slow to repeat per test.
func testCertPair(t *testing.T) (certPEM, keyPEM []byte) {
	t.Helper()

	testCertOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			t.Fatalf("generate key: %v", err)
		}

		template := x509.Certificate{
			SerialNumber: big.NewInt(1),
			Subject:      pkix.Name{CommonName: "identity-test"},
			NotBefore:    time.Now().Add(-time.Hour),
			NotAfter:     time.Now().Add(24 * time.Hour),
			KeyUsage:     x509.KeyUsageDigitalSignature,
		}

		der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
		if err != nil {
			t.Fatalf("create certificate: %v", err)
		}

		testCertPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
		testKeyPEM = pem.EncodeToMemory(&pem.Block{
			Type:  "RSA PRIVATE KEY",
			Bytes: x509.MarshalPKCS1PrivateKey(key),
		})
	})

	return testCertPEM, testKeyPEM
}

// mismatchedKeyPEM generates a standalone key pair unrelated to the shared
// test certificate.
func mismatchedKeyPEM(t *testing.T) (pub, key []byte) {
	t.Helper()

	other, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(other),
	})
	return nil, keyPEM
}

func newTestCodec(t *testing.T) *identity.TokenCodec {
	t.Helper()

	certPEM, keyPEM := testCertPair(t)
	codec, err := identity.NewTokenCodec(certPEM, keyPEM, "test-issuer", []string{"test:audience"}, nil)
	require.NoError(t, err)
	return codec
}

// testPasswordHash returns a bcrypt hash of "password123", computed once.
func testPasswordHash(t *testing.T) string {
	t.Helper()

	testHashOnce.Do(func() {
		h, err := identity.HashPassword("password123")
		if err != nil {
			t.Fatalf("hash password: %v", err)
		}
		testHash = h
	})

	return testHash
}

// fakeUsers is an in-memory Users store. The embedded interface covers the
// repository surface the tests never touch.
type fakeUsers struct {
	identity.Users
	mu    sync.Mutex
	users map[uuid.UUID]*identity.User
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{users: map[uuid.UUID]*identity.User{}}
}

func (f *fakeUsers) add(user *identity.User) *identity.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if user.Stamp == "" {
		user.RotateStamp()
	}
	f.users[user.ID] = user
	return user
}

func (f *fakeUsers) find(identifier string) *identity.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.ID.String() == identifier || (u.Email != "" && strings.EqualFold(u.Email, identifier)) ||
			u.Username == identifier || (u.Phone != "" && u.Phone == identifier) {
			return u
		}
	}
	return nil
}

func (f *fakeUsers) GetByIdentifier(ctx context.Context, identifier string, criteria ...repository.SelectCriteria) (*identity.User, error) {
	if u := f.find(identifier); u != nil {
		return u, nil
	}
	return nil, repository.NewRecordNotFound()
}

func (f *fakeUsers) GetByIdentifierTx(ctx context.Context, tx bun.IDB, identifier string, criteria ...repository.SelectCriteria) (*identity.User, error) {
	return f.GetByIdentifier(ctx, identifier, criteria...)
}

func (f *fakeUsers) RegisterTx(ctx context.Context, tx bun.IDB, user *identity.User) (*identity.User, error) {
	return f.add(user), nil
}

func (f *fakeUsers) Register(ctx context.Context, user *identity.User) (*identity.User, error) {
	return f.add(user), nil
}

func (f *fakeUsers) ResetPasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash, stamp string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return repository.NewRecordNotFound()
	}
	u.PasswordHash = passwordHash
	u.Stamp = stamp
	return nil
}

func (f *fakeUsers) SetEmailConfirmedTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		u.EmailConfirmed = true
	}
	return nil
}

func (f *fakeUsers) SetPhoneConfirmedTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		u.PhoneConfirmed = true
	}
	return nil
}

func (f *fakeUsers) RotateStampTx(ctx context.Context, tx bun.IDB, id uuid.UUID, stamp string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		u.Stamp = stamp
	}
	return nil
}

func (f *fakeUsers) TrackAttemptedLogin(ctx context.Context, user *identity.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[user.ID]; ok {
		u.LoginAttempts++
		now := time.Now()
		u.LoginAttemptAt = &now
	}
	return nil
}

func (f *fakeUsers) TrackSuccessfulLogin(ctx context.Context, user *identity.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[user.ID]; ok {
		u.LoginAttempts = 0
		u.LoginAttemptAt = nil
		now := time.Now()
		u.LoggedInAt = &now
	}
	return nil
}

// fakeSessions is an in-memory Sessions store.
type fakeSessions struct {
	identity.Sessions
	mu       sync.Mutex
	sessions map[uuid.UUID]*identity.SessionRecord
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{sessions: map[uuid.UUID]*identity.SessionRecord{}}
}

func (f *fakeSessions) Start(ctx context.Context, userID uuid.UUID, ttl time.Duration) (*identity.SessionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	record := &identity.SessionRecord{
		ID:        uuid.New(),
		UserID:    userID,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	f.sessions[record.ID] = record
	return record, nil
}

func (f *fakeSessions) GetByID(ctx context.Context, id string, criteria ...repository.SelectCriteria) (*identity.SessionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sid, err := uuid.Parse(id)
	if err != nil {
		return nil, repository.NewRecordNotFound()
	}
	if s, ok := f.sessions[sid]; ok {
		return s, nil
	}
	return nil, repository.NewRecordNotFound()
}

func (f *fakeSessions) ConsumeGeneration(ctx context.Context, id uuid.UUID, presented int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok || s.Revoked || s.Generation != presented {
		return false, nil
	}
	s.Generation++
	return true, nil
}

func (f *fakeSessions) Revoke(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[id]; ok {
		s.Revoked = true
	}
	return nil
}

func (f *fakeSessions) RevokeTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error {
	return f.Revoke(ctx, id)
}

func (f *fakeSessions) RevokeAllForUser(ctx context.Context, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.UserID == userID {
			s.Revoked = true
		}
	}
	return nil
}

// fakeOneTimeTokens is an in-memory OneTimeTokens store.
type fakeOneTimeTokens struct {
	identity.OneTimeTokens
	mu     sync.Mutex
	tokens []*identity.OneTimeToken
}

func newFakeOneTimeTokens() *fakeOneTimeTokens {
	return &fakeOneTimeTokens{}
}

func (f *fakeOneTimeTokens) CreateTx(ctx context.Context, tx bun.IDB, record *identity.OneTimeToken, criteria ...repository.InsertCriteria) (*identity.OneTimeToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.CreatedAt == nil {
		now := time.Now()
		record.CreatedAt = &now
	}
	f.tokens = append(f.tokens, record)
	return record, nil
}

func (f *fakeOneTimeTokens) ActiveForTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, purpose identity.TokenPurpose) (*identity.OneTimeToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.tokens) - 1; i >= 0; i-- {
		tk := f.tokens[i]
		if tk.UserID == userID && tk.Purpose == purpose && !tk.Consumed && !tk.Superseded {
			return tk, nil
		}
	}
	return nil, repository.NewRecordNotFound()
}

func (f *fakeOneTimeTokens) LatestForTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, purpose identity.TokenPurpose) (*identity.OneTimeToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.tokens) - 1; i >= 0; i-- {
		tk := f.tokens[i]
		if tk.UserID == userID && tk.Purpose == purpose {
			return tk, nil
		}
	}
	return nil, repository.NewRecordNotFound()
}

func (f *fakeOneTimeTokens) SupersedeActiveTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, purpose identity.TokenPurpose) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tk := range f.tokens {
		if tk.UserID == userID && tk.Purpose == purpose && !tk.Consumed && !tk.Superseded {
			tk.Superseded = true
		}
	}
	return nil
}

func (f *fakeOneTimeTokens) MarkConsumedTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tk := range f.tokens {
		if tk.ID == id {
			if tk.Consumed {
				return false, nil
			}
			tk.Consumed = true
			now := time.Now()
			tk.ConsumedAt = &now
			return true, nil
		}
	}
	return false, nil
}

// fakeExternalLogins is an in-memory ExternalLogins store.
type fakeExternalLogins struct {
	identity.ExternalLogins
	mu     sync.Mutex
	logins []*identity.ExternalLogin
}

func newFakeExternalLogins() *fakeExternalLogins {
	return &fakeExternalLogins{}
}

func (f *fakeExternalLogins) CreateTx(ctx context.Context, tx bun.IDB, record *identity.ExternalLogin, criteria ...repository.InsertCriteria) (*identity.ExternalLogin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.logins {
		if l.Provider == record.Provider && l.Subject == record.Subject {
			return nil, fmt.Errorf("unique constraint violation: %s/%s", record.Provider, record.Subject)
		}
	}
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	f.logins = append(f.logins, record)
	return record, nil
}

func (f *fakeExternalLogins) FindByProviderTx(ctx context.Context, tx bun.IDB, provider, subject string) (*identity.ExternalLogin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.logins {
		if l.Provider == provider && l.Subject == subject {
			return l, nil
		}
	}
	return nil, repository.NewRecordNotFound()
}

func (f *fakeExternalLogins) ListForUser(ctx context.Context, userID uuid.UUID) ([]*identity.ExternalLogin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*identity.ExternalLogin{}
	for _, l := range f.logins {
		if l.UserID == userID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeExternalLogins) RemoveTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, provider string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, l := range f.logins {
		if l.UserID == userID && l.Provider == provider {
			f.logins = append(f.logins[:i], f.logins[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// fakeRepo wires the fakes into a RepositoryManager.
type fakeRepo struct {
	users    *fakeUsers
	sessions *fakeSessions
	tokens   *fakeOneTimeTokens
	external *fakeExternalLogins
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users:    newFakeUsers(),
		sessions: newFakeSessions(),
		tokens:   newFakeOneTimeTokens(),
		external: newFakeExternalLogins(),
	}
}

func (f *fakeRepo) Users() identity.Users                   { return f.users }
func (f *fakeRepo) Sessions() identity.Sessions             { return f.sessions }
func (f *fakeRepo) OneTimeTokens() identity.OneTimeTokens   { return f.tokens }
func (f *fakeRepo) ExternalLogins() identity.ExternalLogins { return f.external }
func (f *fakeRepo) Validate() error                         { return nil }
func (f *fakeRepo) MustValidate()                           {}

func (f *fakeRepo) RunInTx(ctx context.Context, opts *sql.TxOptions, fn func(ctx context.Context, tx bun.Tx) error) error {
	return fn(ctx, bun.Tx{})
}

// captureSender records deliveries so tests can read issued codes.
type captureSender struct {
	mu    sync.Mutex
	sends []capturedSend
	fail  error
}

type capturedSend struct {
	Channel     identity.Channel
	Destination string
	Code        string
	Purpose     identity.TokenPurpose
}

func (s *captureSender) Send(ctx context.Context, channel identity.Channel, destination, code string, purpose identity.TokenPurpose) error {
	if s.fail != nil {
		return s.fail
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sends = append(s.sends, capturedSend{
		Channel:     channel,
		Destination: destination,
		Code:        code,
		Purpose:     purpose,
	})
	return nil
}

func (s *captureSender) last(t *testing.T) capturedSend {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.sends, "expected at least one delivery")
	return s.sends[len(s.sends)-1]
}

// captureSink records activity events.
type captureSink struct {
	mu     sync.Mutex
	events []identity.ActivityEvent
}

func (s *captureSink) Record(ctx context.Context, event identity.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *captureSink) has(eventType identity.ActivityEventType) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e.EventType == eventType {
			return true
		}
	}
	return false
}
