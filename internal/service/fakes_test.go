package service

import (
	"context"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sakif/user-manager/internal/apperror"
	"github.com/sakif/user-manager/internal/auth"
	"github.com/sakif/user-manager/internal/events"
	"github.com/sakif/user-manager/internal/model"
)

// =========================================================================
// FAKES AND HELPERS
// =========================================================================

// fakeUserRepo is an in-memory repository.UserRepository. Uniqueness is
// case-insensitive, like the NOCASE columns of the SQLite schema.
type fakeUserRepo struct {
	mu     sync.Mutex
	users  map[int64]*model.User
	nextID int64

	// set to a non-nil error to simulate a store failure
	insertErr error
	findErr   error
	listErr   error

	// skipExistsCheck hides rows from ExistsByUsernameOrEmail so a test can
	// reach the insert-time DuplicateKey path.
	skipExistsCheck bool
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[int64]*model.User), nextID: 1}
}

func (f *fakeUserRepo) FindByUsernameOrEmail(_ context.Context, identifier string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	for _, id := range f.sortedIDs() {
		u := f.users[id]
		if strings.EqualFold(u.Username, identifier) || strings.EqualFold(u.Email, identifier) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, apperror.NotFound("user", identifier)
}

func (f *fakeUserRepo) ExistsByUsernameOrEmail(_ context.Context, username, email string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	if !f.skipExistsCheck {
		for _, id := range f.sortedIDs() {
			u := f.users[id]
			if strings.EqualFold(u.Username, username) || strings.EqualFold(u.Email, email) {
				cp := *u
				return &cp, nil
			}
		}
	}
	return nil, apperror.NotFound("user", username)
}

func (f *fakeUserRepo) Insert(_ context.Context, user *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	if f.conflict(0, user.Username, user.Email) {
		return apperror.DuplicateKey("", "Username or email already exists")
	}
	if user.Role == "" {
		user.Role = model.RoleUser
	}
	user.ID = f.nextID
	f.nextID++
	user.CreatedAt = time.Now().UTC().Truncate(time.Second)
	cp := *user
	f.users[user.ID] = &cp
	return nil
}

func (f *fakeUserRepo) FindByID(_ context.Context, id int64) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	u, ok := f.users[id]
	if !ok {
		return nil, apperror.NotFound("user", "")
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUserRepo) ListAll(context.Context) ([]model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]model.User, 0, len(f.users))
	for _, id := range f.sortedIDs() {
		cp := *f.users[id]
		cp.PasswordHash = ""
		out = append(out, cp)
	}
	return out, nil
}

func (f *fakeUserRepo) Update(_ context.Context, id int64, upd model.UserUpdate) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return 0, apperror.NotFound("user", "")
	}
	username, email := u.Username, u.Email
	if upd.Username != nil {
		username = *upd.Username
	}
	if upd.Email != nil {
		email = *upd.Email
	}
	if f.conflict(id, username, email) {
		return 0, apperror.DuplicateKey("", "Username or email already exists")
	}
	u.Username, u.Email = username, email
	if upd.FullName != nil {
		u.FullName = *upd.FullName
	}
	return 1, nil
}

func (f *fakeUserRepo) DeleteByID(_ context.Context, id int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[id]; !ok {
		return 0, apperror.NotFound("user", "")
	}
	delete(f.users, id)
	return 1, nil
}

// seed stores u directly, bypassing validation and hashing.
func (f *fakeUserRepo) seed(u model.User) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	u.ID = f.nextID
	f.nextID++
	f.users[u.ID] = &u
	return u.ID
}

func (f *fakeUserRepo) get(id int64) (model.User, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return model.User{}, false
	}
	return *u, true
}

func (f *fakeUserRepo) conflict(self int64, username, email string) bool {
	for id, u := range f.users {
		if id == self {
			continue
		}
		if strings.EqualFold(u.Username, username) || strings.EqualFold(u.Email, email) {
			return true
		}
	}
	return false
}

func (f *fakeUserRepo) sortedIDs() []int64 {
	ids := make([]int64, 0, len(f.users))
	for id := range f.users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// recordingPublisher keeps every event it is given.
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) kinds() []events.Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Kind, len(p.events))
	for i, e := range p.events {
		out[i] = e.Kind
	}
	return out
}

// stallingPublisher never delivers; it returns only once ctx is done.
type stallingPublisher struct{}

func (stallingPublisher) Publish(ctx context.Context, _ events.Event) error {
	<-ctx.Done()
	return ctx.Err()
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testTokenService(t *testing.T) *auth.TokenService {
	t.Helper()
	ts, err := auth.NewTokenService("test-secret-at-least-16-chars!!")
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	return ts
}

// newTestAuthService wires an AuthService to fakes. Cost 4 is bcrypt's
// minimum and keeps the tests fast.
func newTestAuthService(t *testing.T, repo *fakeUserRepo, pub *recordingPublisher) *AuthService {
	t.Helper()
	var p events.Publisher
	if pub != nil {
		p = pub
	}
	return NewAuthService(repo, auth.NewPasswordService(4), testTokenService(t), p, testLogger())
}

func claimsFor(id int64, role model.Role) *auth.Claims {
	return &auth.Claims{UserID: id, Username: "caller", Role: role}
}
