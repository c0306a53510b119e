package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/vexaro/backend-vpn/internal/db"
)

type fakeStore struct {
	mu              sync.Mutex
	usersByEmail    map[string]db.User
	usersByID       map[string]db.User
	sessionsByToken map[string]db.Session
	sessionsByID    map[string]db.Session
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		usersByEmail:    make(map[string]db.User),
		usersByID:       make(map[string]db.User),
		sessionsByToken: make(map[string]db.Session),
		sessionsByID:    make(map[string]db.Session),
	}
}

func (f *fakeStore) addUser(u db.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usersByEmail[strings.ToLower(u.Email)] = u
	f.usersByID[uuidString(u.ID)] = u
}

func (f *fakeStore) activeSession(tokenHash string) (db.Session, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessionsByToken[tokenHash]
	if !ok || session.RevokedAt.Valid {
		return db.Session{}, false
	}
	return session, true
}

func (f *fakeStore) CreateUser(ctx context.Context, arg db.CreateUserParams) (db.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.usersByEmail[strings.ToLower(arg.Email)]; exists {
		return db.User{}, fmt.Errorf("duplicate email")
	}
	id := uuid.New()
	pgID, _ := pgUUIDFromString(id.String())
	now := time.Now()
	user := db.User{
		ID:           pgID,
		TelegramID:   arg.TelegramID,
		Email:        arg.Email,
		Name:         arg.Name,
		PasswordHash: arg.PasswordHash,
		Roles:        arg.Roles,
		CreatedAt:    pgTimestamp(now),
		UpdatedAt:    pgTimestamp(now),
	}
	f.usersByEmail[strings.ToLower(arg.Email)] = user
	f.usersByID[id.String()] = user
	return user, nil
}

func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (db.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.usersByEmail[strings.ToLower(email)]
	if !ok {
		return db.User{}, fmt.Errorf("user not found")
	}
	return user, nil
}

func (f *fakeStore) GetUserByID(ctx context.Context, id pgtype.UUID) (db.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.usersByID[uuidString(id)]
	if !ok {
		return db.User{}, fmt.Errorf("user not found")
	}
	return user, nil
}

func (f *fakeStore) CreateSession(ctx context.Context, arg db.CreateSessionParams) (db.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	pgID, _ := pgUUIDFromString(id.String())
	session := db.Session{
		ID:        pgID,
		UserID:    arg.UserID,
		TokenHash: arg.TokenHash,
		UserAgent: arg.UserAgent,
		IP:        arg.IP,
		ExpiresAt: arg.ExpiresAt,
		CreatedAt: pgTimestamp(time.Now()),
	}
	f.sessionsByToken[arg.TokenHash] = session
	f.sessionsByID[id.String()] = session
	return session, nil
}

func (f *fakeStore) GetSessionByTokenHash(ctx context.Context, tokenHash string) (db.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessionsByToken[tokenHash]
	if !ok || session.RevokedAt.Valid {
		return db.Session{}, fmt.Errorf("session not found")
	}
	return session, nil
}

func (f *fakeStore) RotateSessionToken(ctx context.Context, arg db.RotateSessionTokenParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := uuidString(arg.ID)
	session, ok := f.sessionsByID[key]
	if !ok {
		return fmt.Errorf("session not found")
	}
	delete(f.sessionsByToken, session.TokenHash)
	session.TokenHash = arg.TokenHash
	session.ExpiresAt = arg.ExpiresAt
	f.sessionsByID[key] = session
	f.sessionsByToken[arg.TokenHash] = session
	return nil
}

func (f *fakeStore) RevokeSessionByTokenHash(ctx context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessionsByToken[tokenHash]
	if !ok {
		return nil
	}
	session.RevokedAt = pgTimestamp(time.Now())
	f.sessionsByToken[tokenHash] = session
	f.sessionsByID[uuidString(session.ID)] = session
	return nil
}
