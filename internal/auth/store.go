package auth

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/vexaro/backend-vpn/internal/db"
)

// Store is the persistence surface the auth service needs. *db.Queries
// satisfies it; tests provide an in-memory fake.
type Store interface {
	CreateUser(ctx context.Context, arg db.CreateUserParams) (db.User, error)
	GetUserByEmail(ctx context.Context, email string) (db.User, error)
	GetUserByID(ctx context.Context, id pgtype.UUID) (db.User, error)
	CreateSession(ctx context.Context, arg db.CreateSessionParams) (db.Session, error)
	GetSessionByTokenHash(ctx context.Context, tokenHash string) (db.Session, error)
	RotateSessionToken(ctx context.Context, arg db.RotateSessionTokenParams) error
	RevokeSessionByTokenHash(ctx context.Context, tokenHash string) error
}
