package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const createUser = `
INSERT INTO users (telegram_id, email, name, password_hash, roles)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, telegram_id, email, name, password_hash, roles,
          legacy_discount_percent, purchase_discount_percent,
          purchase_discount_expires_at, created_at, updated_at
`

// CreateUserParams are the inputs for CreateUser.
type CreateUserParams struct {
	TelegramID   pgtype.Int8
	Email        string
	Name         string
	PasswordHash pgtype.Text
	Roles        []string
}

func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) (User, error) {
	row := q.db.QueryRow(ctx, createUser, arg.TelegramID, arg.Email, arg.Name, arg.PasswordHash, arg.Roles)
	return scanUser(row)
}

const getUserByID = `
SELECT id, telegram_id, email, name, password_hash, roles,
       legacy_discount_percent, purchase_discount_percent,
       purchase_discount_expires_at, created_at, updated_at
FROM users WHERE id = $1
`

func (q *Queries) GetUserByID(ctx context.Context, id pgtype.UUID) (User, error) {
	return scanUser(q.db.QueryRow(ctx, getUserByID, id))
}

const getUserByEmail = `
SELECT id, telegram_id, email, name, password_hash, roles,
       legacy_discount_percent, purchase_discount_percent,
       purchase_discount_expires_at, created_at, updated_at
FROM users WHERE lower(email) = lower($1)
`

func (q *Queries) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(q.db.QueryRow(ctx, getUserByEmail, email))
}

const setUserPurchaseDiscount = `
UPDATE users
SET purchase_discount_percent = $2,
    purchase_discount_expires_at = $3,
    updated_at = now()
WHERE id = $1
`

// SetUserPurchaseDiscountParams are the inputs for SetUserPurchaseDiscount.
type SetUserPurchaseDiscountParams struct {
	ID        pgtype.UUID
	Percent   int32
	ExpiresAt pgtype.Timestamptz
}

func (q *Queries) SetUserPurchaseDiscount(ctx context.Context, arg SetUserPurchaseDiscountParams) error {
	_, err := q.db.Exec(ctx, setUserPurchaseDiscount, arg.ID, arg.Percent, arg.ExpiresAt)
	return err
}

const clearUserPurchaseDiscount = `
UPDATE users
SET purchase_discount_percent = 0,
    purchase_discount_expires_at = NULL,
    updated_at = now()
WHERE id = $1
`

// ClearUserPurchaseDiscount removes the one-time purchase discount, called
// after the first settled payment consumes it.
func (q *Queries) ClearUserPurchaseDiscount(ctx context.Context, id pgtype.UUID) error {
	_, err := q.db.Exec(ctx, clearUserPurchaseDiscount, id)
	return err
}

const createSession = `
INSERT INTO sessions (user_id, token_hash, user_agent, ip, expires_at)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, user_id, token_hash, user_agent, ip, expires_at, revoked_at, created_at
`

// CreateSessionParams are the inputs for CreateSession.
type CreateSessionParams struct {
	UserID    pgtype.UUID
	TokenHash string
	UserAgent pgtype.Text
	IP        pgtype.Text
	ExpiresAt pgtype.Timestamptz
}

func (q *Queries) CreateSession(ctx context.Context, arg CreateSessionParams) (Session, error) {
	row := q.db.QueryRow(ctx, createSession, arg.UserID, arg.TokenHash, arg.UserAgent, arg.IP, arg.ExpiresAt)
	return scanSession(row)
}

const getSessionByTokenHash = `
SELECT id, user_id, token_hash, user_agent, ip, expires_at, revoked_at, created_at
FROM sessions
WHERE token_hash = $1 AND revoked_at IS NULL AND expires_at > now()
`

func (q *Queries) GetSessionByTokenHash(ctx context.Context, tokenHash string) (Session, error) {
	return scanSession(q.db.QueryRow(ctx, getSessionByTokenHash, tokenHash))
}

const rotateSessionToken = `
UPDATE sessions SET token_hash = $2, expires_at = $3 WHERE id = $1
`

// RotateSessionTokenParams are the inputs for RotateSessionToken.
type RotateSessionTokenParams struct {
	ID        pgtype.UUID
	TokenHash string
	ExpiresAt pgtype.Timestamptz
}

func (q *Queries) RotateSessionToken(ctx context.Context, arg RotateSessionTokenParams) error {
	_, err := q.db.Exec(ctx, rotateSessionToken, arg.ID, arg.TokenHash, arg.ExpiresAt)
	return err
}

const revokeSessionByTokenHash = `
UPDATE sessions SET revoked_at = now() WHERE token_hash = $1 AND revoked_at IS NULL
`

func (q *Queries) RevokeSessionByTokenHash(ctx context.Context, tokenHash string) error {
	_, err := q.db.Exec(ctx, revokeSessionByTokenHash, tokenHash)
	return err
}

const upsertPersonalDiscount = `
INSERT INTO personal_discounts (user_id, percent, valid_from, valid_until)
VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id) DO UPDATE
SET percent = EXCLUDED.percent,
    valid_from = EXCLUDED.valid_from,
    valid_until = EXCLUDED.valid_until
RETURNING id, user_id, percent, valid_from, valid_until, created_at
`

// UpsertPersonalDiscountParams are the inputs for UpsertPersonalDiscount.
type UpsertPersonalDiscountParams struct {
	UserID     pgtype.UUID
	Percent    int32
	ValidFrom  pgtype.Timestamptz
	ValidUntil pgtype.Timestamptz
}

func (q *Queries) UpsertPersonalDiscount(ctx context.Context, arg UpsertPersonalDiscountParams) (PersonalDiscount, error) {
	row := q.db.QueryRow(ctx, upsertPersonalDiscount, arg.UserID, arg.Percent, arg.ValidFrom, arg.ValidUntil)
	var d PersonalDiscount
	err := row.Scan(&d.ID, &d.UserID, &d.Percent, &d.ValidFrom, &d.ValidUntil, &d.CreatedAt)
	return d, err
}

const getActivePersonalDiscount = `
SELECT id, user_id, percent, valid_from, valid_until, created_at
FROM personal_discounts
WHERE user_id = $1
  AND (valid_from IS NULL OR valid_from <= now())
  AND (valid_until IS NULL OR valid_until > now())
`

func (q *Queries) GetActivePersonalDiscount(ctx context.Context, userID pgtype.UUID) (PersonalDiscount, error) {
	row := q.db.QueryRow(ctx, getActivePersonalDiscount, userID)
	var d PersonalDiscount
	err := row.Scan(&d.ID, &d.UserID, &d.Percent, &d.ValidFrom, &d.ValidUntil, &d.CreatedAt)
	return d, err
}

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var u User
	err := row.Scan(
		&u.ID, &u.TelegramID, &u.Email, &u.Name, &u.PasswordHash, &u.Roles,
		&u.LegacyDiscountPercent, &u.PurchaseDiscountPercent,
		&u.PurchaseDiscountExpiresAt, &u.CreatedAt, &u.UpdatedAt,
	)
	return u, err
}

func scanSession(row interface{ Scan(...any) error }) (Session, error) {
	var s Session
	err := row.Scan(&s.ID, &s.UserID, &s.TokenHash, &s.UserAgent, &s.IP, &s.ExpiresAt, &s.RevokedAt, &s.CreatedAt)
	return s, err
}
