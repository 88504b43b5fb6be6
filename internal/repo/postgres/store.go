// Package postgres is the relational CredentialStore/TokenStore over pgx's
// database/sql driver. Schema lives in ./migrations and is applied with goose.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/tazhibayda/identity-service/internal/dbx"
	"github.com/tazhibayda/identity-service/internal/domain"
	"github.com/tazhibayda/identity-service/internal/repo"
	"github.com/tazhibayda/identity-service/internal/repo/postgres/migrations"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"
)

const uniqueViolation = "23505"

const (
	qEmailTaken = `
		SELECT EXISTS (SELECT 1 FROM local_credentials WHERE email_address = $1)
	`
	qInsertUser = `
		INSERT INTO users (status, name, time_joined)
		VALUES ($1, $2, $3)
		RETURNING id
	`
	qActivateUser = `
		UPDATE users SET external_id = $1, status = $2
		WHERE id = $3
	`
	qInsertCredential = `
		INSERT INTO local_credentials (user_id, email_address, hidden_password)
		VALUES ($1, $2, $3)
	`
	qFindCredential = `
		SELECT user_id, email_address, hidden_password
		FROM local_credentials
		WHERE email_address = $1
	`
	qFindUser = `
		SELECT id, external_id, name, status, time_joined, time_left
		FROM users
		WHERE id = $1
	`
	qFindExternalUser = `
		SELECT u.id, u.external_id, u.name, u.status, u.time_joined, u.time_left
		FROM users u
		JOIN external_identity_links l ON l.user_id = u.id
		WHERE l.subject_hash = $1
	`
	qInsertLink = `
		INSERT INTO external_identity_links (user_id, subject_hash)
		VALUES ($1, $2)
		ON CONFLICT (subject_hash) DO NOTHING
	`
	qInsertToken = `
		INSERT INTO auth_tokens (token, user_id, expiry_time)
		VALUES ($1, $2, $3)
	`
	qFindToken = `
		SELECT token, user_id, expiry_time
		FROM auth_tokens
		WHERE token = $1
	`
)

// errLostRace rolls back an external-user insert that lost the unique race.
var errLostRace = errors.New("external identity inserted concurrently")

type Store struct {
	db      *sql.DB
	secrets repo.SecretSource
}

var _ repo.Store = (*Store)(nil)

func New(db *sql.DB, secrets repo.SecretSource) *Store {
	return &Store{db: db, secrets: secrets}
}

// Open connects with the pgx driver and checks the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// Migrate applies the embedded migrations.
func Migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, ".")
}

func (s *Store) CreateLocalUser(ctx context.Context, in repo.NewLocalUser) (u domain.User, err error) {
	sp, ctx := startSpan(ctx, "users.create_local")
	defer func() { finish(sp, err) }()

	hidden, err := s.secrets.HashPassword(in.Password)
	if err != nil {
		return domain.User{}, err
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var taken bool
		if err := tx.QueryRowContext(ctx, qEmailTaken, in.EmailAddress).Scan(&taken); err != nil {
			return domain.StoreError("check email", err)
		}
		if taken {
			return domain.ErrDuplicateEmail
		}

		created, err := s.insertUser(ctx, tx, in.Name, in.JoinedAt)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, qInsertCredential, mustID(created.ID), in.EmailAddress, hidden); err != nil {
			if isUniqueViolation(err) {
				return domain.ErrDuplicateEmail
			}
			return domain.StoreError("insert credential", err)
		}
		u = created
		return nil
	})
	if err != nil {
		return domain.User{}, txErr("create local user", err)
	}
	return u, nil
}

// insertUser creates the row as ADDED, then backfills the external id (keyed
// by the new id) and marks it ACTIVE.
func (s *Store) insertUser(ctx context.Context, tx dbx.DBTX, name string, joinedAt time.Time) (domain.User, error) {
	joinedAt = joinedAt.UTC()
	var id int64
	if err := tx.QueryRowContext(ctx, qInsertUser, string(domain.StatusAdded), name, joinedAt).Scan(&id); err != nil {
		return domain.User{}, domain.StoreError("insert user", err)
	}
	uid := strconv.FormatInt(id, 10)
	secret, err := s.secrets.GenerateUserSecret(uid)
	if err != nil {
		return domain.User{}, err
	}
	if _, err := tx.ExecContext(ctx, qActivateUser, secret, string(domain.StatusActive), id); err != nil {
		return domain.User{}, domain.StoreError("backfill external id", err)
	}
	return domain.User{
		ID:         uid,
		ExternalID: secret,
		Name:       name,
		Status:     domain.StatusActive,
		TimeJoined: joinedAt,
	}, nil
}

func (s *Store) FindLocalCredential(ctx context.Context, emailAddress string) (c domain.LocalCredential, err error) {
	sp, ctx := startSpan(ctx, "local_credentials.find")
	defer func() { finish(sp, err) }()

	var uid int64
	err = s.db.QueryRowContext(ctx, qFindCredential, emailAddress).Scan(&uid, &c.EmailAddress, &c.HiddenPassword)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.LocalCredential{}, domain.ErrNotFound
		}
		return domain.LocalCredential{}, domain.StoreError("find credential", err)
	}
	c.UserID = strconv.FormatInt(uid, 10)
	return c, nil
}

func (s *Store) FindUser(ctx context.Context, userID string) (u domain.User, err error) {
	sp, ctx := startSpan(ctx, "users.find")
	defer func() { finish(sp, err) }()

	id, perr := strconv.ParseInt(userID, 10, 64)
	if perr != nil {
		return domain.User{}, domain.ErrUserDoesNotExist
	}
	return scanUser(s.db.QueryRowContext(ctx, qFindUser, id))
}

func (s *Store) FindExternalUser(ctx context.Context, subjectHash string) (u domain.User, err error) {
	sp, ctx := startSpan(ctx, "users.find_external")
	defer func() { finish(sp, err) }()

	return scanUser(s.db.QueryRowContext(ctx, qFindExternalUser, subjectHash))
}

// CreateOrGetExternalUser is first-writer-wins: when a concurrent insert takes
// the subject hash, this call rolls back and returns the winner with isNew=false.
func (s *Store) CreateOrGetExternalUser(ctx context.Context, subjectHash, name string, joinedAt time.Time) (u domain.User, isNew bool, err error) {
	sp, ctx := startSpan(ctx, "users.create_or_get_external")
	defer func() { finish(sp, err) }()

	u, err = s.FindExternalUser(ctx, subjectHash)
	if err == nil {
		return u, false, nil
	}
	if !errors.Is(err, domain.ErrUserDoesNotExist) {
		return domain.User{}, false, err
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		created, err := s.insertUser(ctx, tx, name, joinedAt)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, qInsertLink, mustID(created.ID), subjectHash)
		if err != nil {
			return domain.StoreError("insert identity link", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return domain.StoreError("insert identity link", err)
		}
		if n == 0 {
			return errLostRace
		}
		u = created
		return nil
	})
	switch {
	case err == nil:
		return u, true, nil
	case errors.Is(err, errLostRace):
		u, err = s.FindExternalUser(ctx, subjectHash)
		if errors.Is(err, domain.ErrUserDoesNotExist) {
			return domain.User{}, false, domain.ErrUserAlreadyExists
		}
		if err != nil {
			return domain.User{}, false, err
		}
		return u, false, nil
	default:
		return domain.User{}, false, txErr("create external user", err)
	}
}

func (s *Store) InsertAuthToken(ctx context.Context, tok domain.AuthToken) (err error) {
	sp, ctx := startSpan(ctx, "auth_tokens.insert")
	defer func() { finish(sp, err) }()

	uid, perr := strconv.ParseInt(tok.UserID, 10, 64)
	if perr != nil {
		return domain.StoreError("insert auth token", perr)
	}
	if _, err := s.db.ExecContext(ctx, qInsertToken, tok.Token, uid, tok.ExpiryTime.UTC()); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateToken
		}
		return domain.StoreError("insert auth token", err)
	}
	return nil
}

func (s *Store) FindAuthToken(ctx context.Context, token string) (t domain.AuthToken, err error) {
	sp, ctx := startSpan(ctx, "auth_tokens.find")
	defer func() { finish(sp, err) }()

	var uid int64
	if err := s.db.QueryRowContext(ctx, qFindToken, token).Scan(&t.Token, &uid, &t.ExpiryTime); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.AuthToken{}, domain.ErrTokenNotFound
		}
		return domain.AuthToken{}, domain.StoreError("find auth token", err)
	}
	t.UserID = strconv.FormatInt(uid, 10)
	t.ExpiryTime = t.ExpiryTime.UTC()
	return t, nil
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}

func (s *Store) Close(ctx context.Context) error {
	return s.db.Close()
}

func scanUser(row *sql.Row) (domain.User, error) {
	var (
		id       int64
		extID    sql.NullString
		status   string
		timeLeft sql.NullTime
		u        domain.User
	)
	if err := row.Scan(&id, &extID, &u.Name, &status, &u.TimeJoined, &timeLeft); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.User{}, domain.ErrUserDoesNotExist
		}
		return domain.User{}, domain.StoreError("scan user", err)
	}
	u.ID = strconv.FormatInt(id, 10)
	u.ExternalID = extID.String
	u.Status = domain.UserStatus(status)
	u.TimeJoined = u.TimeJoined.UTC()
	if timeLeft.Valid {
		tl := timeLeft.Time.UTC()
		u.TimeLeft = &tl
	}
	return u, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// txErr wraps commit/begin failures; typed errors from the tx body pass through.
func txErr(op string, err error) error {
	if errors.Is(err, domain.ErrStore) || errors.Is(err, domain.ErrDuplicateEmail) || errors.Is(err, domain.ErrInternal) {
		return err
	}
	return domain.StoreError(op, err)
}

// mustID converts ids minted by insertUser, which are always numeric.
func mustID(id string) int64 {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		panic(fmt.Sprintf("postgres: non-numeric user id %q", id))
	}
	return n
}

func startSpan(ctx context.Context, op string) (ddtrace.Span, context.Context) {
	return tracer.StartSpanFromContext(ctx, "postgres."+op,
		tracer.SpanType("sql"),
		tracer.ResourceName(op),
	)
}

func finish(sp ddtrace.Span, err error) {
	if errors.Is(err, domain.ErrStore) {
		sp.Finish(tracer.WithError(err))
		return
	}
	sp.Finish()
}
