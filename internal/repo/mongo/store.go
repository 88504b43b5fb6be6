// Package mongo is the document CredentialStore/TokenStore. A user, its local
// credential and its identity link live in one document, so every create is a
// single atomic insert guarded by unique indexes.
package mongo

import (
	"context"
	"errors"
	"time"

	"github.com/tazhibayda/identity-service/internal/domain"
	"github.com/tazhibayda/identity-service/internal/repo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"
)

const (
	usersColl  = "users"
	tokensColl = "auth_tokens"
)

type userDoc struct {
	ID             primitive.ObjectID `bson:"_id"`
	ExternalID     string             `bson:"external_id"`
	Name           string             `bson:"name"`
	Status         string             `bson:"status"`
	TimeJoined     time.Time          `bson:"time_joined"`
	TimeLeft       *time.Time         `bson:"time_left,omitempty"`
	Email          string             `bson:"email,omitempty"`
	HiddenPassword string             `bson:"hidden_password,omitempty"`
	SubjectHash    string             `bson:"subject_hash,omitempty"`
}

func (d userDoc) user() domain.User {
	u := domain.User{
		ID:         d.ID.Hex(),
		ExternalID: d.ExternalID,
		Name:       d.Name,
		Status:     domain.UserStatus(d.Status),
		TimeJoined: d.TimeJoined.UTC(),
	}
	if d.TimeLeft != nil {
		tl := d.TimeLeft.UTC()
		u.TimeLeft = &tl
	}
	return u
}

type tokenDoc struct {
	Token      string             `bson:"_id"`
	UserID     primitive.ObjectID `bson:"user_id"`
	ExpiryTime time.Time          `bson:"expiry_time"`
}

type Store struct {
	Client  *mongo.Client
	DB      *mongo.Database
	secrets repo.SecretSource
}

var _ repo.Store = (*Store)(nil)

func NewStore(ctx context.Context, uri, dbname string, secrets repo.SecretSource) (*Store, error) {
	cli, err := mongo.Connect(ctx, options.Client().
		ApplyURI(uri).
		SetRetryWrites(true).
		SetMaxPoolSize(50))
	if err != nil {
		return nil, err
	}
	s := &Store{Client: cli, DB: cli.Database(dbname), secrets: secrets}
	if err := s.Ping(ctx); err != nil {
		_ = cli.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

// EnsureIndexes creates the uniqueness guarantees. Sparse because local and
// external users each carry only one of the two keys. There is no TTL index on
// tokens; expired tokens are cleaned up outside this service.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.DB.Collection(usersColl).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true).SetSparse(true).SetName("email_unique"),
		},
		{
			Keys:    bson.D{{Key: "subject_hash", Value: 1}},
			Options: options.Index().SetUnique(true).SetSparse(true).SetName("subject_hash_unique"),
		},
	})
	if err != nil {
		return err
	}
	_, err = s.DB.Collection(tokensColl).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}},
	})
	return err
}

func (s *Store) newUserDoc(name string, joinedAt time.Time) (userDoc, error) {
	id := primitive.NewObjectID()
	secret, err := s.secrets.GenerateUserSecret(id.Hex())
	if err != nil {
		return userDoc{}, err
	}
	return userDoc{
		ID:         id,
		ExternalID: secret,
		Name:       name,
		Status:     string(domain.StatusActive),
		TimeJoined: joinedAt.UTC(),
	}, nil
}

func (s *Store) CreateLocalUser(ctx context.Context, in repo.NewLocalUser) (u domain.User, err error) {
	sp, ctx := startSpan(ctx, "users.create_local")
	defer func() { finish(sp, err) }()

	hidden, err := s.secrets.HashPassword(in.Password)
	if err != nil {
		return domain.User{}, err
	}
	doc, err := s.newUserDoc(in.Name, in.JoinedAt)
	if err != nil {
		return domain.User{}, err
	}
	doc.Email = in.EmailAddress
	doc.HiddenPassword = hidden

	if _, err := s.DB.Collection(usersColl).InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.User{}, domain.ErrDuplicateEmail
		}
		return domain.User{}, domain.StoreError("insert user", err)
	}
	return doc.user(), nil
}

func (s *Store) FindLocalCredential(ctx context.Context, emailAddress string) (c domain.LocalCredential, err error) {
	sp, ctx := startSpan(ctx, "users.find_credential")
	defer func() { finish(sp, err) }()

	var doc userDoc
	if err := s.DB.Collection(usersColl).FindOne(ctx, bson.M{"email": emailAddress}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.LocalCredential{}, domain.ErrNotFound
		}
		return domain.LocalCredential{}, domain.StoreError("find credential", err)
	}
	return domain.LocalCredential{UserID: doc.ID.Hex(), EmailAddress: doc.Email, HiddenPassword: doc.HiddenPassword}, nil
}

func (s *Store) FindUser(ctx context.Context, userID string) (u domain.User, err error) {
	sp, ctx := startSpan(ctx, "users.find")
	defer func() { finish(sp, err) }()

	oid, perr := primitive.ObjectIDFromHex(userID)
	if perr != nil {
		return domain.User{}, domain.ErrUserDoesNotExist
	}
	return s.findOneUser(ctx, bson.M{"_id": oid})
}

func (s *Store) FindExternalUser(ctx context.Context, subjectHash string) (u domain.User, err error) {
	sp, ctx := startSpan(ctx, "users.find_external")
	defer func() { finish(sp, err) }()

	return s.findOneUser(ctx, bson.M{"subject_hash": subjectHash})
}

func (s *Store) findOneUser(ctx context.Context, filter bson.M) (domain.User, error) {
	var doc userDoc
	if err := s.DB.Collection(usersColl).FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.User{}, domain.ErrUserDoesNotExist
		}
		return domain.User{}, domain.StoreError("find user", err)
	}
	return doc.user(), nil
}

// CreateOrGetExternalUser is first-writer-wins: a duplicate key on
// subject_hash means another request created the user, which is returned with
// isNew=false.
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

	doc, err := s.newUserDoc(name, joinedAt)
	if err != nil {
		return domain.User{}, false, err
	}
	doc.SubjectHash = subjectHash

	if _, err := s.DB.Collection(usersColl).InsertOne(ctx, doc); err != nil {
		if !mongo.IsDuplicateKeyError(err) {
			return domain.User{}, false, domain.StoreError("insert external user", err)
		}
		u, err := s.FindExternalUser(ctx, subjectHash)
		if errors.Is(err, domain.ErrUserDoesNotExist) {
			return domain.User{}, false, domain.ErrUserAlreadyExists
		}
		if err != nil {
			return domain.User{}, false, err
		}
		return u, false, nil
	}
	return doc.user(), true, nil
}

func (s *Store) InsertAuthToken(ctx context.Context, tok domain.AuthToken) (err error) {
	sp, ctx := startSpan(ctx, "auth_tokens.insert")
	defer func() { finish(sp, err) }()

	uid, perr := primitive.ObjectIDFromHex(tok.UserID)
	if perr != nil {
		return domain.StoreError("insert auth token", perr)
	}
	doc := tokenDoc{Token: tok.Token, UserID: uid, ExpiryTime: tok.ExpiryTime.UTC()}
	if _, err := s.DB.Collection(tokensColl).InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrDuplicateToken
		}
		return domain.StoreError("insert auth token", err)
	}
	return nil
}

func (s *Store) FindAuthToken(ctx context.Context, token string) (t domain.AuthToken, err error) {
	sp, ctx := startSpan(ctx, "auth_tokens.find")
	defer func() { finish(sp, err) }()

	var doc tokenDoc
	if err := s.DB.Collection(tokensColl).FindOne(ctx, bson.M{"_id": token}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.AuthToken{}, domain.ErrTokenNotFound
		}
		return domain.AuthToken{}, domain.StoreError("find auth token", err)
	}
	return domain.AuthToken{Token: doc.Token, UserID: doc.UserID.Hex(), ExpiryTime: doc.ExpiryTime.UTC()}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.Client.Ping(ctx, nil)
}

func (s *Store) Close(ctx context.Context) error {
	return s.Client.Disconnect(ctx)
}

func startSpan(ctx context.Context, op string) (ddtrace.Span, context.Context) {
	return tracer.StartSpanFromContext(ctx, "mongo."+op,
		tracer.SpanType("mongodb"),
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
