package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/pulse/pulse/internal/models"
)

// MongoStore holds the accounts and revocations collections. It satisfies
// the account store through MongoStore itself and the revocation store
// through Revocations.
type MongoStore struct {
	client      *mongo.Client
	accounts    *mongo.Collection
	revocations *mongo.Collection
}

// NewMongoStore connects to MongoDB and sets up indexes.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	const op = "repository.NewMongoStore"

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("%s: connect: %w", op, err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}

	db := client.Database(database)
	s := &MongoStore{
		client:      client,
		accounts:    db.Collection("accounts"),
		revocations: db.Collection("revoked_tokens"),
	}

	if err := s.ensureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("%s: indexes: %w", op, err)
	}

	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.accounts.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("accounts.email index: %w", err)
	}

	// revoked_tokens.expires_at TTL index, documents go once the pair is dead
	_, err = s.revocations.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	})
	if err != nil {
		return fmt.Errorf("revoked_tokens.expires_at TTL index: %w", err)
	}

	return nil
}

// Close disconnects from MongoDB.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func accountFilterDoc(filter models.AccountFilter) (bson.D, error) {
	doc := bson.D{}
	if filter.ID != "" {
		doc = append(doc, bson.E{Key: "_id", Value: filter.ID})
	}
	if filter.Email != "" {
		doc = append(doc, bson.E{Key: "email", Value: filter.Email})
	}
	if len(doc) == 0 {
		return nil, ErrInvalidFilter
	}

	if filter.Confirmed != nil {
		doc = append(doc, bson.E{Key: "confirmed_at", Value: bson.D{{Key: "$exists", Value: *filter.Confirmed}}})
	}
	if filter.Frozen != nil {
		doc = append(doc, bson.E{Key: "frozen_at", Value: bson.D{{Key: "$exists", Value: *filter.Frozen}}})
	}
	if filter.NotFrozenBy != "" {
		doc = append(doc, bson.E{Key: "frozen_by", Value: bson.D{{Key: "$ne", Value: filter.NotFrozenBy}}})
	}
	if len(filter.RoleNotIn) > 0 {
		doc = append(doc, bson.E{Key: "role", Value: bson.D{{Key: "$nin", Value: filter.RoleNotIn}}})
	}
	return doc, nil
}

func (s *MongoStore) FindByID(ctx context.Context, id string) (*models.Account, error) {
	return s.FindOne(ctx, models.AccountFilter{ID: id})
}

func (s *MongoStore) FindOne(ctx context.Context, filter models.AccountFilter) (*models.Account, error) {
	const op = "repository.mongo.FindOne"

	doc, err := accountFilterDoc(filter)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var account models.Account
	if err := s.accounts.FindOne(ctx, doc).Decode(&account); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &account, nil
}

func (s *MongoStore) Create(ctx context.Context, account *models.Account) error {
	const op = "repository.mongo.Create"

	if _, err := s.accounts.InsertOne(ctx, account); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%s: %w", op, ErrAccountExists)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *MongoStore) UpdateOne(ctx context.Context, filter models.AccountFilter, patch models.AccountPatch) (int64, error) {
	const op = "repository.mongo.UpdateOne"

	doc, err := accountFilterDoc(filter)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	set := bson.D{{Key: "updated_at", Value: time.Now()}}
	if patch.PasswordHash != nil {
		set = append(set, bson.E{Key: "password_hash", Value: *patch.PasswordHash})
	}
	if patch.Role != nil {
		set = append(set, bson.E{Key: "role", Value: *patch.Role})
	}
	if patch.CredentialsChangedAt != nil {
		set = append(set, bson.E{Key: "credentials_changed_at", Value: *patch.CredentialsChangedAt})
	}
	if patch.ConfirmedAt != nil {
		set = append(set, bson.E{Key: "confirmed_at", Value: *patch.ConfirmedAt})
	}
	if patch.FrozenAt != nil {
		set = append(set, bson.E{Key: "frozen_at", Value: *patch.FrozenAt})
	}
	if patch.FrozenBy != nil {
		set = append(set, bson.E{Key: "frozen_by", Value: *patch.FrozenBy})
	}

	update := bson.D{{Key: "$set", Value: set}}
	if patch.Unfreeze {
		update = append(update, bson.E{Key: "$unset", Value: bson.D{
			{Key: "frozen_at", Value: ""},
			{Key: "frozen_by", Value: ""},
		}})
	}

	result, err := s.accounts.UpdateOne(ctx, doc, update)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return result.MatchedCount, nil
}

// Revocations returns the revocation store backed by the same database.
func (s *MongoStore) Revocations() *MongoRevocationStore {
	return &MongoRevocationStore{collection: s.revocations}
}

type MongoRevocationStore struct {
	collection *mongo.Collection
}

// Create inserts record keyed by jti. A duplicate jti returns nil, nil.
func (s *MongoRevocationStore) Create(ctx context.Context, record models.RevocationRecord) (*models.RevocationRecord, error) {
	const op = "repository.mongo.RevocationCreate"

	if _, err := s.collection.InsertOne(ctx, record); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &record, nil
}

func (s *MongoRevocationStore) FindOne(ctx context.Context, jti string) (*models.RevocationRecord, error) {
	const op = "repository.mongo.RevocationFindOne"

	var record models.RevocationRecord
	err := s.collection.FindOne(ctx, bson.D{{Key: "_id", Value: jti}}).Decode(&record)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &record, nil
}
