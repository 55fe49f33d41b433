package repository

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strings"
	"time"

	"wex-mcp-api/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDBStore implements Store using MongoDB, one collection per document family.
type MongoDBStore struct {
	client       *mongo.Client
	db           *mongo.Database
	profiles     *mongo.Collection
	friendGraphs *mongo.Collection
	accounts     *mongo.Collection
}

// NewMongoDBStore connects to uri and prepares the collections in database.
func NewMongoDBStore(uri, database string) (*MongoDBStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	clientOpts := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(50).
		SetMinPoolSize(5).
		SetMaxConnIdleTime(5 * time.Minute).
		SetRetryWrites(true)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(database)
	s := &MongoDBStore{
		client:       client,
		db:           db,
		profiles:     db.Collection("profiles"),
		friendGraphs: db.Collection("friend_graphs"),
		accounts:     db.Collection("accounts"),
	}

	indexes := []struct {
		coll  *mongo.Collection
		model mongo.IndexModel
	}{
		{s.profiles, mongo.IndexModel{
			Keys:    bson.D{{Key: "account_id", Value: 1}, {Key: "kind", Value: 1}},
			Options: options.Index().SetUnique(true),
		}},
		{s.friendGraphs, mongo.IndexModel{
			Keys:    bson.D{{Key: "account_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		}},
		{s.accounts, mongo.IndexModel{
			Keys: bson.D{{Key: "display_name_lower", Value: 1}},
		}},
	}
	for _, idx := range indexes {
		if _, err := idx.coll.Indexes().CreateOne(ctx, idx.model); err != nil {
			log.Printf("[MongoDBStore] Warning: failed to create index on %s: %v", idx.coll.Name(), err)
		}
	}

	log.Printf("[MongoDBStore] Connected to %s", database)
	return s, nil
}

// mongoDocument is one stored profile or friend graph.
type mongoDocument struct {
	AccountID string    `bson:"account_id"`
	Kind      string    `bson:"kind,omitempty"`
	Doc       bson.D    `bson:"doc"`
	UpdatedAt time.Time `bson:"updated_at"`
}

type mongoAccount struct {
	ID               string    `bson:"_id"`
	DisplayName      string    `bson:"display_name"`
	DisplayNameLower string    `bson:"display_name_lower"`
	CreatedAt        time.Time `bson:"created_at"`
}

func (a mongoAccount) toModel() model.Account {
	return model.Account{ID: a.ID, DisplayName: a.DisplayName, CreatedAt: a.CreatedAt}
}

func (r *MongoDBStore) collectionFor(key model.DocumentKey) (*mongo.Collection, bson.M) {
	if key.Family == model.FamilyFriendGraph {
		return r.friendGraphs, bson.M{"account_id": key.AccountID}
	}
	return r.profiles, bson.M{"account_id": key.AccountID, "kind": string(key.Kind)}
}

func documentUpdate(key model.DocumentKey, rawJSON []byte, updatedAt time.Time) (bson.M, error) {
	// Extended JSON keeps integers as int32/int64 instead of doubles.
	var data bson.D
	if err := bson.UnmarshalExtJSON(rawJSON, false, &data); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", key, err)
	}
	set := bson.M{"account_id": key.AccountID, "doc": data, "updated_at": updatedAt}
	if key.Kind != "" {
		set["kind"] = string(key.Kind)
	}
	return bson.M{"$set": set}, nil
}

// UpsertDocument inserts or replaces one document.
func (r *MongoDBStore) UpsertDocument(ctx context.Context, key model.DocumentKey, rawJSON []byte) error {
	update, err := documentUpdate(key, rawJSON, time.Now())
	if err != nil {
		return err
	}
	coll, filter := r.collectionFor(key)
	if _, err := coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true)); err != nil {
		return fmt.Errorf("failed to upsert %s: %w", key, err)
	}
	return nil
}

// BatchUpsertDocuments issues one unordered bulk write per collection.
func (r *MongoDBStore) BatchUpsertDocuments(ctx context.Context, docs []model.RawDocument) error {
	if len(docs) == 0 {
		return nil
	}

	batches := make(map[*mongo.Collection][]mongo.WriteModel)
	for _, doc := range docs {
		update, err := documentUpdate(doc.Key, doc.RawJSON, doc.UpdatedAt)
		if err != nil {
			log.Printf("[MongoDBStore] Warning: skipping %s: %v", doc.Key, err)
			continue
		}
		coll, filter := r.collectionFor(doc.Key)
		batches[coll] = append(batches[coll],
			mongo.NewUpdateOneModel().SetFilter(filter).SetUpdate(update).SetUpsert(true))
	}

	opts := options.BulkWrite().SetOrdered(false)
	for coll, models := range batches {
		if _, err := coll.BulkWrite(ctx, models, opts); err != nil {
			return fmt.Errorf("failed to batch upsert into %s: %w", coll.Name(), err)
		}
	}
	return nil
}

// GetDocument retrieves one document and converts it back to JSON.
func (r *MongoDBStore) GetDocument(ctx context.Context, key model.DocumentKey) (*model.RawDocument, error) {
	coll, filter := r.collectionFor(key)

	var doc mongoDocument
	err := coll.FindOne(ctx, filter).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}

	// Convert BSON back to JSON
	rawJSON, err := bson.MarshalExtJSON(doc.Doc, false, false)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s to JSON: %w", key, err)
	}
	return &model.RawDocument{Key: key, RawJSON: rawJSON, UpdatedAt: doc.UpdatedAt}, nil
}

// ListAcceptingAccounts returns accounts whose friend graph is missing or public.
func (r *MongoDBStore) ListAcceptingAccounts(ctx context.Context) ([]string, error) {
	closed := make(map[string]bool)
	cur, err := r.friendGraphs.Find(ctx,
		bson.M{"doc.settings.acceptInvites": bson.M{"$exists": true, "$ne": model.AcceptInvitesPublic}},
		options.Find().SetProjection(bson.M{"account_id": 1}))
	if err != nil {
		return nil, fmt.Errorf("failed to list closed graphs: %w", err)
	}
	var graphs []mongoDocument
	if err := cur.All(ctx, &graphs); err != nil {
		return nil, err
	}
	for _, g := range graphs {
		closed[g.AccountID] = true
	}

	cur, err = r.accounts.Find(ctx, bson.M{}, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	var accounts []mongoAccount
	if err := cur.All(ctx, &accounts); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(accounts))
	for _, a := range accounts {
		if !closed[a.ID] {
			ids = append(ids, a.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// GetAccount looks up one account by id.
func (r *MongoDBStore) GetAccount(ctx context.Context, accountID string) (*model.Account, error) {
	var a mongoAccount
	err := r.accounts.FindOne(ctx, bson.M{"_id": accountID}).Decode(&a)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	account := a.toModel()
	return &account, nil
}

// AccountExists reports whether accountID is registered.
func (r *MongoDBStore) AccountExists(ctx context.Context, accountID string) (bool, error) {
	count, err := r.accounts.CountDocuments(ctx, bson.M{"_id": accountID}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("failed to check account: %w", err)
	}
	return count > 0, nil
}

// CreateAccount registers or renames an account.
func (r *MongoDBStore) CreateAccount(ctx context.Context, account *model.Account) error {
	created := account.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	update := bson.M{
		"$set": bson.M{
			"display_name":       account.DisplayName,
			"display_name_lower": strings.ToLower(account.DisplayName),
		},
		"$setOnInsert": bson.M{"created_at": created},
	}
	_, err := r.accounts.UpdateOne(ctx, bson.M{"_id": account.ID}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

// FindAccountsByDisplayNamePrefix matches display names case-insensitively.
func (r *MongoDBStore) FindAccountsByDisplayNamePrefix(ctx context.Context, prefix string, limit int) ([]model.Account, error) {
	filter := bson.M{"display_name_lower": bson.M{"$regex": "^" + regexp.QuoteMeta(strings.ToLower(prefix))}}
	opts := options.Find().
		SetSort(bson.D{{Key: "display_name_lower", Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(normalizeLimit(limit)))

	cur, err := r.accounts.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to search accounts: %w", err)
	}
	var found []mongoAccount
	if err := cur.All(ctx, &found); err != nil {
		return nil, err
	}

	accounts := make([]model.Account, len(found))
	for i, a := range found {
		accounts[i] = a.toModel()
	}
	return accounts, nil
}

// GetStats returns document and account counts.
func (r *MongoDBStore) GetStats(ctx context.Context) (*model.StoreStats, error) {
	stats := &model.StoreStats{Driver: "mongodb"}
	var err error
	if stats.Profiles, err = r.profiles.CountDocuments(ctx, bson.M{}); err != nil {
		return nil, err
	}
	if stats.FriendGraphs, err = r.friendGraphs.CountDocuments(ctx, bson.M{}); err != nil {
		return nil, err
	}
	if stats.Accounts, err = r.accounts.CountDocuments(ctx, bson.M{}); err != nil {
		return nil, err
	}
	return stats, nil
}

// Close closes the MongoDB connection.
func (r *MongoDBStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return r.client.Disconnect(ctx)
}

var _ Store = (*MongoDBStore)(nil)
