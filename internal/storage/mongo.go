package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"credpool-go/internal/credential"
	apperrors "credpool-go/internal/errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const mongoTimeout = 5 * time.Second

// MongoStore persists records in a MongoDB collection. Batch inserts use a
// causally-consistent session transaction when the server supports it and
// fall back to an ordered InsertMany on standalone deployments.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	uri        string
	dbName     string
}

// NewMongoStore creates a MongoDB-backed store. The connection is established
// lazily in Initialize.
func NewMongoStore(uri, dbName string) *MongoStore {
	if dbName == "" {
		dbName = "credpool"
	}
	return &MongoStore{uri: uri, dbName: dbName}
}

func withMongoTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, mongoTimeout)
}

func (m *MongoStore) Initialize(ctx context.Context) error {
	ctx, cancel := withMongoTimeout(ctx)
	defer cancel()

	clientOptions := options.Client().ApplyURI(m.uri)
	clientOptions.SetMaxPoolSize(10)
	clientOptions.SetServerSelectionTimeout(5 * time.Second)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	m.client = client
	m.collection = client.Database(m.dbName).Collection("credentials")

	_, err = m.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{
				{Key: "owner_id", Value: 1},
				{Key: "provider", Value: 1},
				{Key: "state", Value: 1},
				{Key: "priority", Value: 1},
			},
		},
		{
			Keys: bson.D{
				{Key: "state", Value: 1},
				{Key: "last_transition_at", Value: 1},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

func (m *MongoStore) Close() error {
	if m.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), mongoTimeout)
	defer cancel()
	return m.client.Disconnect(ctx)
}

func (m *MongoStore) Health(ctx context.Context) error {
	ctx, cancel := withMongoTimeout(ctx)
	defer cancel()
	return m.client.Ping(ctx, nil)
}

// mongoRecord is the collection document shape for a credential record.
type mongoRecord struct {
	ID               string                  `bson:"id"`
	OwnerID          string                  `bson:"owner_id"`
	Provider         string                  `bson:"provider"`
	Ciphertext       string                  `bson:"ciphertext"`
	Priority         int                     `bson:"priority"`
	State            string                  `bson:"state"`
	IsCurrent        bool                    `bson:"is_current"`
	LastUsedAt       *time.Time              `bson:"last_used_at,omitempty"`
	LastTransitionAt time.Time               `bson:"last_transition_at"`
	CreatedAt        time.Time               `bson:"created_at"`
	Diagnostics      *credential.Diagnostics `bson:"diagnostics,omitempty"`
	SubConfig        *credential.SubConfig   `bson:"sub_config,omitempty"`
}

func toDocument(rec *credential.Record) *mongoRecord {
	return &mongoRecord{
		ID:               rec.ID,
		OwnerID:          rec.OwnerID,
		Provider:         string(rec.Provider),
		Ciphertext:       rec.Ciphertext,
		Priority:         rec.Priority,
		State:            string(rec.State),
		IsCurrent:        rec.IsCurrent,
		LastUsedAt:       rec.LastUsedAt,
		LastTransitionAt: rec.LastTransitionAt,
		CreatedAt:        rec.CreatedAt,
		Diagnostics:      rec.Diagnostics,
		SubConfig:        rec.SubConfig,
	}
}

func fromDocument(doc *mongoRecord) *credential.Record {
	return &credential.Record{
		ID:               doc.ID,
		OwnerID:          doc.OwnerID,
		Provider:         credential.Provider(doc.Provider),
		Ciphertext:       doc.Ciphertext,
		Priority:         doc.Priority,
		State:            credential.State(doc.State),
		IsCurrent:        doc.IsCurrent,
		LastUsedAt:       doc.LastUsedAt,
		LastTransitionAt: doc.LastTransitionAt,
		CreatedAt:        doc.CreatedAt,
		Diagnostics:      doc.Diagnostics,
		SubConfig:        doc.SubConfig,
	}
}

func (m *MongoStore) InsertBatch(ctx context.Context, records []*credential.Record) error {
	if len(records) == 0 {
		return nil
	}
	docs := make([]interface{}, 0, len(records))
	ids := make([]string, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	for _, rec := range records {
		if _, dup := seen[rec.ID]; dup {
			return apperrors.Ef(apperrors.KindInternal, "duplicate record id %s", rec.ID)
		}
		seen[rec.ID] = struct{}{}
		docs = append(docs, toDocument(rec))
		ids = append(ids, rec.ID)
	}

	session, err := m.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return m.collection.InsertMany(sc, docs)
	})
	if err == nil {
		return nil
	}
	if !isStandaloneTxnError(err) {
		return fmt.Errorf("batch insert: %w", err)
	}

	// Standalone servers have no transactions. Pre-check the ids so an
	// ordered InsertMany cannot stop mid-batch and leave a partial write.
	count, err := m.collection.CountDocuments(ctx, bson.M{"id": bson.M{"$in": ids}})
	if err != nil {
		return fmt.Errorf("batch insert: %w", err)
	}
	if count > 0 {
		return apperrors.E(apperrors.KindInternal, "duplicate record id in batch")
	}
	if _, err := m.collection.InsertMany(ctx, docs, options.InsertMany().SetOrdered(true)); err != nil {
		return fmt.Errorf("batch insert: %w", err)
	}
	return nil
}

// isStandaloneTxnError reports whether err is the server telling us it does
// not support transactions at all, as opposed to a transaction that ran and
// failed. Code 20 is IllegalOperation.
func isStandaloneTxnError(err error) bool {
	var cmdErr mongo.CommandError
	if !errors.As(err, &cmdErr) {
		return false
	}
	return cmdErr.Code == 20 ||
		strings.Contains(cmdErr.Message, "Transaction numbers are only allowed")
}

func (m *MongoStore) getByID(ctx context.Context, id string) (*credential.Record, error) {
	ctx, cancel := withMongoTimeout(ctx)
	defer cancel()
	var doc mongoRecord
	err := m.collection.FindOne(ctx, bson.M{"id": id}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, apperrors.Ef(apperrors.KindNotFound, "credential %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return fromDocument(&doc), nil
}

func (m *MongoStore) Get(ctx context.Context, ownerID, id string) (*credential.Record, error) {
	ctx, cancel := withMongoTimeout(ctx)
	defer cancel()
	var doc mongoRecord
	err := m.collection.FindOne(ctx, bson.M{"id": id, "owner_id": ownerID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, apperrors.Ef(apperrors.KindNotFound, "credential %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return fromDocument(&doc), nil
}

func (m *MongoStore) Delete(ctx context.Context, ownerID, id string) error {
	ctx, cancel := withMongoTimeout(ctx)
	defer cancel()
	res, err := m.collection.DeleteOne(ctx, bson.M{"id": id, "owner_id": ownerID})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return apperrors.Ef(apperrors.KindNotFound, "credential %s not found", id)
	}
	return nil
}

func (m *MongoStore) list(ctx context.Context, filter bson.M) ([]*credential.Record, error) {
	ctx, cancel := withMongoTimeout(ctx)
	defer cancel()
	cursor, err := m.collection.Find(ctx, filter, options.Find().SetSort(bson.D{
		{Key: "priority", Value: 1},
		{Key: "id", Value: 1},
	}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	out := make([]*credential.Record, 0)
	for cursor.Next(ctx) {
		var doc mongoRecord
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, fromDocument(&doc))
	}
	return out, cursor.Err()
}

func (m *MongoStore) List(ctx context.Context, ownerID string, provider credential.Provider) ([]*credential.Record, error) {
	return m.list(ctx, bson.M{"owner_id": ownerID, "provider": string(provider)})
}

func (m *MongoStore) ListActive(ctx context.Context, ownerID string, provider credential.Provider) ([]*credential.Record, error) {
	return m.list(ctx, bson.M{
		"owner_id": ownerID,
		"provider": string(provider),
		"state":    string(credential.StateActive),
	})
}

func (m *MongoStore) CountByProvider(ctx context.Context, ownerID string, provider credential.Provider) (int, error) {
	ctx, cancel := withMongoTimeout(ctx)
	defer cancel()
	n, err := m.collection.CountDocuments(ctx, bson.M{"owner_id": ownerID, "provider": string(provider)})
	return int(n), err
}

func (m *MongoStore) MarkExhausted(ctx context.Context, id string, diag *credential.Diagnostics) error {
	ctx, cancel := withMongoTimeout(ctx)
	defer cancel()
	res, err := m.collection.UpdateOne(ctx,
		bson.M{"id": id, "state": string(credential.StateActive)},
		bson.M{"$set": bson.M{
			"state":              string(credential.StateExhausted),
			"is_current":         false,
			"last_transition_at": time.Now().UTC(),
			"diagnostics":        diag,
		}})
	if err != nil {
		return err
	}
	if res.MatchedCount > 0 {
		return nil
	}
	// Already exhausted: refresh diagnostics without moving the timestamp.
	return m.refreshDiagnosticsChecked(ctx, id, diag)
}

func (m *MongoStore) MarkActive(ctx context.Context, id string, diag *credential.Diagnostics) error {
	ctx, cancel := withMongoTimeout(ctx)
	defer cancel()
	res, err := m.collection.UpdateOne(ctx,
		bson.M{"id": id, "state": string(credential.StateExhausted)},
		bson.M{"$set": bson.M{
			"state":              string(credential.StateActive),
			"last_transition_at": time.Now().UTC(),
			"diagnostics":        diag,
		}})
	if err != nil {
		return err
	}
	if res.MatchedCount > 0 {
		return nil
	}
	return m.refreshDiagnosticsChecked(ctx, id, diag)
}

func (m *MongoStore) refreshDiagnosticsChecked(ctx context.Context, id string, diag *credential.Diagnostics) error {
	res, err := m.collection.UpdateOne(ctx,
		bson.M{"id": id},
		bson.M{"$set": bson.M{"diagnostics": diag}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return apperrors.Ef(apperrors.KindNotFound, "credential %s not found", id)
	}
	return nil
}

func (m *MongoStore) RefreshDiagnostics(ctx context.Context, id string, diag *credential.Diagnostics) error {
	ctx, cancel := withMongoTimeout(ctx)
	defer cancel()
	return m.refreshDiagnosticsChecked(ctx, id, diag)
}

func (m *MongoStore) MarkUsed(ctx context.Context, id string) error {
	rec, err := m.getByID(ctx, id)
	if err != nil {
		return err
	}
	ctx, cancel := withMongoTimeout(ctx)
	defer cancel()
	if _, err := m.collection.UpdateMany(ctx,
		bson.M{"owner_id": rec.OwnerID, "provider": string(rec.Provider), "is_current": true},
		bson.M{"$set": bson.M{"is_current": false}}); err != nil {
		return err
	}
	_, err = m.collection.UpdateOne(ctx,
		bson.M{"id": id},
		bson.M{"$set": bson.M{"is_current": true, "last_used_at": time.Now().UTC()}})
	return err
}

func (m *MongoStore) UpdatePriority(ctx context.Context, ownerID, id string, priority int) error {
	ctx, cancel := withMongoTimeout(ctx)
	defer cancel()
	res, err := m.collection.UpdateOne(ctx,
		bson.M{"id": id, "owner_id": ownerID},
		bson.M{"$set": bson.M{"priority": priority}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return apperrors.Ef(apperrors.KindNotFound, "credential %s not found", id)
	}
	return nil
}

func (m *MongoStore) MaxPriority(ctx context.Context, ownerID string, provider credential.Provider) (int, error) {
	ctx, cancel := withMongoTimeout(ctx)
	defer cancel()
	opts := options.FindOne().SetSort(bson.D{{Key: "priority", Value: -1}})
	var doc mongoRecord
	err := m.collection.FindOne(ctx, bson.M{"owner_id": ownerID, "provider": string(provider)}, opts).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return doc.Priority, nil
}

func (m *MongoStore) ListExhaustedBefore(ctx context.Context, cutoff time.Time) ([]*credential.Record, error) {
	return m.list(ctx, bson.M{
		"state":              string(credential.StateExhausted),
		"last_transition_at": bson.M{"$lt": cutoff},
	})
}
