package mongodb

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrDuplicateHash     = errors.New("a document with this hash already exists")
	ErrNoPendingDecision = errors.New("no pending decision to record")
	ErrAnchorAlreadySet  = errors.New("the document already has an anchor")
)

type Repository struct {
	// connection closer function
	Disconnect func()

	client *mongo.Client
	dbName string
	logger *zap.Logger
}

func NewConnection(logger *zap.Logger, uri string, dbName string) (Repository, error) {
	client, err := mongo.Connect(context.Background(), options.Client().ApplyURI(uri))
	if err != nil {
		logger.Error("db connection failed", zap.String("uri", uri))
		return Repository{}, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return Repository{}, err
	}

	closer := func() {
		if err = client.Disconnect(context.Background()); err != nil {
			logger.Error("failed to disconnect the DB: " + err.Error())
		}
	}

	return Repository{
		Disconnect: closer,
		client:     client,
		dbName:     dbName,
		logger:     logger,
	}, nil
}

func (b Repository) documents() *mongo.Collection {
	return b.client.Database(b.dbName).Collection(documentsCollection)
}

func (b Repository) users() *mongo.Collection {
	return b.client.Database(b.dbName).Collection(usersCollection)
}

// EnsureIndexes creates the uniqueness constraints the state machine
// relies on: content-addressed documents and unique usernames. The
// sha256Hex index is what makes the duplicate check race-safe.
func (b Repository) EnsureIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)

	if _, err := b.documents().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    map[string]int{"sha256Hex": 1},
		Options: unique,
	}); err != nil {
		return errors.New("failed to create the document hash index: " + err.Error())
	}

	if _, err := b.users().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    map[string]int{"username": 1},
		Options: unique,
	}); err != nil {
		return errors.New("failed to create the username index: " + err.Error())
	}

	return nil
}
