package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	commandsCollection = "command_audit"
	alertsCollection   = "alert_archive"
)

var ErrNilCollection = errors.New("mongo collection is nil")

// ConnectMongo connects to uri and verifies the connection with a ping.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	if uri == "" {
		return nil, errors.New("mongo uri is empty")
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo.Connect error: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo.Ping error: %w", err)
	}
	return client, nil
}

// Store groups the gateway's collections.
type Store struct {
	Commands *MongoCommandCollection
	Alerts   *MongoAlertCollection
}

// NewStore binds the collections of database dbName.
func NewStore(client *mongo.Client, dbName string) *Store {
	database := client.Database(dbName)
	return &Store{
		Commands: &MongoCommandCollection{Collection: database.Collection(commandsCollection)},
		Alerts:   &MongoAlertCollection{Collection: database.Collection(alertsCollection)},
	}
}

// EnsureIndexes creates the lookup indexes used by the history queries.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	if _, err := s.Commands.Collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "imei", Value: 1}, {Key: "issued_at", Value: -1}},
	}); err != nil {
		return fmt.Errorf("command audit index: %w", err)
	}
	if _, err := s.Alerts.Collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "device_id", Value: 1}, {Key: "timestamp", Value: -1}},
	}); err != nil {
		return fmt.Errorf("alert archive index: %w", err)
	}
	return nil
}

func recentFirst(limit int, field string) *options.FindOptions {
	opts := options.Find().SetSort(bson.D{{Key: field, Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return opts
}
