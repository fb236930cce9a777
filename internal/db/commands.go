package db

import (
	"context"
	"fmt"

	"github.com/ukydev/fleet-tracking/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// MongoCommandCollection stores command audit records.
type MongoCommandCollection struct {
	Collection *mongo.Collection
}

// InsertCommand inserts an audit record.
func (c *MongoCommandCollection) InsertCommand(ctx context.Context, record models.CommandRecord) error {
	if c.Collection == nil {
		return ErrNilCollection
	}
	if record.ID == "" {
		return fmt.Errorf("command record has no id")
	}
	_, err := c.Collection.InsertOne(ctx, record)
	return err
}

// FindCommands returns the most recent records of a device, newest first.
func (c *MongoCommandCollection) FindCommands(ctx context.Context, imei string, limit int) ([]models.CommandRecord, error) {
	if c.Collection == nil {
		return nil, ErrNilCollection
	}
	cursor, err := c.Collection.Find(ctx, bson.M{"imei": imei}, recentFirst(limit, "issued_at"))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	records := []models.CommandRecord{}
	if err := cursor.All(ctx, &records); err != nil {
		return nil, err
	}
	return records, nil
}
