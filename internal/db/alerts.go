package db

import (
	"context"
	"fmt"

	"github.com/ukydev/fleet-tracking/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoAlertCollection archives provider alerts keyed by alert id.
type MongoAlertCollection struct {
	Collection *mongo.Collection
}

// UpsertAlert stores alert unless it is already archived. It reports
// whether a new document was created.
func (c *MongoAlertCollection) UpsertAlert(ctx context.Context, alert models.Alert) (bool, error) {
	if c.Collection == nil {
		return false, ErrNilCollection
	}
	if alert.ID == "" {
		return false, fmt.Errorf("alert has no id")
	}
	raw, err := bson.Marshal(alert)
	if err != nil {
		return false, fmt.Errorf("marshal alert: %w", err)
	}
	var doc bson.M
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return false, fmt.Errorf("marshal alert: %w", err)
	}
	// _id comes from the filter on insert.
	delete(doc, "_id")

	result, err := c.Collection.UpdateOne(ctx,
		bson.M{"_id": alert.ID},
		bson.M{"$setOnInsert": doc},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return false, err
	}
	return result.UpsertedCount > 0, nil
}

// FindAlerts returns archived alerts, newest first. An empty deviceID
// matches every device.
func (c *MongoAlertCollection) FindAlerts(ctx context.Context, deviceID string, limit int) ([]models.Alert, error) {
	if c.Collection == nil {
		return nil, ErrNilCollection
	}
	filter := bson.M{}
	if deviceID != "" {
		filter["device_id"] = deviceID
	}
	cursor, err := c.Collection.Find(ctx, filter, recentFirst(limit, "timestamp"))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	alerts := []models.Alert{}
	if err := cursor.All(ctx, &alerts); err != nil {
		return nil, err
	}
	return alerts, nil
}
