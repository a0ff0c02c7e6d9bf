package marketdata

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"quasar_backend/config"
	"quasar_backend/services/live"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDB collection names
const (
	MongoDBName            = "quasar_market"
	MongoLiveBarCollection = "live_bars"
)

// MongoBarDoc mirrors one collected live bar into MongoDB
type MongoBarDoc struct {
	ID        string    `bson:"_id"` // provider:symbol
	Provider  string    `bson:"provider"`
	Symbol    string    `bson:"symbol"`
	Open      string    `bson:"open"`
	High      string    `bson:"high"`
	Low       string    `bson:"low"`
	Close     string    `bson:"close"`
	Volume    string    `bson:"volume"`
	Start     time.Time `bson:"start"`
	End       time.Time `bson:"end"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// MongoSink mirrors collected live bars to MongoDB Atlas when configured
type MongoSink struct {
	client      *mongo.Client
	database    *mongo.Database
	mu          sync.RWMutex
	isConnected bool
	uriSet      bool
}

// Global Mongo sink instance
var GlobalMongoSink *MongoSink

// InitMongoSink connects to MongoDB if MONGODB_URI is configured. Missing
// configuration is not an error; the sink just stays disabled.
func InitMongoSink() error {
	GlobalMongoSink = &MongoSink{}

	uri := config.AppConfig.MongoURI
	if uri == "" {
		log.Println("MONGODB_URI not configured, live bar mirroring disabled")
		return nil
	}
	GlobalMongoSink.uriSet = true

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("MongoDB ping failed: %w", err)
	}

	GlobalMongoSink.client = client
	GlobalMongoSink.database = client.Database(MongoDBName)
	GlobalMongoSink.isConnected = true

	log.Println("MongoDB sink connected")
	return nil
}

// IsConnected reports whether the sink is usable
func (m *MongoSink) IsConnected() bool {
	if m == nil {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isConnected
}

// WriteLiveBars upserts collected bars keyed by provider and symbol
func (m *MongoSink) WriteLiveBars(ctx context.Context, provider string, bars []live.Bar) error {
	if !m.IsConnected() {
		return fmt.Errorf("mongo sink not connected")
	}
	if len(bars) == 0 {
		return nil
	}

	coll := m.database.Collection(MongoLiveBarCollection)
	now := time.Now().UTC()

	for _, b := range bars {
		doc := MongoBarDoc{
			ID:        provider + ":" + b.Symbol,
			Provider:  provider,
			Symbol:    b.Symbol,
			Open:      b.Open.String(),
			High:      b.High.String(),
			Low:       b.Low.String(),
			Close:     b.Close.String(),
			Volume:    b.Volume.String(),
			Start:     b.Start,
			End:       b.End,
			UpdatedAt: now,
		}

		filter := bson.M{"_id": doc.ID}
		update := bson.M{"$set": doc}
		opts := options.Update().SetUpsert(true)

		if _, err := coll.UpdateOne(ctx, filter, update, opts); err != nil {
			return fmt.Errorf("failed to upsert live bar %s: %w", doc.ID, err)
		}
	}
	return nil
}

// Close disconnects the Mongo client
func (m *MongoSink) Close() {
	if m == nil || m.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := m.client.Disconnect(ctx); err != nil {
		log.Printf("Error disconnecting MongoDB: %v", err)
	}
	m.mu.Lock()
	m.isConnected = false
	m.mu.Unlock()
}
