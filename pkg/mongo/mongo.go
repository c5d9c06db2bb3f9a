package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Config is filled from MONGO_* variables when embedded as `Mongo` in the app config.
type Config struct {
	URI            string        `split_words:"true"`
	Database       string        `split_words:"true" default:"chative"`
	ConnectTimeout time.Duration `split_words:"true" default:"10s"`
}

var ErrNoURI = errors.New("mongo uri is not configured")

// New connects, pings the primary and returns the configured database handle.
func (c *Config) New(ctx context.Context) (*mongo.Client, *mongo.Database, error) {
	if c.URI == "" {
		return nil, nil, ErrNoURI
	}

	opts := options.Client().
		ApplyURI(c.URI).
		SetConnectTimeout(c.ConnectTimeout).
		SetServerSelectionTimeout(c.ConnectTimeout)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, c.ConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, err
	}

	return client, client.Database(c.Database), nil
}
