// Package ridestore persists rides reported by the sensor in MongoDB.
package ridestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Pjottos/gocycling-controller/cycling"
	"github.com/Pjottos/gocycling-controller/internal/hostlink"
)

const (
	DefaultDatabase   = "gocycling"
	DefaultCollection = "rides"
	connectTimeout    = 10 * time.Second
)

// ErrEmptyRide is returned for a ride without cycles.
var ErrEmptyRide = errors.New("ridestore: empty ride")

// Document is the stored form of a ride.
type Document struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	Source    string             `bson:"source"`
	Started   time.Time          `bson:"started"`
	Ended     time.Time          `bson:"ended"`
	Cycles    int32              `bson:"cycles"`
	Millis    int64              `bson:"millis"`
	DistanceM float64            `bson:"distance_m"`
	Dropped   int32              `bson:"dropped,omitempty"`
}

// FromRide converts r to its stored form.
func FromRide(r hostlink.Ride) Document {
	return Document{
		Source:    string(r.Source),
		Started:   r.Started.UTC(),
		Ended:     r.Ended.UTC(),
		Cycles:    int32(r.Session.CycleCount),
		Millis:    int64(r.Session.AccumulatedMillis),
		DistanceM: r.Distance,
		Dropped:   int32(r.Dropped),
	}
}

// Ride converts d back.
func (d Document) Ride() hostlink.Ride {
	return hostlink.Ride{
		Source:  hostlink.Source(d.Source),
		Started: d.Started,
		Ended:   d.Ended,
		Session: cycling.Session{
			AccumulatedMillis: uint32(d.Millis),
			CycleCount:        uint16(d.Cycles),
		},
		Distance: d.DistanceM,
		Dropped:  int(d.Dropped),
	}
}

type Store struct {
	client *mongo.Client
	coll   *mongo.Collection
	log    *logrus.Entry
}

// Connect opens uri and checks the server with a ping.
func Connect(ctx context.Context, uri, database string, log *logrus.Entry) (*Store, error) {
	if database == "" {
		database = DefaultDatabase
	}
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("ridestore: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ridestore: ping: %w", err)
	}
	log.WithField("db", database).Info("ride store connected")
	s := newStore(client.Database(database).Collection(DefaultCollection), log)
	s.client = client
	return s, nil
}

func newStore(coll *mongo.Collection, log *logrus.Entry) *Store {
	return &Store{coll: coll, log: log}
}

// Save inserts r and returns its id.
func (s *Store) Save(ctx context.Context, r hostlink.Ride) (primitive.ObjectID, error) {
	if r.Session.CycleCount == 0 {
		return primitive.NilObjectID, ErrEmptyRide
	}
	res, err := s.coll.InsertOne(ctx, FromRide(r))
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("ridestore: insert: %w", err)
	}
	id, _ := res.InsertedID.(primitive.ObjectID)
	s.log.WithFields(logrus.Fields{
		"id":     id.Hex(),
		"source": r.Source,
		"cycles": r.Session.CycleCount,
	}).Info("ride saved")
	return id, nil
}

// Recent returns up to n rides, newest first.
func (s *Store) Recent(ctx context.Context, n int64) ([]Document, error) {
	opts := options.Find().SetSort(bson.D{{Key: "started", Value: -1}}).SetLimit(n)
	cur, err := s.coll.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("ridestore: find: %w", err)
	}
	var docs []Document
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("ridestore: decode: %w", err)
	}
	return docs, nil
}

// Totals sums the stored rides of one source.
func (s *Store) Totals(ctx context.Context, source hostlink.Source) (rides int64, distanceM float64, err error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "source", Value: string(source)}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "rides", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "distance", Value: bson.D{{Key: "$sum", Value: "$distance_m"}}},
		}}},
	}
	cur, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return 0, 0, fmt.Errorf("ridestore: aggregate: %w", err)
	}
	var out []struct {
		Rides    int64   `bson:"rides"`
		Distance float64 `bson:"distance"`
	}
	if err := cur.All(ctx, &out); err != nil {
		return 0, 0, fmt.Errorf("ridestore: decode: %w", err)
	}
	if len(out) == 0 {
		return 0, 0, nil
	}
	return out[0].Rides, out[0].Distance, nil
}

// Close disconnects from the server.
func (s *Store) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}
