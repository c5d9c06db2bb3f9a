package repo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/chative-relay/server/internal/agent/model"
	errx "github.com/chative-relay/server/internal/core/error"
	logx "github.com/chative-relay/server/pkg/logger"
)

const (
	agentsCollection   = "agents"
	profilesCollection = "profiles"
	analysesCollection = "analyses"
	sessionsCollection = "chat_sessions"
)

// MongoStore persists pipeline records, one document per record. Sessions
// embed their messages.
type MongoStore struct {
	agents   *mongo.Collection
	profiles *mongo.Collection
	analyses *mongo.Collection
	sessions *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		agents:   db.Collection(agentsCollection),
		profiles: db.Collection(profilesCollection),
		analyses: db.Collection(analysesCollection),
		sessions: db.Collection(sessionsCollection),
	}
}

// EnsureIndexes creates the unique (channel, sender_id) profile index and the
// routing id lookups.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	if _, err := s.profiles.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "channel", Value: 1}, {Key: "sender_id", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("channel_sender_unique"),
	}); err != nil {
		return errx.WrapMongo(fmt.Errorf("profile index: %w", err))
	}
	if _, err := s.agents.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "phone_number", Value: 1}}},
		{Keys: bson.D{{Key: "social_link", Value: 1}}},
	}); err != nil {
		return errx.WrapMongo(fmt.Errorf("agent indexes: %w", err))
	}
	return nil
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return errx.ErrNotFound
	}
	return errx.WrapMongo(err)
}

// ================ Agents ================

func (s *MongoStore) FindAgentByRoutingID(ctx context.Context, routingID string) (*model.Agent, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"phone_number": routingID},
		bson.M{"social_link": routingID},
	}}
	var a model.Agent
	if err := s.agents.FindOne(ctx, filter).Decode(&a); err != nil {
		return nil, wrap(err)
	}
	return &a, nil
}

func (s *MongoStore) ListSocialAgents(ctx context.Context) ([]model.Agent, error) {
	cur, err := s.agents.Find(ctx, bson.M{"social_link": bson.M{"$exists": true, "$ne": ""}})
	if err != nil {
		return nil, wrap(err)
	}
	var out []model.Agent
	if err := cur.All(ctx, &out); err != nil {
		return nil, wrap(err)
	}
	return out, nil
}

func (s *MongoStore) CreateAgent(ctx context.Context, agent *model.Agent) error {
	_, err := s.agents.InsertOne(ctx, agent)
	return wrap(err)
}

// ================ Profiles ================

func (s *MongoStore) FindProfile(ctx context.Context, ch model.Channel, senderID string) (*model.Profile, error) {
	var p model.Profile
	if err := s.profiles.FindOne(ctx, bson.M{"channel": ch, "sender_id": senderID}).Decode(&p); err != nil {
		return nil, wrap(err)
	}
	return &p, nil
}

// GetOrCreateProfile upserts with $setOnInsert so concurrent first contacts
// converge on one document.
func (s *MongoStore) GetOrCreateProfile(ctx context.Context, p *model.Profile) (*model.Profile, bool, error) {
	if p.SessionIDs == nil {
		p.SessionIDs = []string{}
	}
	filter := bson.M{"channel": p.Channel, "sender_id": p.SenderID}
	update := bson.M{"$setOnInsert": p}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var out model.Profile
	err := s.profiles.FindOneAndUpdate(ctx, filter, update, opts).Decode(&out)
	if mongo.IsDuplicateKeyError(err) {
		// Lost the upsert race; the winner's document is there now.
		logx.Debug().Str("sender_id", p.SenderID).Msg("profile upsert raced; reloading")
		found, ferr := s.FindProfile(ctx, p.Channel, p.SenderID)
		return found, false, ferr
	}
	if err != nil {
		return nil, false, wrap(err)
	}
	return &out, out.ID == p.ID, nil
}

func (s *MongoStore) UpdateProfileLinks(ctx context.Context, profileID, agentID, analysisID string) error {
	set := bson.M{}
	if agentID != "" {
		set["agent_id"] = agentID
	}
	if analysisID != "" {
		set["analysis_id"] = analysisID
	}
	if len(set) == 0 {
		return nil
	}
	res, err := s.profiles.UpdateByID(ctx, profileID, bson.M{"$set": set})
	if err != nil {
		return wrap(err)
	}
	if res.MatchedCount == 0 {
		return errx.ErrNotFound
	}
	return nil
}

func (s *MongoStore) AppendProfileSession(ctx context.Context, profileID, sessionID string) error {
	res, err := s.profiles.UpdateByID(ctx, profileID, bson.M{"$push": bson.M{"session_ids": sessionID}})
	if err != nil {
		return wrap(err)
	}
	if res.MatchedCount == 0 {
		return errx.ErrNotFound
	}
	return nil
}

func (s *MongoStore) CreateAnalysis(ctx context.Context, a *model.Analysis) error {
	_, err := s.analyses.InsertOne(ctx, a)
	return wrap(err)
}

// ================ Sessions ================

func (s *MongoStore) GetSession(ctx context.Context, sessionID string) (*model.ChatSession, error) {
	var cs model.ChatSession
	if err := s.sessions.FindOne(ctx, bson.M{"_id": sessionID}).Decode(&cs); err != nil {
		return nil, wrap(err)
	}
	return &cs, nil
}

func (s *MongoStore) CreateSession(ctx context.Context, cs *model.ChatSession) error {
	if cs.Messages == nil {
		cs.Messages = []model.Message{}
	}
	_, err := s.sessions.InsertOne(ctx, cs)
	return wrap(err)
}

func (s *MongoStore) AppendMessages(ctx context.Context, sessionID string, msgs ...model.Message) error {
	res, err := s.sessions.UpdateByID(ctx, sessionID, bson.M{"$push": bson.M{"messages": bson.M{"$each": msgs}}})
	if err != nil {
		return wrap(err)
	}
	if res.MatchedCount == 0 {
		return errx.ErrNotFound
	}
	return nil
}

var _ model.Store = (*MongoStore)(nil)
