package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/Tyrowin/chatify/internal/logging"
)

const (
	usersCollection    = "users"
	messagesCollection = "messages"
)

// MongoConfig selects the deployment and database.
type MongoConfig struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
}

// Mongo is the production Store. Documents use ObjectID keys so the
// collections stay compatible with the existing user and message data.
type Mongo struct {
	client   *mongo.Client
	users    *mongo.Collection
	messages *mongo.Collection
	log      *zap.Logger
	now      func() time.Time
}

type userDoc struct {
	ID         primitive.ObjectID `bson:"_id"`
	FullName   string             `bson:"fullName"`
	Email      string             `bson:"email"`
	Password   string             `bson:"password,omitempty"`
	ProfilePic string             `bson:"profilePic,omitempty"`
	CreatedAt  time.Time          `bson:"createdAt,omitempty"`
	UpdatedAt  time.Time          `bson:"updatedAt,omitempty"`
}

type messageDoc struct {
	ID         primitive.ObjectID `bson:"_id"`
	SenderID   primitive.ObjectID `bson:"senderId"`
	ReceiverID primitive.ObjectID `bson:"receiverId"`
	Text       string             `bson:"text,omitempty"`
	Image      string             `bson:"image,omitempty"`
	CreatedAt  time.Time          `bson:"createdAt"`
	UpdatedAt  time.Time          `bson:"updatedAt"`
}

// OpenMongo connects and pings the deployment.
func OpenMongo(ctx context.Context, cfg MongoConfig, log *zap.Logger) (*Mongo, error) {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, errors.Wrap(err, "mongo: connect")
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Wrap(err, "mongo: ping")
	}

	db := client.Database(cfg.Database)
	log = logging.OrNop(log)
	log.Info("Connected to MongoDB", zap.String("database", cfg.Database))

	return &Mongo{
		client:   client,
		users:    db.Collection(usersCollection),
		messages: db.Collection(messagesCollection),
		log:      log,
		now:      time.Now,
	}, nil
}

// CreateUser implements Store.
func (s *Mongo) CreateUser(ctx context.Context, u User, passwordHash string) (User, error) {
	n, err := s.users.CountDocuments(ctx, bson.M{"email": u.Email}, options.Count().SetLimit(1))
	if err != nil {
		return User{}, errors.Wrap(err, "mongo: count email")
	}
	if n > 0 {
		return User{}, ErrEmailTaken
	}

	now := s.now().UTC().Truncate(time.Millisecond)
	doc := userDoc{
		ID:         primitive.NewObjectID(),
		FullName:   u.FullName,
		Email:      u.Email,
		Password:   passwordHash,
		ProfilePic: u.ProfilePic,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if _, err := s.users.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return User{}, ErrEmailTaken
		}
		return User{}, errors.Wrap(err, "mongo: insert user")
	}
	return doc.toUser(), nil
}

// UserByEmail implements Store.
func (s *Mongo) UserByEmail(ctx context.Context, email string) (User, string, error) {
	var doc userDoc
	err := s.users.FindOne(ctx, bson.M{"email": email}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return User{}, "", ErrNotFound
	}
	if err != nil {
		return User{}, "", errors.Wrap(err, "mongo: find user by email")
	}
	return doc.toUser(), doc.Password, nil
}

// UpdateProfilePic implements Store.
func (s *Mongo) UpdateProfilePic(ctx context.Context, id, pic string) (User, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return User{}, ErrNotFound
	}
	update := bson.M{"$set": bson.M{"profilePic": pic, "updatedAt": s.now().UTC().Truncate(time.Millisecond)}}
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetProjection(userProjection())

	var doc userDoc
	err = s.users.FindOneAndUpdate(ctx, bson.M{"_id": oid}, update, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, errors.Wrap(err, "mongo: update profile")
	}
	return doc.toUser(), nil
}

// UserExists implements Store.
func (s *Mongo) UserExists(ctx context.Context, id string) (bool, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return false, nil
	}
	n, err := s.users.CountDocuments(ctx, bson.M{"_id": oid}, options.Count().SetLimit(1))
	if err != nil {
		return false, errors.Wrap(err, "mongo: count user")
	}
	return n > 0, nil
}

// GetUser implements Store.
func (s *Mongo) GetUser(ctx context.Context, id string) (User, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return User{}, ErrNotFound
	}
	var doc userDoc
	err = s.users.FindOne(ctx, bson.M{"_id": oid}, options.FindOne().SetProjection(userProjection())).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, errors.Wrap(err, "mongo: find user")
	}
	return doc.toUser(), nil
}

// ListUsersExcept implements Store.
func (s *Mongo) ListUsersExcept(ctx context.Context, id string) ([]User, error) {
	filter := bson.M{}
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		filter = bson.M{"_id": bson.M{"$ne": oid}}
	}
	return s.findUsers(ctx, filter)
}

// ListUsers implements Store.
func (s *Mongo) ListUsers(ctx context.Context, ids []string) ([]User, error) {
	oids := objectIDs(ids)
	if len(oids) == 0 {
		return nil, nil
	}
	return s.findUsers(ctx, bson.M{"_id": bson.M{"$in": oids}})
}

// SaveMessage implements Store.
func (s *Mongo) SaveMessage(ctx context.Context, m Message) (Message, error) {
	senderID, err := primitive.ObjectIDFromHex(m.SenderID)
	if err != nil {
		return Message{}, ErrNotFound
	}
	receiverID, err := primitive.ObjectIDFromHex(m.ReceiverID)
	if err != nil {
		return Message{}, ErrNotFound
	}

	now := s.now().UTC().Truncate(time.Millisecond)
	doc := messageDoc{
		ID:         primitive.NewObjectID(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Text:       m.Text,
		Image:      m.Image,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if _, err := s.messages.InsertOne(ctx, doc); err != nil {
		return Message{}, errors.Wrap(err, "mongo: insert message")
	}

	out := doc.toMessage()
	sender, err := s.GetUser(ctx, m.SenderID)
	if err != nil {
		s.log.Warn("Persisted message without resolvable sender", zap.String("message_id", out.ID), zap.Error(err))
		return out, nil
	}
	out.Sender = senderOf(sender)
	return out, nil
}

// Conversation implements Store.
func (s *Mongo) Conversation(ctx context.Context, a, b string) ([]Message, error) {
	aID, errA := primitive.ObjectIDFromHex(a)
	bID, errB := primitive.ObjectIDFromHex(b)
	if errA != nil || errB != nil {
		return nil, nil
	}

	filter := bson.M{"$or": bson.A{
		bson.M{"senderId": aID, "receiverId": bID},
		bson.M{"senderId": bID, "receiverId": aID},
	}}
	msgs, err := s.findMessages(ctx, filter, options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}))
	if err != nil {
		return nil, err
	}
	if err := s.populateSenders(ctx, msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// ChatPartners implements Store.
func (s *Mongo) ChatPartners(ctx context.Context, userID string) ([]User, error) {
	oid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return nil, nil
	}
	filter := bson.M{"$or": bson.A{
		bson.M{"senderId": oid},
		bson.M{"receiverId": oid},
	}}
	msgs, err := s.findMessages(ctx, filter, options.Find())
	if err != nil {
		return nil, err
	}
	return s.ListUsers(ctx, partnerIDs(userID, msgs))
}

// Close implements Store.
func (s *Mongo) Close(ctx context.Context) error {
	return errors.Wrap(s.client.Disconnect(ctx), "mongo: disconnect")
}

func (s *Mongo) findUsers(ctx context.Context, filter bson.M) ([]User, error) {
	cur, err := s.users.Find(ctx, filter, options.Find().SetProjection(userProjection()))
	if err != nil {
		return nil, errors.Wrap(err, "mongo: find users")
	}
	var docs []userDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "mongo: decode users")
	}
	out := make([]User, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toUser())
	}
	return out, nil
}

func (s *Mongo) findMessages(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]Message, error) {
	cur, err := s.messages.Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Wrap(err, "mongo: find messages")
	}
	var docs []messageDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "mongo: decode messages")
	}
	out := make([]Message, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toMessage())
	}
	return out, nil
}

func (s *Mongo) populateSenders(ctx context.Context, msgs []Message) error {
	seen := make(map[string]struct{})
	var ids []string
	for _, m := range msgs {
		if _, ok := seen[m.SenderID]; !ok {
			seen[m.SenderID] = struct{}{}
			ids = append(ids, m.SenderID)
		}
	}
	users, err := s.ListUsers(ctx, ids)
	if err != nil {
		return err
	}
	byID := make(map[string]User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	for i := range msgs {
		if u, ok := byID[msgs[i].SenderID]; ok {
			msgs[i].Sender = senderOf(u)
		}
	}
	return nil
}

func userProjection() bson.M {
	return bson.M{"password": 0}
}

func objectIDs(ids []string) []primitive.ObjectID {
	out := make([]primitive.ObjectID, 0, len(ids))
	for _, id := range ids {
		if oid, err := primitive.ObjectIDFromHex(id); err == nil {
			out = append(out, oid)
		}
	}
	return out
}

func (d userDoc) toUser() User {
	return User{
		ID:         d.ID.Hex(),
		FullName:   d.FullName,
		Email:      d.Email,
		ProfilePic: d.ProfilePic,
	}
}

func (d messageDoc) toMessage() Message {
	return Message{
		ID:         d.ID.Hex(),
		SenderID:   d.SenderID.Hex(),
		ReceiverID: d.ReceiverID.Hex(),
		Text:       d.Text,
		Image:      d.Image,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}
