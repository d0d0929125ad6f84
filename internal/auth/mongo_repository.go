package auth

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoConfig contains connection settings for MongoDB user repository.
type MongoConfig struct {
	URI        string // e.g. mongodb://localhost:27017
	Database   string // e.g. cow_game
	Collection string // e.g. users
}

// MongoUserRepo implements UserRepository on MongoDB backend.
type MongoUserRepo struct {
	client     *mongo.Client
	collection *mongo.Collection
	ctxTimeout time.Duration
}

// userDoc is the BSON shape of an account document.
type userDoc struct {
	Username      string    `bson:"username"`       // display casing
	UsernameLower string    `bson:"username_lower"` // identity key
	PasswordHash  string    `bson:"password_hash"`
	CreatedAt     time.Time `bson:"created_at"`
	LastLogin     time.Time `bson:"last_login"`
	Color         string    `bson:"color"`
}

// NewMongoUserRepo establishes connection and returns repository.
func NewMongoUserRepo(cfg MongoConfig) (*MongoUserRepo, error) {
	if cfg.URI == "" {
		cfg.URI = "mongodb://localhost:27017"
	}
	if cfg.Database == "" {
		cfg.Database = "cow_game"
	}
	if cfg.Collection == "" {
		cfg.Collection = "users"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, err
	}
	// ping
	if err := client.Ping(ctx, nil); err != nil {
		return nil, err
	}
	repo := &MongoUserRepo{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
		ctxTimeout: 5 * time.Second,
	}

	// Ensure indexes
	if err := repo.ensureIndexes(); err != nil {
		return nil, err
	}
	return repo, nil
}

func (m *MongoUserRepo) ensureIndexes() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.ctxTimeout)
	defer cancel()
	usernameIdx := mongo.IndexModel{
		Keys:    bson.D{{Key: "username_lower", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("username_lower_unique"),
	}
	_, err := m.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{usernameIdx})
	return err
}

// FindByUsername implements UserRepository.
func (m *MongoUserRepo) FindByUsername(username string) (*User, error) {
	ctx, cancel := context.WithTimeout(context.Background(), m.ctxTimeout)
	defer cancel()
	var doc userDoc
	err := m.collection.FindOne(ctx, bson.M{"username_lower": normalize(username)}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return docToUser(&doc), nil
}

// CreateUser inserts a new document and returns created user.
func (m *MongoUserRepo) CreateUser(username string, passwordHash string, color string) (*User, error) {
	if color == "" {
		color = DefaultColor
	}
	now := time.Now()
	doc := userDoc{
		Username:      username,
		UsernameLower: normalize(username),
		PasswordHash:  passwordHash,
		CreatedAt:     now,
		LastLogin:     now,
		Color:         color,
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.ctxTimeout)
	defer cancel()
	_, err := m.collection.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return nil, ErrUserExists
	}
	if err != nil {
		return nil, err
	}
	return docToUser(&doc), nil
}

// RecordLogin updates last_login for the account.
func (m *MongoUserRepo) RecordLogin(username string) error {
	ctx, cancel := context.WithTimeout(context.Background(), m.ctxTimeout)
	defer cancel()
	_, err := m.collection.UpdateOne(ctx,
		bson.M{"username_lower": normalize(username)},
		bson.M{"$set": bson.M{"last_login": time.Now()}},
	)
	return err
}

// GetColor returns the persisted cow color, DefaultColor when absent.
func (m *MongoUserRepo) GetColor(username string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), m.ctxTimeout)
	defer cancel()
	var doc userDoc
	err := m.collection.FindOne(ctx, bson.M{"username_lower": normalize(username)}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return DefaultColor, nil
	}
	if err != nil {
		return DefaultColor, err
	}
	if doc.Color == "" {
		return DefaultColor, nil
	}
	return doc.Color, nil
}

// SetColor persists the cow color for the account.
func (m *MongoUserRepo) SetColor(username string, color string) error {
	ctx, cancel := context.WithTimeout(context.Background(), m.ctxTimeout)
	defer cancel()
	_, err := m.collection.UpdateOne(ctx,
		bson.M{"username_lower": normalize(username)},
		bson.M{"$set": bson.M{"color": color, "color_updated_at": time.Now()}},
	)
	return err
}

func docToUser(doc *userDoc) *User {
	return &User{
		Username:     doc.Username,
		PasswordHash: doc.PasswordHash,
		CreatedAt:    doc.CreatedAt,
		LastLogin:    doc.LastLogin,
		Color:        doc.Color,
	}
}

// Close terminates connection.
func (m *MongoUserRepo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
