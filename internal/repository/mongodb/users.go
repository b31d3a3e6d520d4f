package mongodb

import (
	"blocksign/internal/model"
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

func (b Repository) InsertUser(ctx context.Context, user model.User) error {
	_, err := b.users().InsertOne(ctx, toStoredUser(user))
	if err != nil {
		return errors.New("failed to insert the user: " + err.Error())
	}
	return nil
}

func (b Repository) GetUserByID(ctx context.Context, userID string) (model.User, error) {
	return b.findUser(ctx, bson.M{"_id": userID})
}

func (b Repository) GetUserByUsername(ctx context.Context, username string) (model.User, error) {
	return b.findUser(ctx, bson.M{"username": username})
}

func (b Repository) findUser(ctx context.Context, filter bson.M) (model.User, error) {
	var stored storedUser
	err := b.users().FindOne(ctx, filter).Decode(&stored)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return model.User{}, ErrNotFound
		}
		return model.User{}, errors.New("failed to get the user: " + err.Error())
	}

	return stored.toModel(), nil
}

// ListUsersByUsernames resolves usernames to users. The result may be
// shorter than the input; the caller decides what missing names mean.
func (b Repository) ListUsersByUsernames(ctx context.Context, usernames []string) ([]model.User, error) {
	cursor, err := b.users().Find(ctx, bson.M{"username": bson.M{"$in": usernames}})
	if err != nil {
		return nil, errors.New("failed to find the users: " + err.Error())
	}

	var stored []storedUser
	if err := cursor.All(ctx, &stored); err != nil {
		return nil, errors.New("failed to read the users from the cursor: " + err.Error())
	}

	users := make([]model.User, len(stored))
	for i, s := range stored {
		users[i] = s.toModel()
	}
	return users, nil
}

func (b Repository) SetUserPublicKey(ctx context.Context, username string, publicKeyHex string) error {
	result, err := b.users().UpdateOne(ctx,
		bson.M{"username": username},
		bson.M{"$set": bson.M{"publicKeyEd25519": publicKeyHex}},
	)
	if err != nil {
		return errors.New("failed to set the user public key: " + err.Error())
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}

	return nil
}
