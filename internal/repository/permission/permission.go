package permission

import (
	"beacon_p2p/internal/model"
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type (
	PermissionRepo struct {
		collection *mongo.Collection
	}
)

func NewPermissionRepo(db *mongo.Database) *PermissionRepo {
	return &PermissionRepo{
		collection: db.Collection("permissions"),
	}
}

// Save inserts p or replaces the permission with the same account id.
func (r *PermissionRepo) Save(ctx context.Context, p model.Permission) error {
	filter := bson.M{
		"account_id": p.AccountID,
	}
	_, err := r.collection.ReplaceOne(ctx, filter, p, options.Replace().SetUpsert(true))
	return err
}

func (r *PermissionRepo) GetByAccountID(ctx context.Context, accountID string) (*model.Permission, error) {
	filter := bson.M{
		"account_id": accountID,
	}

	var p model.Permission
	err := r.collection.FindOne(ctx, filter).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PermissionRepo) List(ctx context.Context) ([]model.Permission, error) {
	cur, err := r.collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := []model.Permission{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *PermissionRepo) Delete(ctx context.Context, accountID string) error {
	_, err := r.collection.DeleteOne(ctx, bson.M{"account_id": accountID})
	return err
}
