package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	appchat "marketchat/internal/app/chat"
	domainchat "marketchat/internal/domain/chat"
	"marketchat/internal/infra/lookup"
)

type userDocument struct {
	ID           string `bson:"_id"`
	FirstName    string `bson:"first_name"`
	LastName     string `bson:"last_name"`
	DisplayName  string `bson:"display_name,omitempty"`
	ProfileImage string `bson:"profile_image,omitempty"`
}

func (d userDocument) profile() domainchat.Profile {
	name := strings.TrimSpace(d.DisplayName)
	if name == "" {
		name = strings.TrimSpace(d.FirstName + " " + d.LastName)
	}
	if name == "" {
		name = domainchat.UnknownUserName
	}
	return domainchat.Profile{ID: domainchat.UserID(d.ID), Name: name, Avatar: d.ProfileImage}
}

// Profiles reads display data from the marketplace users collection.
type Profiles struct {
	col *mongo.Collection
}

func NewProfiles(db *mongo.Database) *Profiles {
	return &Profiles{col: db.Collection("users")}
}

func (p *Profiles) Profile(ctx context.Context, id domainchat.UserID) (domainchat.Profile, error) {
	opts := options.FindOne().SetProjection(bson.M{"first_name": 1, "last_name": 1, "display_name": 1, "profile_image": 1})
	var doc userDocument
	if err := p.col.FindOne(ctx, bson.M{"_id": string(id)}, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domainchat.Profile{}, fmt.Errorf("%w: %w: user %s", domainchat.ErrLookupFailed, lookup.ErrNotFound, id)
		}
		return domainchat.Profile{}, fmt.Errorf("%w: %w", domainchat.ErrLookupFailed, err)
	}
	return doc.profile(), nil
}

// Listings reads listing titles from the marketplace listings collection.
type Listings struct {
	col *mongo.Collection
}

func NewListings(db *mongo.Database) *Listings {
	return &Listings{col: db.Collection("listings")}
}

func (l *Listings) ListingTitle(ctx context.Context, id domainchat.ListingID) (string, error) {
	opts := options.FindOne().SetProjection(bson.M{"title": 1})
	var doc struct {
		Title string `bson:"title"`
	}
	if err := l.col.FindOne(ctx, bson.M{"_id": string(id)}, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", fmt.Errorf("%w: %w: listing %s", domainchat.ErrLookupFailed, lookup.ErrNotFound, id)
		}
		return "", fmt.Errorf("%w: %w", domainchat.ErrLookupFailed, err)
	}
	return doc.Title, nil
}

var (
	_ appchat.ProfileLookup = (*Profiles)(nil)
	_ appchat.ListingLookup = (*Listings)(nil)
)
