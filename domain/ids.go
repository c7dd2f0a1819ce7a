// Package domain contains core concepts of the chat system.
// This file defines identifier helpers shared by every record kind.
package domain

import (
	"chat-relay/errors"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ID is the ObjectId-style identifier used by users, conversations and messages.
type ID = primitive.ObjectID

var NilID = primitive.NilObjectID

func NewID() ID {
	return primitive.NewObjectID()
}

// IsValidID reports whether s is a structurally valid identifier (24 hex chars).
func IsValidID(s string) bool {
	return primitive.IsValidObjectID(s)
}

func ParseID(s string) (ID, error) {
	return primitive.ObjectIDFromHex(s)
}

// ParseUserID parses an authenticated identity.
func ParseUserID(s string) (ID, error) {
	id, err := primitive.ObjectIDFromHex(s)
	if err != nil {
		return NilID, errors.ErrInvalidUserID
	}
	return id, nil
}
