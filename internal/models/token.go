package models

import "time"

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// RevocationRecord marks a jti as consumed. It is written once and never
// updated; stores may purge it after ExpiresAt.
type RevocationRecord struct {
	TokenID   string    `json:"token_id" dynamodbav:"token_id" bson:"_id"`
	OwnerID   string    `json:"owner_id" dynamodbav:"owner_id" bson:"owner_id"`
	ExpiresAt time.Time `json:"expires_at" dynamodbav:"expires_at" bson:"expires_at"`
	CreatedAt time.Time `json:"created_at" dynamodbav:"created_at" bson:"created_at"`
}
