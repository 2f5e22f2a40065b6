package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/sirupsen/logrus"

	"github.com/pulse/pulse/internal/models"
)

// RevocationRepository keeps REVOKED_TOKEN#<jti> items. The TTL attribute
// lets DynamoDB purge them once the revoked token could no longer verify.
type RevocationRepository struct {
	client    DynamoDBAPI
	tableName string
	logger    *logrus.Logger
}

func NewRevocationRepository(client DynamoDBAPI, tableName string, logger *logrus.Logger) *RevocationRepository {
	return &RevocationRepository{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

func revokedPK(jti string) string {
	return fmt.Sprintf("REVOKED_TOKEN#%s", jti)
}

// Create stores record unless the jti is already revoked, in which case it
// returns nil, nil.
func (r *RevocationRepository) Create(ctx context.Context, record models.RevocationRecord) (*models.RevocationRecord, error) {
	item := itemKey(revokedPK(record.TokenID))
	item["token_id"] = &types.AttributeValueMemberS{Value: record.TokenID}
	item["owner_id"] = &types.AttributeValueMemberS{Value: record.OwnerID}
	item["expires_at"] = &types.AttributeValueMemberS{Value: record.ExpiresAt.UTC().Format(time.RFC3339)}
	item["created_at"] = &types.AttributeValueMemberS{Value: record.CreatedAt.UTC().Format(time.RFC3339)}
	item["TTL"] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", record.ExpiresAt.Unix())}

	_, err := r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		if isConditionFailed(err) {
			return nil, nil
		}
		r.logger.WithError(err).Error("Failed to store revocation record in DynamoDB")
		return nil, fmt.Errorf("failed to mark token as revoked: %w", err)
	}

	return &record, nil
}

func (r *RevocationRepository) FindOne(ctx context.Context, jti string) (*models.RevocationRecord, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            itemKey(revokedPK(jti)),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get revocation record: %w", err)
	}

	if result.Item == nil {
		return nil, nil
	}

	var record models.RevocationRecord
	if err := attributevalue.UnmarshalMap(result.Item, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal revocation record: %w", err)
	}

	return &record, nil
}
