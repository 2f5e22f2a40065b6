package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/sirupsen/logrus"

	"github.com/pulse/pulse/internal/models"
)

// DynamoDBAPI is the part of *dynamodb.Client the repositories use.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

const metadataSK = "METADATA"

func emailPK(email string) string {
	return "EMAIL#" + strings.ToLower(email)
}

func itemKey(pk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: metadataSK},
	}
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

// UserRepository stores accounts in a single DynamoDB table. Each account
// has a USER#<id> item and an EMAIL#<email> item pointing back at the id.
type UserRepository struct {
	client    DynamoDBAPI
	tableName string
	logger    *logrus.Logger
}

func NewUserRepository(client DynamoDBAPI, tableName string, logger *logrus.Logger) *UserRepository {
	return &UserRepository{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.Account, error) {
	account := &models.Account{ID: id}

	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            itemKey(account.GetPK()),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		r.logger.WithError(err).Error("Failed to get user from DynamoDB")
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if result.Item == nil {
		return nil, nil
	}

	var dbAccount models.Account
	if err := attributevalue.UnmarshalMap(result.Item, &dbAccount); err != nil {
		r.logger.WithError(err).Error("Failed to unmarshal user from DynamoDB")
		return nil, fmt.Errorf("failed to unmarshal user: %w", err)
	}

	return &dbAccount, nil
}

func (r *UserRepository) FindOne(ctx context.Context, filter models.AccountFilter) (*models.Account, error) {
	id := filter.ID
	if id == "" {
		if filter.Email == "" {
			return nil, ErrInvalidFilter
		}

		var err error
		id, err = r.idByEmail(ctx, filter.Email)
		if err != nil || id == "" {
			return nil, err
		}
	}

	account, err := r.FindByID(ctx, id)
	if err != nil || account == nil {
		return nil, err
	}
	if !filter.Matches(account) {
		return nil, nil
	}
	return account, nil
}

func (r *UserRepository) idByEmail(ctx context.Context, email string) (string, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            itemKey(emailPK(email)),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get email index: %w", err)
	}

	attr, ok := result.Item["account_id"].(*types.AttributeValueMemberS)
	if !ok {
		return "", nil
	}
	return attr.Value, nil
}

// Create writes the account and its email index in one transaction so a
// taken email can never be claimed twice.
func (r *UserRepository) Create(ctx context.Context, account *models.Account) error {
	item, err := attributevalue.MarshalMap(account)
	if err != nil {
		r.logger.WithError(err).Error("Failed to marshal user for DynamoDB")
		return fmt.Errorf("failed to marshal user: %w", err)
	}

	item["PK"] = &types.AttributeValueMemberS{Value: account.GetPK()}
	item["SK"] = &types.AttributeValueMemberS{Value: account.GetSK()}

	emailItem := itemKey(emailPK(account.Email))
	emailItem["account_id"] = &types.AttributeValueMemberS{Value: account.ID}

	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{
				TableName:           aws.String(r.tableName),
				Item:                item,
				ConditionExpression: aws.String("attribute_not_exists(PK)"),
			}},
			{Put: &types.Put{
				TableName:           aws.String(r.tableName),
				Item:                emailItem,
				ConditionExpression: aws.String("attribute_not_exists(PK)"),
			}},
		},
	})
	if err != nil {
		var canceled *types.TransactionCanceledException
		if errors.As(err, &canceled) {
			for _, reason := range canceled.CancellationReasons {
				if aws.ToString(reason.Code) == "ConditionalCheckFailed" {
					return ErrAccountExists
				}
			}
		}
		r.logger.WithError(err).Error("Failed to create user in DynamoDB")
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// accountCondition turns the state conditions of filter into a DynamoDB
// condition expression so the update only lands on a matching item.
func accountCondition(filter models.AccountFilter, names map[string]string, values map[string]types.AttributeValue) string {
	clauses := []string{"attribute_exists(PK)"}

	if filter.Confirmed != nil {
		clauses = append(clauses, existsClause("confirmed_at", *filter.Confirmed))
	}
	if filter.Frozen != nil {
		clauses = append(clauses, existsClause("frozen_at", *filter.Frozen))
	}
	if filter.NotFrozenBy != "" {
		clauses = append(clauses, "(attribute_not_exists(frozen_by) OR frozen_by <> :not_frozen_by)")
		values[":not_frozen_by"] = &types.AttributeValueMemberS{Value: filter.NotFrozenBy}
	}
	if len(filter.RoleNotIn) > 0 {
		placeholders := make([]string, len(filter.RoleNotIn))
		for i, role := range filter.RoleNotIn {
			placeholders[i] = fmt.Sprintf(":deny_role%d", i)
			values[placeholders[i]] = &types.AttributeValueMemberS{Value: string(role)}
		}
		names["#role"] = "role"
		clauses = append(clauses, fmt.Sprintf("NOT (#role IN (%s))", strings.Join(placeholders, ", ")))
	}

	return strings.Join(clauses, " AND ")
}

func existsClause(attribute string, exists bool) string {
	if exists {
		return fmt.Sprintf("attribute_exists(%s)", attribute)
	}
	return fmt.Sprintf("attribute_not_exists(%s)", attribute)
}

// UpdateOne applies patch to the matching account and reports whether it
// matched. Filter conditions are checked by DynamoDB in the same write.
func (r *UserRepository) UpdateOne(ctx context.Context, filter models.AccountFilter, patch models.AccountPatch) (int64, error) {
	id := filter.ID
	if id == "" {
		account, err := r.FindOne(ctx, filter)
		if err != nil || account == nil {
			return 0, err
		}
		id = account.ID
	}

	names := map[string]string{}
	values := map[string]types.AttributeValue{}
	setClauses := []string{}

	setTime := func(attribute string, t time.Time) error {
		av, err := attributevalue.Marshal(t)
		if err != nil {
			return fmt.Errorf("failed to marshal %s: %w", attribute, err)
		}
		setClauses = append(setClauses, fmt.Sprintf("%s = :%s", attribute, attribute))
		values[":"+attribute] = av
		return nil
	}

	if err := setTime("updated_at", time.Now()); err != nil {
		return 0, err
	}
	if patch.PasswordHash != nil {
		setClauses = append(setClauses, "password_hash = :password_hash")
		values[":password_hash"] = &types.AttributeValueMemberS{Value: *patch.PasswordHash}
	}
	if patch.Role != nil {
		// role is a DynamoDB reserved word
		names["#role"] = "role"
		setClauses = append(setClauses, "#role = :role")
		values[":role"] = &types.AttributeValueMemberS{Value: string(*patch.Role)}
	}
	if patch.CredentialsChangedAt != nil {
		if err := setTime("credentials_changed_at", *patch.CredentialsChangedAt); err != nil {
			return 0, err
		}
	}
	if patch.ConfirmedAt != nil {
		if err := setTime("confirmed_at", *patch.ConfirmedAt); err != nil {
			return 0, err
		}
	}
	if patch.FrozenAt != nil {
		if err := setTime("frozen_at", *patch.FrozenAt); err != nil {
			return 0, err
		}
	}
	if patch.FrozenBy != nil {
		setClauses = append(setClauses, "frozen_by = :frozen_by")
		values[":frozen_by"] = &types.AttributeValueMemberS{Value: *patch.FrozenBy}
	}

	update := "SET " + strings.Join(setClauses, ", ")
	if patch.Unfreeze {
		update += " REMOVE frozen_at, frozen_by"
	}

	input := &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       itemKey((&models.Account{ID: id}).GetPK()),
		UpdateExpression:          aws.String(update),
		ConditionExpression:       aws.String(accountCondition(filter, names, values)),
		ExpressionAttributeValues: values,
	}
	if len(names) > 0 {
		input.ExpressionAttributeNames = names
	}

	if _, err := r.client.UpdateItem(ctx, input); err != nil {
		if isConditionFailed(err) {
			return 0, nil
		}
		r.logger.WithError(err).Error("Failed to update user in DynamoDB")
		return 0, fmt.Errorf("failed to update user: %w", err)
	}

	return 1, nil
}
