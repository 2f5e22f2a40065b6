package repository

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/sirupsen/logrus"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// fakeDynamoDB is an in-memory table keyed by PK. It understands the
// condition expressions the repositories build and SET/REMOVE updates.
type fakeDynamoDB struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
	err   error
}

func newFakeDynamoDB() *fakeDynamoDB {
	return &fakeDynamoDB{items: make(map[string]map[string]types.AttributeValue)}
}

func pkOf(item map[string]types.AttributeValue) string {
	return item["PK"].(*types.AttributeValueMemberS).Value
}

func stringOf(av types.AttributeValue) (string, bool) {
	s, ok := av.(*types.AttributeValueMemberS)
	if !ok {
		return "", false
	}
	return s.Value, true
}

type conditionInput struct {
	expression string
	names      map[string]string
	values     map[string]types.AttributeValue
}

func (f *fakeDynamoDB) conditionHolds(in conditionInput, pk string) bool {
	if in.expression == "" {
		return true
	}
	item := f.items[pk]
	for _, clause := range strings.Split(in.expression, " AND ") {
		if !evalClause(strings.TrimSpace(clause), item, in) {
			return false
		}
	}
	return true
}

func evalClause(clause string, item map[string]types.AttributeValue, in conditionInput) bool {
	resolve := func(name string) string {
		if resolved, ok := in.names[name]; ok {
			return resolved
		}
		return name
	}

	switch {
	case strings.HasPrefix(clause, "NOT ("):
		return !evalClause(strings.TrimSuffix(strings.TrimPrefix(clause, "NOT ("), ")"), item, in)
	case strings.HasPrefix(clause, "("):
		for _, alt := range strings.Split(strings.TrimSuffix(strings.TrimPrefix(clause, "("), ")"), " OR ") {
			if evalClause(strings.TrimSpace(alt), item, in) {
				return true
			}
		}
		return false
	case strings.HasPrefix(clause, "attribute_exists("):
		_, ok := item[resolve(strings.TrimSuffix(strings.TrimPrefix(clause, "attribute_exists("), ")"))]
		return item != nil && ok
	case strings.HasPrefix(clause, "attribute_not_exists("):
		_, ok := item[resolve(strings.TrimSuffix(strings.TrimPrefix(clause, "attribute_not_exists("), ")"))]
		return item == nil || !ok
	case strings.Contains(clause, " IN ("):
		name, list, _ := strings.Cut(clause, " IN (")
		current, _ := stringOf(item[resolve(name)])
		for _, placeholder := range strings.Split(strings.TrimSuffix(list, ")"), ", ") {
			if v, _ := stringOf(in.values[placeholder]); v == current {
				return true
			}
		}
		return false
	case strings.Contains(clause, " <> "):
		name, placeholder, _ := strings.Cut(clause, " <> ")
		current, _ := stringOf(item[resolve(name)])
		want, _ := stringOf(in.values[placeholder])
		return current != want
	case strings.Contains(clause, " = "):
		name, placeholder, _ := strings.Cut(clause, " = ")
		current, _ := stringOf(item[resolve(name)])
		want, _ := stringOf(in.values[placeholder])
		return current == want
	}
	return true
}

func (f *fakeDynamoDB) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &dynamodb.GetItemOutput{Item: f.items[pkOf(params.Key)]}, nil
}

func (f *fakeDynamoDB) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	pk := pkOf(params.Item)
	cond := conditionInput{aws.ToString(params.ConditionExpression), params.ExpressionAttributeNames, params.ExpressionAttributeValues}
	if !f.conditionHolds(cond, pk) {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
	}
	f.items[pk] = params.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamoDB) UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	pk := pkOf(params.Key)
	cond := conditionInput{aws.ToString(params.ConditionExpression), params.ExpressionAttributeNames, params.ExpressionAttributeValues}
	if !f.conditionHolds(cond, pk) {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
	}

	item := f.items[pk]
	set, remove, _ := strings.Cut(aws.ToString(params.UpdateExpression), " REMOVE ")
	for _, clause := range strings.Split(strings.TrimPrefix(set, "SET "), ", ") {
		name, placeholder, _ := strings.Cut(clause, " = ")
		if resolved, ok := params.ExpressionAttributeNames[name]; ok {
			name = resolved
		}
		item[name] = params.ExpressionAttributeValues[placeholder]
	}
	if remove != "" {
		for _, name := range strings.Split(remove, ", ") {
			delete(item, name)
		}
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeDynamoDB) TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}

	reasons := make([]types.CancellationReason, len(params.TransactItems))
	failed := false
	for i, ti := range params.TransactItems {
		reasons[i] = types.CancellationReason{Code: aws.String("None")}
		cond := conditionInput{expression: aws.ToString(ti.Put.ConditionExpression)}
		if !f.conditionHolds(cond, pkOf(ti.Put.Item)) {
			reasons[i] = types.CancellationReason{Code: aws.String("ConditionalCheckFailed")}
			failed = true
		}
	}
	if failed {
		return nil, &types.TransactionCanceledException{
			Message:             aws.String("Transaction cancelled"),
			CancellationReasons: reasons,
		}
	}

	for _, ti := range params.TransactItems {
		f.items[pkOf(ti.Put.Item)] = ti.Put.Item
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}
