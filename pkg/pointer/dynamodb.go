package pointer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/aws/aws-sdk-go/service/dynamodb/expression"
	"github.com/klokku/hangouts/internal/config"
)

// Table layout: partition key GroupId, sort key HangoutId, plus three global secondary indexes.
const (
	// GroupTimeIndex: GroupId + SortKey, holds scheduled pointers only.
	groupTimeIndex = "GroupTimeIndex"
	// GroupUnscheduledIndex: GroupId + Unscheduled, holds unscheduled pointers only.
	groupUnscheduledIndex = "GroupUnscheduledIndex"
	// HangoutIndex: HangoutId + GroupId.
	hangoutIndex = "HangoutIndex"
)

type dynamoItem struct {
	GroupId   string
	HangoutId string
	// SortKey is "<20 digit unix millis>#<hangout id>", set only for scheduled pointers.
	SortKey string `dynamodbav:",omitempty"`
	// Unscheduled repeats the hangout id for unscheduled pointers so the sparse index orders them by id.
	Unscheduled string `dynamodbav:",omitempty"`
	Version     int64
	Doc         string
}

type dynamoStore struct {
	client dynamodbiface.DynamoDBAPI
	table  string
}

// NewDynamoDBClient opens a client for the configured region. A non-empty endpoint targets a local emulator.
func NewDynamoDBClient(cfg config.DynamoDB) (*dynamodb.DynamoDB, error) {
	awsConfig := &aws.Config{Region: aws.String(cfg.Region)}
	if cfg.Endpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.Endpoint)
	}
	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("create aws session: %w", err)
	}
	return dynamodb.New(sess), nil
}

// NewDynamoDBStore keeps pointers in a DynamoDB table partitioned by group.
func NewDynamoDBStore(client dynamodbiface.DynamoDBAPI, table string) Store {
	return &dynamoStore{client: client, table: table}
}

func sortKey(timeKey time.Time, hangoutId string) string {
	return fmt.Sprintf("%020d#%s", timeKey.UnixMilli(), hangoutId)
}

func toItem(p Pointer) (dynamoItem, error) {
	doc, err := EncodeDocument(p)
	if err != nil {
		return dynamoItem{}, err
	}
	item := dynamoItem{
		GroupId:   p.GroupId,
		HangoutId: p.HangoutId,
		Version:   p.Version,
		Doc:       string(doc),
	}
	if p.TimeKey != nil {
		item.SortKey = sortKey(*p.TimeKey, p.HangoutId)
	} else {
		item.Unscheduled = p.HangoutId
	}
	return item, nil
}

func itemKey(groupId string, hangoutId string) map[string]*dynamodb.AttributeValue {
	return map[string]*dynamodb.AttributeValue{
		"GroupId":   {S: aws.String(groupId)},
		"HangoutId": {S: aws.String(hangoutId)},
	}
}

func (s *dynamoStore) Put(ctx context.Context, p Pointer) error {
	item, err := toItem(p)
	if err != nil {
		return err
	}
	av, err := dynamodbattribute.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshal pointer %s/%s: %w", p.GroupId, p.HangoutId, err)
	}
	condition := expression.Or(
		expression.AttributeNotExists(expression.Name("GroupId")),
		expression.Name("Version").LessThanEqual(expression.Value(p.Version)),
	)
	expr, err := expression.NewBuilder().WithCondition(condition).Build()
	if err != nil {
		return fmt.Errorf("build put condition: %w", err)
	}
	_, err = s.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(s.table),
		Item:                      av,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return ErrStaleVersion
		}
		return fmt.Errorf("put pointer %s/%s: %w", p.GroupId, p.HangoutId, err)
	}
	return nil
}

func (s *dynamoStore) Get(ctx context.Context, groupId string, hangoutId string) (Pointer, error) {
	out, err := s.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            itemKey(groupId, hangoutId),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return Pointer{}, fmt.Errorf("get pointer %s/%s: %w", groupId, hangoutId, err)
	}
	if len(out.Item) == 0 {
		return Pointer{}, ErrPointerNotFound
	}
	var item dynamoItem
	if err := dynamodbattribute.UnmarshalMap(out.Item, &item); err != nil {
		return Pointer{}, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	return decodeRow(Key{GroupId: groupId, HangoutId: hangoutId}, []byte(item.Doc))
}

func (s *dynamoStore) Delete(ctx context.Context, groupId string, hangoutId string) error {
	_, err := s.client.DeleteItemWithContext(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       itemKey(groupId, hangoutId),
	})
	if err != nil {
		return fmt.Errorf("delete pointer %s/%s: %w", groupId, hangoutId, err)
	}
	return nil
}

func (s *dynamoStore) DeleteByHangout(ctx context.Context, hangoutId string) error {
	items, err := s.queryHangout(ctx, hangoutId, MaxGroupsPerHangout)
	if err != nil {
		return err
	}
	var errs []error
	for _, item := range items {
		if err := s.Delete(ctx, item.GroupId, item.HangoutId); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *dynamoStore) ListByHangout(ctx context.Context, hangoutId string, limit int) ([]Pointer, error) {
	if limit < 1 {
		return nil, fmt.Errorf("%w: limit must be positive", ErrInvalidQuery)
	}
	items, err := s.queryHangout(ctx, hangoutId, limit)
	if err != nil {
		return nil, err
	}
	return decodeItems(items), nil
}

func (s *dynamoStore) queryHangout(ctx context.Context, hangoutId string, limit int) ([]dynamoItem, error) {
	keyCondition := expression.Key("HangoutId").Equal(expression.Value(hangoutId))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCondition).Build()
	if err != nil {
		return nil, fmt.Errorf("build hangout query: %w", err)
	}
	return s.query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(s.table),
		IndexName:                 aws.String(hangoutIndex),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}, limit)
}

// QueryFeed issues one range query on each sparse index: the time index for the scheduled
// page and the unscheduled index for the unscheduled list.
func (s *dynamoStore) QueryFeed(ctx context.Context, q FeedQuery) (FeedResult, error) {
	if err := validateFeedQuery(q); err != nil {
		return FeedResult{}, err
	}

	input, skipKey, err := s.scheduledInput(q)
	if err != nil {
		return FeedResult{}, err
	}
	limit := q.Limit
	if skipKey != "" {
		limit++
	}
	scheduled, err := s.query(ctx, input, limit)
	if err != nil {
		return FeedResult{}, fmt.Errorf("query feed of group %s: %w", q.GroupId, err)
	}
	if skipKey != "" {
		kept := scheduled[:0]
		for _, item := range scheduled {
			if item.SortKey != skipKey {
				kept = append(kept, item)
			}
		}
		scheduled = kept
		if len(scheduled) > q.Limit {
			scheduled = scheduled[:q.Limit]
		}
	}

	unscheduledCondition := expression.Key("GroupId").Equal(expression.Value(q.GroupId))
	unscheduledExpr, err := expression.NewBuilder().WithKeyCondition(unscheduledCondition).Build()
	if err != nil {
		return FeedResult{}, fmt.Errorf("build unscheduled query: %w", err)
	}
	unscheduled, err := s.query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(s.table),
		IndexName:                 aws.String(groupUnscheduledIndex),
		KeyConditionExpression:    unscheduledExpr.KeyCondition(),
		ExpressionAttributeNames:  unscheduledExpr.Names(),
		ExpressionAttributeValues: unscheduledExpr.Values(),
	}, q.UnscheduledLimit)
	if err != nil {
		return FeedResult{}, fmt.Errorf("query unscheduled of group %s: %w", q.GroupId, err)
	}

	return FeedResult{
		Scheduled:     decodeItems(scheduled),
		ScheduledRows: len(scheduled),
		Unscheduled:   decodeItems(unscheduled),
	}, nil
}

// scheduledInput builds the time index query. Key conditions have no exclusive range form
// combined with a lower bound, so backward pages use BETWEEN and the cursor item is dropped
// afterwards; skipKey names it.
func (s *dynamoStore) scheduledInput(q FeedQuery) (*dynamodb.QueryInput, string, error) {
	fromKey := fmt.Sprintf("%020d#", q.From.UnixMilli())
	group := expression.Key("GroupId").Equal(expression.Value(q.GroupId))
	sortKeyName := expression.Key("SortKey")

	var keyCondition expression.KeyConditionBuilder
	var skipKey string
	forward := true
	switch {
	case q.After != nil && sortKey(q.After.TimeKey, q.After.HangoutId) >= fromKey:
		keyCondition = group.And(sortKeyName.GreaterThan(expression.Value(sortKey(q.After.TimeKey, q.After.HangoutId))))
	case q.Before != nil:
		skipKey = sortKey(q.Before.TimeKey, q.Before.HangoutId)
		if skipKey < fromKey {
			// the cursor lies in the past: nothing scheduled remains before it
			skipKey = fromKey
		}
		keyCondition = group.And(sortKeyName.Between(expression.Value(fromKey), expression.Value(skipKey)))
		forward = false
	default:
		keyCondition = group.And(sortKeyName.GreaterThanEqual(expression.Value(fromKey)))
	}

	expr, err := expression.NewBuilder().WithKeyCondition(keyCondition).Build()
	if err != nil {
		return nil, "", fmt.Errorf("build feed query: %w", err)
	}
	return &dynamodb.QueryInput{
		TableName:                 aws.String(s.table),
		IndexName:                 aws.String(groupTimeIndex),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(forward),
	}, skipKey, nil
}

func (s *dynamoStore) QueryScheduled(ctx context.Context, groupId string, from time.Time, limit int) ([]Pointer, error) {
	if limit < 1 {
		return nil, fmt.Errorf("%w: limit must be positive", ErrInvalidQuery)
	}
	input, _, err := s.scheduledInput(FeedQuery{GroupId: groupId, From: from})
	if err != nil {
		return nil, err
	}
	items, err := s.query(ctx, input, limit)
	if err != nil {
		return nil, fmt.Errorf("query scheduled of group %s: %w", groupId, err)
	}
	return decodeItems(items), nil
}

func (s *dynamoStore) ListKeys(ctx context.Context, after *Key, limit int) ([]Key, *Key, error) {
	if limit < 1 {
		return nil, nil, fmt.Errorf("%w: limit must be positive", ErrInvalidQuery)
	}
	input := &dynamodb.ScanInput{
		TableName:            aws.String(s.table),
		ProjectionExpression: aws.String("GroupId, HangoutId"),
		Limit:                aws.Int64(int64(limit)),
	}
	if after != nil {
		input.ExclusiveStartKey = itemKey(after.GroupId, after.HangoutId)
	}
	out, err := s.client.ScanWithContext(ctx, input)
	if err != nil {
		return nil, nil, fmt.Errorf("scan pointer keys: %w", err)
	}
	var items []dynamoItem
	if err := dynamodbattribute.UnmarshalListOfMaps(out.Items, &items); err != nil {
		return nil, nil, fmt.Errorf("unmarshal pointer keys: %w", err)
	}
	keys := make([]Key, 0, len(items))
	for _, item := range items {
		keys = append(keys, Key{GroupId: item.GroupId, HangoutId: item.HangoutId})
	}
	if len(out.LastEvaluatedKey) == 0 {
		return keys, nil, nil
	}
	var next dynamoItem
	if err := dynamodbattribute.UnmarshalMap(out.LastEvaluatedKey, &next); err != nil {
		return nil, nil, fmt.Errorf("unmarshal scan position: %w", err)
	}
	return keys, &Key{GroupId: next.GroupId, HangoutId: next.HangoutId}, nil
}

// query follows LastEvaluatedKey until limit items are read or the range is exhausted.
func (s *dynamoStore) query(ctx context.Context, input *dynamodb.QueryInput, limit int) ([]dynamoItem, error) {
	var items []dynamoItem
	for len(items) < limit {
		input.Limit = aws.Int64(int64(limit - len(items)))
		out, err := s.client.QueryWithContext(ctx, input)
		if err != nil {
			return nil, err
		}
		var page []dynamoItem
		if err := dynamodbattribute.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshal pointer items: %w", err)
		}
		items = append(items, page...)
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
	return items, nil
}

func decodeItems(items []dynamoItem) []Pointer {
	pointers := make([]Pointer, 0, len(items))
	for _, item := range items {
		p, err := decodeRow(Key{GroupId: item.GroupId, HangoutId: item.HangoutId}, []byte(item.Doc))
		if err != nil {
			continue
		}
		pointers = append(pointers, p)
	}
	return pointers
}

func isConditionalCheckFailed(err error) bool {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		return aerr.Code() == dynamodb.ErrCodeConditionalCheckFailedException
	}
	return false
}
