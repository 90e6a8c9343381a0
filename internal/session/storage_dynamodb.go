package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/gate4ai/mcpcore/shared"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var (
	_ Storage    = (*DynamoDBStorage)(nil)
	_ EventStore = (*DynamoDBStorage)(nil)
)

// DynamoDBStorage implements Storage and EventStore against Amazon
// DynamoDB, the serverless-deployment case: no server process
// owns a connection pool. Items carry no TTL attribute; stale sessions and
// their events are removed by ExpireOlderThan and CleanupExpired.
type DynamoDBStorage struct {
	client            *dynamodb.Client
	sessionsTable     string
	eventsTable       string
	eventCounterTable string
}

func NewDynamoDBStorage(ctx context.Context, tablePrefix, region string) (*DynamoDBStorage, error) {
	if tablePrefix == "" {
		tablePrefix = "mcpcore"
	}
	var optFns []func(*config.LoadOptions) error
	if region != "" {
		optFns = append(optFns, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &DynamoDBStorage{
		client:            dynamodb.NewFromConfig(cfg),
		sessionsTable:     tablePrefix + "_sessions",
		eventsTable:       tablePrefix + "_session_events",
		eventCounterTable: tablePrefix + "_session_event_counters",
	}, nil
}

func (d *DynamoDBStorage) Put(ctx context.Context, rec Record) error {
	item := map[string]types.AttributeValue{
		"id":                 &types.AttributeValueMemberS{Value: rec.ID},
		"user_id":            &types.AttributeValueMemberS{Value: rec.UserID},
		"status":             &types.AttributeValueMemberN{Value: strconv.Itoa(int(rec.Status))},
		"negotiated_version": &types.AttributeValueMemberS{Value: rec.NegotiatedVersion},
		"client_name":        &types.AttributeValueMemberS{Value: rec.ClientName},
		"client_version":     &types.AttributeValueMemberS{Value: rec.ClientVersion},
		"created_at":         &types.AttributeValueMemberN{Value: strconv.FormatInt(rec.CreatedAt.Unix(), 10)},
		"last_activity":      &types.AttributeValueMemberN{Value: strconv.FormatInt(rec.LastActivity.Unix(), 10)},
	}
	_, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.sessionsTable),
		Item:      item,
	})
	return err
}

func (d *DynamoDBStorage) Get(ctx context.Context, id string) (Record, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.sessionsTable),
		Key:       map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: id}},
	})
	if err != nil {
		return Record{}, err
	}
	if out.Item == nil {
		return Record{}, ErrSessionNotFound
	}
	return recordFromItem(out.Item)
}

func (d *DynamoDBStorage) Delete(ctx context.Context, id string) error {
	_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.sessionsTable),
		Key:       map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: id}},
	})
	return err
}

// ExpireOlderThan scans the sessions table for stale rows. DynamoDB has no
// secondary index configured here, so this is a full scan of the table,
// followed by one DeleteItem per matching id.
func (d *DynamoDBStorage) ExpireOlderThan(ctx context.Context, cutoffUnixSeconds int64) ([]string, error) {
	filt := expression.Name("last_activity").LessThan(expression.Value(cutoffUnixSeconds))
	proj := expression.NamesList(expression.Name("id"))
	expr, err := expression.NewBuilder().WithFilter(filt).WithProjection(proj).Build()
	if err != nil {
		return nil, fmt.Errorf("build scan expression: %w", err)
	}

	var ids []string
	var lastKey map[string]types.AttributeValue
	for {
		out, err := d.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:                 aws.String(d.sessionsTable),
			FilterExpression:          expr.Filter(),
			ProjectionExpression:      expr.Projection(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			ExclusiveStartKey:         lastKey,
		})
		if err != nil {
			return nil, err
		}
		for _, item := range out.Items {
			if idAttr, ok := item["id"].(*types.AttributeValueMemberS); ok {
				ids = append(ids, idAttr.Value)
			}
		}
		lastKey = out.LastEvaluatedKey
		if len(lastKey) == 0 {
			break
		}
	}
	for _, id := range ids {
		if err := d.Delete(ctx, id); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

func recordFromItem(item map[string]types.AttributeValue) (Record, error) {
	var rec Record
	get := func(key string) string {
		if v, ok := item[key].(*types.AttributeValueMemberS); ok {
			return v.Value
		}
		return ""
	}
	getN := func(key string) int64 {
		if v, ok := item[key].(*types.AttributeValueMemberN); ok {
			n, _ := strconv.ParseInt(v.Value, 10, 64)
			return n
		}
		return 0
	}
	rec.ID = get("id")
	rec.UserID = get("user_id")
	rec.Status = shared.SessionStatus(getN("status"))
	rec.NegotiatedVersion = get("negotiated_version")
	rec.ClientName = get("client_name")
	rec.ClientVersion = get("client_version")
	rec.CreatedAt = unixToTime(getN("created_at"))
	rec.LastActivity = unixToTime(getN("last_activity"))
	return rec, nil
}

// --- EventStore ---

func (d *DynamoDBStorage) PutEvent(ctx context.Context, sessionID string, data []byte) (uint64, error) {
	upd, err := expression.NewBuilder().WithUpdate(expression.Add(expression.Name("counter"), expression.Value(1))).Build()
	if err != nil {
		return 0, err
	}
	out, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(d.eventCounterTable),
		Key:                       map[string]types.AttributeValue{"session_id": &types.AttributeValueMemberS{Value: sessionID}},
		UpdateExpression:          upd.Update(),
		ExpressionAttributeNames:  upd.Names(),
		ExpressionAttributeValues: upd.Values(),
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		return 0, fmt.Errorf("increment event counter: %w", err)
	}
	counterAttr, ok := out.Attributes["counter"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, errors.New("dynamodb: missing counter attribute after update")
	}
	eventID, err := strconv.ParseUint(counterAttr.Value, 10, 64)
	if err != nil {
		return 0, err
	}

	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.eventsTable),
		Item: map[string]types.AttributeValue{
			"session_id": &types.AttributeValueMemberS{Value: sessionID},
			"event_id":   &types.AttributeValueMemberN{Value: strconv.FormatUint(eventID, 10)},
			"data":       &types.AttributeValueMemberB{Value: data},
		},
	})
	if err != nil {
		return 0, err
	}
	return eventID, nil
}

func (d *DynamoDBStorage) queryEvents(ctx context.Context, sessionID string, afterEventID uint64) ([]StoredEvent, error) {
	keyCond := expression.Key("session_id").Equal(expression.Value(sessionID))
	if afterEventID > 0 {
		keyCond = keyCond.And(expression.Key("event_id").GreaterThan(expression.Value(afterEventID)))
	}
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, err
	}
	out, err := d.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(d.eventsTable),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return nil, err
	}
	var events []StoredEvent
	for _, item := range out.Items {
		ev := StoredEvent{SessionID: sessionID}
		if v, ok := item["event_id"].(*types.AttributeValueMemberN); ok {
			ev.EventID, _ = strconv.ParseUint(v.Value, 10, 64)
		}
		if v, ok := item["data"].(*types.AttributeValueMemberB); ok {
			ev.Data = v.Value
		}
		events = append(events, ev)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].EventID < events[j].EventID })
	return events, nil
}

func (d *DynamoDBStorage) GetEventsAfter(ctx context.Context, sessionID string, afterEventID uint64) ([]StoredEvent, error) {
	return d.queryEvents(ctx, sessionID, afterEventID)
}

func (d *DynamoDBStorage) GetRecentEvents(ctx context.Context, sessionID string, limit int) ([]StoredEvent, error) {
	events, err := d.queryEvents(ctx, sessionID, 0)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events, nil
}

func (d *DynamoDBStorage) CleanupExpired(ctx context.Context, sessionIDs []string) error {
	for _, sessionID := range sessionIDs {
		events, err := d.queryEvents(ctx, sessionID, 0)
		if err != nil {
			return err
		}
		for _, ev := range events {
			_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
				TableName: aws.String(d.eventsTable),
				Key: map[string]types.AttributeValue{
					"session_id": &types.AttributeValueMemberS{Value: sessionID},
					"event_id":   &types.AttributeValueMemberN{Value: strconv.FormatUint(ev.EventID, 10)},
				},
			})
			if err != nil {
				return err
			}
		}
		_, err = d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(d.eventCounterTable),
			Key:       map[string]types.AttributeValue{"session_id": &types.AttributeValueMemberS{Value: sessionID}},
		})
		if err != nil {
			return err
		}
	}
	return nil
}
