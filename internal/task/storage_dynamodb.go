package task

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/gate4ai/mcpcore/shared/mcp/schema"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var _ Storage = (*DynamoDBStorage)(nil)

// DynamoDBStorage implements Storage against Amazon DynamoDB, the
// serverless deployment tier as the matching session storage backend.
type DynamoDBStorage struct {
	client *dynamodb.Client
	table  string
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
	return &DynamoDBStorage{client: dynamodb.NewFromConfig(cfg), table: tablePrefix + "_tasks"}, nil
}

func (d *DynamoDBStorage) CreateTask(ctx context.Context, rec Record) error {
	item, err := recordToItem(rec)
	if err != nil {
		return err
	}
	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String(d.table), Item: item})
	return err
}

func (d *DynamoDBStorage) GetTask(ctx context.Context, id string) (Record, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.table),
		Key:       map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: id}},
	})
	if err != nil {
		return Record{}, err
	}
	if out.Item == nil {
		return Record{}, ErrNotFound
	}
	return itemToRecord(out.Item)
}

func (d *DynamoDBStorage) UpdateStatus(ctx context.Context, id string, status schema.TaskStatus, statusMessage string) error {
	rec, err := d.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status.IsTerminal() {
		return ErrInvalidTransition
	}
	rec.Status = status
	rec.StatusMessage = statusMessage
	rec.LastUpdatedAt = time.Now()
	return d.CreateTask(ctx, rec)
}

func (d *DynamoDBStorage) StoreResult(ctx context.Context, id string, status schema.TaskStatus, result schema.TaskResult) error {
	if !status.IsTerminal() {
		return ErrInvalidTransition
	}
	rec, err := d.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status.IsTerminal() {
		return ErrInvalidTransition
	}
	rec.Status = status
	rec.StatusMessage = resultStatusMessage(result)
	rec.Result = &result
	rec.LastUpdatedAt = time.Now()
	return d.CreateTask(ctx, rec)
}

func (d *DynamoDBStorage) DeleteTask(ctx context.Context, id string) error {
	_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.table),
		Key:       map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: id}},
	})
	return err
}

func (d *DynamoDBStorage) scanAll(ctx context.Context) ([]Record, error) {
	var out []Record
	var lastKey map[string]types.AttributeValue
	for {
		res, err := d.client.Scan(ctx, &dynamodb.ScanInput{TableName: aws.String(d.table), ExclusiveStartKey: lastKey})
		if err != nil {
			return nil, err
		}
		for _, item := range res.Items {
			rec, err := itemToRecord(item)
			if err != nil {
				return nil, err
			}
			out = append(out, rec)
		}
		lastKey = res.LastEvaluatedKey
		if len(lastKey) == 0 {
			break
		}
	}
	return out, nil
}

func (d *DynamoDBStorage) ListTasks(ctx context.Context, cursor string, limit int) ([]Record, string, error) {
	recs, err := d.scanAll(ctx)
	if err != nil {
		return nil, "", err
	}
	return paginate(sortRecords(recs), cursor, limit)
}

func (d *DynamoDBStorage) ListTasksForSession(ctx context.Context, sessionID string, cursor string, limit int) ([]Record, string, error) {
	all, err := d.scanAll(ctx)
	if err != nil {
		return nil, "", err
	}
	var filtered []Record
	for _, rec := range all {
		if rec.SessionID == sessionID {
			filtered = append(filtered, rec)
		}
	}
	return paginate(sortRecords(filtered), cursor, limit)
}

func (d *DynamoDBStorage) ExpireTasks(ctx context.Context, now time.Time) ([]string, error) {
	recs, err := d.scanAll(ctx)
	if err != nil {
		return nil, err
	}
	var expired []string
	for _, rec := range recs {
		if rec.Status.IsTerminal() || rec.TTL <= 0 {
			continue
		}
		if rec.LastUpdatedAt.Add(rec.TTL).Before(now) {
			expired = append(expired, rec.ID)
		}
	}
	for _, id := range expired {
		if err := d.DeleteTask(ctx, id); err != nil {
			return nil, err
		}
	}
	return expired, nil
}

func (d *DynamoDBStorage) RecoverStuckTasks(ctx context.Context, cutoff time.Time) ([]Record, error) {
	recs, err := d.scanAll(ctx)
	if err != nil {
		return nil, err
	}
	var stuck []Record
	for _, rec := range recs {
		if !rec.Status.IsTerminal() && rec.LastUpdatedAt.Before(cutoff) {
			stuck = append(stuck, rec)
		}
	}
	return sortRecords(stuck), nil
}

func recordToItem(rec Record) (map[string]types.AttributeValue, error) {
	item := map[string]types.AttributeValue{
		"id":               &types.AttributeValueMemberS{Value: rec.ID},
		"session_id":       &types.AttributeValueMemberS{Value: rec.SessionID},
		"tool_name":        &types.AttributeValueMemberS{Value: rec.ToolName},
		"status":           &types.AttributeValueMemberS{Value: string(rec.Status)},
		"status_message":   &types.AttributeValueMemberS{Value: rec.StatusMessage},
		"created_at":       &types.AttributeValueMemberN{Value: strconv.FormatInt(rec.CreatedAt.Unix(), 10)},
		"last_updated_at":  &types.AttributeValueMemberN{Value: strconv.FormatInt(rec.LastUpdatedAt.Unix(), 10)},
		"ttl_ms":           &types.AttributeValueMemberN{Value: strconv.FormatInt(rec.TTL.Milliseconds(), 10)},
		"poll_interval_ms": &types.AttributeValueMemberN{Value: strconv.FormatInt(rec.PollInterval.Milliseconds(), 10)},
	}
	if rec.Result != nil {
		data, err := json.Marshal(rec.Result)
		if err != nil {
			return nil, err
		}
		item["result_json"] = &types.AttributeValueMemberS{Value: string(data)}
	}
	return item, nil
}

func itemToRecord(item map[string]types.AttributeValue) (Record, error) {
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
	rec.SessionID = get("session_id")
	rec.ToolName = get("tool_name")
	rec.Status = schema.TaskStatus(get("status"))
	rec.StatusMessage = get("status_message")
	rec.CreatedAt = unixToTime(getN("created_at"))
	rec.LastUpdatedAt = unixToTime(getN("last_updated_at"))
	rec.TTL = time.Duration(getN("ttl_ms")) * time.Millisecond
	rec.PollInterval = time.Duration(getN("poll_interval_ms")) * time.Millisecond
	if resultJSON := get("result_json"); resultJSON != "" {
		var result schema.TaskResult
		if err := json.Unmarshal([]byte(resultJSON), &result); err != nil {
			return Record{}, err
		}
		rec.Result = &result
	}
	return rec, nil
}
