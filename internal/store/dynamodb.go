package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/radiomirchi/radio-mirchi/internal/config"
	"github.com/radiomirchi/radio-mirchi/internal/mission"
)

const (
	pkPrefixMission = "MISSION#"
	skMeta          = "META"
)

// dynamodbAPI is the subset of the DynamoDB client the store uses.
// *dynamodb.Client satisfies it.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// DynamoStore keeps missions in a single DynamoDB table keyed by
// PK=MISSION#<id>, SK=META. User listings go through a GSI on user_id with
// created_at as its sort key.
type DynamoStore struct {
	api       dynamodbAPI
	table     string
	userIndex string
}

// OpenDynamoDB builds a client from the default AWS credential chain
func OpenDynamoDB(ctx context.Context, cfg config.StoreConfig) (*DynamoStore, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewDynamoStore(client, cfg.Table, cfg.UserIndex)
}

// NewDynamoStore wraps an existing client
func NewDynamoStore(api dynamodbAPI, table, userIndex string) (*DynamoStore, error) {
	if api == nil {
		return nil, errors.New("store: dynamodb api must not be nil")
	}
	if strings.TrimSpace(table) == "" {
		return nil, errors.New("store: table name must not be empty")
	}
	return &DynamoStore{api: api, table: table, userIndex: userIndex}, nil
}

func missionPK(id string) string {
	return pkPrefixMission + id
}

func missionKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: missionPK(id)},
		"SK": &types.AttributeValueMemberS{Value: skMeta},
	}
}

// Create writes a new mission, failing if the id is taken
func (d *DynamoStore) Create(ctx context.Context, m *mission.Mission) error {
	return d.put(ctx, m, "attribute_not_exists(PK)", ErrExists)
}

// Update replaces an existing mission
func (d *DynamoStore) Update(ctx context.Context, m *mission.Mission) error {
	return d.put(ctx, m, "attribute_exists(PK)", ErrNotFound)
}

func (d *DynamoStore) put(ctx context.Context, m *mission.Mission, condition string, condErr error) error {
	if err := validateMission(m); err != nil {
		return err
	}
	item, err := missionItem(m)
	if err != nil {
		return err
	}

	_, err = d.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.table),
		Item:                item,
		ConditionExpression: aws.String(condition),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("%w: %s", condErr, m.ID)
		}
		return fmt.Errorf("store: put mission: %w", err)
	}
	return nil
}

// Get loads one mission with a consistent read
func (d *DynamoStore) Get(ctx context.Context, id string) (*mission.Mission, error) {
	out, err := d.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.table),
		Key:            missionKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("store: get mission: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return itemToMission(out.Item)
}

// List queries the user index, or scans the table when userID is empty
func (d *DynamoStore) List(ctx context.Context, userID string, limit int) ([]*mission.Mission, error) {
	limit = normalizeLimit(limit)
	if userID != "" && d.userIndex != "" {
		return d.queryUser(ctx, userID, limit)
	}
	return d.scan(ctx, userID, limit)
}

func (d *DynamoStore) queryUser(ctx context.Context, userID string, limit int) ([]*mission.Mission, error) {
	var (
		out      []*mission.Mission
		startKey map[string]types.AttributeValue
	)
	for len(out) < limit {
		resp, err := d.api.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(d.table),
			IndexName:              aws.String(d.userIndex),
			KeyConditionExpression: aws.String("user_id = :uid"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":uid": &types.AttributeValueMemberS{Value: userID},
			},
			ScanIndexForward:  aws.Bool(false),
			Limit:             aws.Int32(int32(limit - len(out))),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("store: query missions: %w", err)
		}
		for _, item := range resp.Items {
			m, err := itemToMission(item)
			if err != nil {
				return nil, err
			}
			out = append(out, m)
		}
		if len(resp.LastEvaluatedKey) == 0 {
			break
		}
		startKey = resp.LastEvaluatedKey
	}
	return out, nil
}

// scan reads the whole table, so ordering and the limit are applied locally
func (d *DynamoStore) scan(ctx context.Context, userID string, limit int) ([]*mission.Mission, error) {
	filter := "SK = :meta"
	values := map[string]types.AttributeValue{
		":meta": &types.AttributeValueMemberS{Value: skMeta},
	}
	if userID != "" {
		filter += " AND user_id = :uid"
		values[":uid"] = &types.AttributeValueMemberS{Value: userID}
	}

	var (
		out      []*mission.Mission
		startKey map[string]types.AttributeValue
	)
	for {
		resp, err := d.api.Scan(ctx, &dynamodb.ScanInput{
			TableName:                 aws.String(d.table),
			FilterExpression:          aws.String(filter),
			ExpressionAttributeValues: values,
			ExclusiveStartKey:         startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("store: scan missions: %w", err)
		}
		for _, item := range resp.Items {
			m, err := itemToMission(item)
			if err != nil {
				return nil, err
			}
			out = append(out, m)
		}
		if len(resp.LastEvaluatedKey) == 0 {
			break
		}
		startKey = resp.LastEvaluatedKey
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close is a no-op; the SDK client holds no resources
func (d *DynamoStore) Close() error {
	return nil
}

func missionItem(m *mission.Mission) (map[string]types.AttributeValue, error) {
	item := map[string]types.AttributeValue{
		"PK":                 &types.AttributeValueMemberS{Value: missionPK(m.ID)},
		"SK":                 &types.AttributeValueMemberS{Value: skMeta},
		"id":                 &types.AttributeValueMemberS{Value: m.ID},
		"topic":              &types.AttributeValueMemberS{Value: m.Topic},
		"status":             &types.AttributeValueMemberS{Value: string(m.Status)},
		"awakened_listeners": &types.AttributeValueMemberN{Value: strconv.Itoa(m.AwakenedListeners)},
		"created_at":         &types.AttributeValueMemberS{Value: formatTime(m.CreatedAt)},
		"updated_at":         &types.AttributeValueMemberS{Value: formatTime(m.UpdatedAt)},
	}
	// GSI key attributes cannot be empty strings
	if m.UserID != "" {
		item["user_id"] = &types.AttributeValueMemberS{Value: m.UserID}
	}
	if m.DialoguePrompt != "" {
		item["dialogue_prompt"] = &types.AttributeValueMemberS{Value: m.DialoguePrompt}
	}
	if m.Error != "" {
		item["error"] = &types.AttributeValueMemberS{Value: m.Error}
	}
	if m.GenerationResult != nil {
		data, err := json.Marshal(m.GenerationResult)
		if err != nil {
			return nil, fmt.Errorf("store: encode generation result: %w", err)
		}
		item["generation_result"] = &types.AttributeValueMemberS{Value: string(data)}
	}
	return item, nil
}

func itemToMission(item map[string]types.AttributeValue) (*mission.Mission, error) {
	id, err := strAttr(item, "id")
	if err != nil {
		return nil, err
	}
	topic, err := strAttr(item, "topic")
	if err != nil {
		return nil, err
	}
	status, err := strAttr(item, "status")
	if err != nil {
		return nil, err
	}
	created, err := strAttr(item, "created_at")
	if err != nil {
		return nil, err
	}

	m := &mission.Mission{ID: id, Topic: topic, Status: mission.Status(status)}
	m.UserID, _ = strAttr(item, "user_id")
	m.DialoguePrompt, _ = strAttr(item, "dialogue_prompt")
	m.Error, _ = strAttr(item, "error")

	if m.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	m.UpdatedAt = m.CreatedAt
	if updated, err := strAttr(item, "updated_at"); err == nil {
		if m.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, err
		}
	}

	if awakened, err := intAttr(item, "awakened_listeners"); err == nil {
		m.AwakenedListeners = awakened
	}

	if raw, err := strAttr(item, "generation_result"); err == nil && raw != "" {
		var g mission.GenerationResult
		if err := json.Unmarshal([]byte(raw), &g); err != nil {
			return nil, fmt.Errorf("store: decode generation result: %w", err)
		}
		m.GenerationResult = &g
	}
	return m, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("store: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("store: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("store: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("store: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("store: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
