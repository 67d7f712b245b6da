package store

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/nerio-ai/cascade"
)

// DynamoDBStore implements cascade.CoordinationStore using AWS DynamoDB.
// Terminal transitions are conditional writes on the row's prior status,
// so the table is the final arbiter of every first-transition-wins race.
type DynamoDBStore struct {
	client    DynamoDBClient
	tableName string
}

// NewDynamoDBStore creates a new DynamoDB-backed coordination store
func NewDynamoDBStore(client DynamoDBClient, tableName string) cascade.CoordinationStore {
	return &DynamoDBStore{
		client:    client,
		tableName: tableName,
	}
}

// Execution session operations

func (s *DynamoDBStore) CreateSession(ctx context.Context, session *cascade.ExecutionState) error {
	item, err := s.sessionItem(session)
	if err != nil {
		return err
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		if isConditionalFailure(err) {
			return cascade.NewValidation("session " + session.ExecutionID + " already exists")
		}
		return cascade.NewStoreUnavailable("CreateSession", err)
	}
	return nil
}

func (s *DynamoDBStore) GetSession(ctx context.Context, executionID string) (*cascade.ExecutionState, error) {
	item, err := s.getItem(ctx, sessionPK(executionID))
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, cascade.NewNotFound("session", executionID)
	}

	var session cascade.ExecutionState
	if err := attributevalue.UnmarshalMap(item, &session); err != nil {
		return nil, cascade.NewStoreUnavailable("GetSession", err)
	}
	return &session, nil
}

func (s *DynamoDBStore) UpdateSession(ctx context.Context, session *cascade.ExecutionState) error {
	item, err := s.sessionItem(session)
	if err != nil {
		return err
	}

	// Session updates are last-writer-wins by contract: double-marking a
	// zombie ORPHANED is harmless because ORPHANED is terminal.
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_exists(PK)"),
	})
	if err != nil {
		if isConditionalFailure(err) {
			return cascade.NewNotFound("session", session.ExecutionID)
		}
		return cascade.NewStoreUnavailable("UpdateSession", err)
	}
	return nil
}

func (s *DynamoDBStore) ListSessions(ctx context.Context, filter cascade.SessionFilter) ([]*cascade.ExecutionState, error) {
	var items []map[string]types.AttributeValue
	var err error

	switch {
	case filter.CascadeID != "":
		items, err = s.queryGSI(ctx, IndexPrimaryLookup, AttrGSI1PK, sessionGSI1PK(filter.CascadeID))
	case filter.Terminal != nil:
		items, err = s.queryGSI(ctx, IndexStatusLookup, AttrGSI2PK, sessionGSI2PK(*filter.Terminal))
	default:
		items, err = s.scanEntity(ctx, EntityTypeSession)
	}
	if err != nil {
		return nil, err
	}

	var result []*cascade.ExecutionState
	for _, item := range items {
		var session cascade.ExecutionState
		if err := attributevalue.UnmarshalMap(item, &session); err != nil {
			return nil, cascade.NewStoreUnavailable("ListSessions", err)
		}
		if filter.Status != nil && session.Status != *filter.Status {
			continue
		}
		if filter.Terminal != nil && session.Status.IsTerminal() != *filter.Terminal {
			continue
		}
		result = append(result, &session)
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}

// Checkpoint operations

func (s *DynamoDBStore) CreateCheckpoint(ctx context.Context, checkpoint *cascade.Checkpoint) error {
	item, err := s.checkpointItem(checkpoint)
	if err != nil {
		return err
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		if isConditionalFailure(err) {
			return cascade.NewValidation("checkpoint " + checkpoint.ID + " already exists")
		}
		return cascade.NewStoreUnavailable("CreateCheckpoint", err)
	}
	return nil
}

func (s *DynamoDBStore) GetCheckpoint(ctx context.Context, id string) (*cascade.Checkpoint, error) {
	item, err := s.getItem(ctx, checkpointPK(id))
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, cascade.NewNotFound("checkpoint", id)
	}

	var checkpoint cascade.Checkpoint
	if err := attributevalue.UnmarshalMap(item, &checkpoint); err != nil {
		return nil, cascade.NewStoreUnavailable("GetCheckpoint", err)
	}
	return &checkpoint, nil
}

func (s *DynamoDBStore) UpdateCheckpoint(ctx context.Context, checkpoint *cascade.Checkpoint) error {
	item, err := s.checkpointItem(checkpoint)
	if err != nil {
		return err
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_exists(PK)"),
	})
	if err != nil {
		if isConditionalFailure(err) {
			return cascade.NewNotFound("checkpoint", checkpoint.ID)
		}
		return cascade.NewStoreUnavailable("UpdateCheckpoint", err)
	}
	return nil
}

func (s *DynamoDBStore) TransitionCheckpoint(ctx context.Context, checkpoint *cascade.Checkpoint, from cascade.CheckpointStatus) error {
	item, err := s.checkpointItem(checkpoint)
	if err != nil {
		return err
	}

	// Conditional write: the transition only lands if the row is still in
	// the prior status, making the table the race arbiter.
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_exists(PK) AND #st = :prior"),
		ExpressionAttributeNames: map[string]string{
			"#st": AttrStatus,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":prior": &types.AttributeValueMemberS{Value: from.String()},
		},
	})
	if err != nil {
		if isConditionalFailure(err) {
			return cascade.NewStaleTransition("checkpoint", checkpoint.ID)
		}
		return cascade.NewStoreUnavailable("TransitionCheckpoint", err)
	}
	return nil
}

func (s *DynamoDBStore) ListCheckpoints(ctx context.Context, filter cascade.CheckpointFilter) ([]*cascade.Checkpoint, error) {
	var items []map[string]types.AttributeValue
	var err error

	switch {
	case filter.ExecutionID != "":
		items, err = s.queryGSI(ctx, IndexPrimaryLookup, AttrGSI1PK, checkpointGSI1PK(filter.ExecutionID))
	case filter.Status != nil:
		items, err = s.queryGSI(ctx, IndexStatusLookup, AttrGSI2PK, checkpointGSI2PK(filter.Status.String()))
	default:
		items, err = s.scanEntity(ctx, EntityTypeCheckpoint)
	}
	if err != nil {
		return nil, err
	}

	var result []*cascade.Checkpoint
	for _, item := range items {
		var checkpoint cascade.Checkpoint
		if err := attributevalue.UnmarshalMap(item, &checkpoint); err != nil {
			return nil, cascade.NewStoreUnavailable("ListCheckpoints", err)
		}
		if filter.Status != nil && checkpoint.Status != *filter.Status {
			continue
		}
		result = append(result, &checkpoint)
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}

// Signal operations

func (s *DynamoDBStore) CreateSignal(ctx context.Context, signal *cascade.Signal) error {
	item, err := s.signalItem(signal)
	if err != nil {
		return err
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		if isConditionalFailure(err) {
			return cascade.NewValidation("signal " + signal.ID + " already exists")
		}
		return cascade.NewStoreUnavailable("CreateSignal", err)
	}
	return nil
}

func (s *DynamoDBStore) GetSignal(ctx context.Context, id string) (*cascade.Signal, error) {
	item, err := s.getItem(ctx, signalPK(id))
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, cascade.NewNotFound("signal", id)
	}

	var signal cascade.Signal
	if err := attributevalue.UnmarshalMap(item, &signal); err != nil {
		return nil, cascade.NewStoreUnavailable("GetSignal", err)
	}
	return &signal, nil
}

func (s *DynamoDBStore) UpdateSignal(ctx context.Context, signal *cascade.Signal) error {
	item, err := s.signalItem(signal)
	if err != nil {
		return err
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_exists(PK)"),
	})
	if err != nil {
		if isConditionalFailure(err) {
			return cascade.NewNotFound("signal", signal.ID)
		}
		return cascade.NewStoreUnavailable("UpdateSignal", err)
	}
	return nil
}

func (s *DynamoDBStore) TransitionSignal(ctx context.Context, signal *cascade.Signal, from cascade.SignalStatus) error {
	item, err := s.signalItem(signal)
	if err != nil {
		return err
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_exists(PK) AND #st = :prior"),
		ExpressionAttributeNames: map[string]string{
			"#st": AttrStatus,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":prior": &types.AttributeValueMemberS{Value: from.String()},
		},
	})
	if err != nil {
		if isConditionalFailure(err) {
			return cascade.NewStaleTransition("signal", signal.ID)
		}
		return cascade.NewStoreUnavailable("TransitionSignal", err)
	}
	return nil
}

func (s *DynamoDBStore) ListSignals(ctx context.Context, filter cascade.SignalFilter) ([]*cascade.Signal, error) {
	var items []map[string]types.AttributeValue
	var err error

	switch {
	case filter.Name != "":
		items, err = s.queryGSI(ctx, IndexPrimaryLookup, AttrGSI1PK, signalGSI1PK(filter.Name))
	case filter.Status != nil:
		items, err = s.queryGSI(ctx, IndexStatusLookup, AttrGSI2PK, signalGSI2PK(filter.Status.String()))
	default:
		items, err = s.scanEntity(ctx, EntityTypeSignal)
	}
	if err != nil {
		return nil, err
	}

	var result []*cascade.Signal
	for _, item := range items {
		var signal cascade.Signal
		if err := attributevalue.UnmarshalMap(item, &signal); err != nil {
			return nil, cascade.NewStoreUnavailable("ListSignals", err)
		}
		if filter.ExecutionID != "" && signal.ExecutionID != filter.ExecutionID {
			continue
		}
		if filter.Status != nil && signal.Status != *filter.Status {
			continue
		}
		result = append(result, &signal)
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}

// Item builders

func (s *DynamoDBStore) sessionItem(session *cascade.ExecutionState) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(session)
	if err != nil {
		return nil, cascade.NewStoreUnavailable("MarshalSession", err)
	}

	item[AttrPK] = &types.AttributeValueMemberS{Value: sessionPK(session.ExecutionID)}
	item[AttrSK] = &types.AttributeValueMemberS{Value: metaSK()}
	item[AttrEntityType] = &types.AttributeValueMemberS{Value: EntityTypeSession}
	item[AttrGSI1PK] = &types.AttributeValueMemberS{Value: sessionGSI1PK(session.CascadeID)}
	item[AttrGSI1SK] = &types.AttributeValueMemberS{Value: session.StartedAt.Format(time.RFC3339Nano)}
	item[AttrGSI2PK] = &types.AttributeValueMemberS{Value: sessionGSI2PK(session.Status.IsTerminal())}
	item[AttrGSI2SK] = &types.AttributeValueMemberS{Value: session.StartedAt.Format(time.RFC3339Nano)}
	return item, nil
}

func (s *DynamoDBStore) checkpointItem(checkpoint *cascade.Checkpoint) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(checkpoint)
	if err != nil {
		return nil, cascade.NewStoreUnavailable("MarshalCheckpoint", err)
	}

	item[AttrPK] = &types.AttributeValueMemberS{Value: checkpointPK(checkpoint.ID)}
	item[AttrSK] = &types.AttributeValueMemberS{Value: metaSK()}
	item[AttrEntityType] = &types.AttributeValueMemberS{Value: EntityTypeCheckpoint}
	item[AttrGSI1PK] = &types.AttributeValueMemberS{Value: checkpointGSI1PK(checkpoint.ExecutionID)}
	item[AttrGSI1SK] = &types.AttributeValueMemberS{Value: checkpoint.CreatedAt.Format(time.RFC3339Nano)}
	item[AttrGSI2PK] = &types.AttributeValueMemberS{Value: checkpointGSI2PK(checkpoint.Status.String())}
	item[AttrGSI2SK] = &types.AttributeValueMemberS{Value: checkpoint.CreatedAt.Format(time.RFC3339Nano)}
	return item, nil
}

func (s *DynamoDBStore) signalItem(signal *cascade.Signal) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(signal)
	if err != nil {
		return nil, cascade.NewStoreUnavailable("MarshalSignal", err)
	}

	item[AttrPK] = &types.AttributeValueMemberS{Value: signalPK(signal.ID)}
	item[AttrSK] = &types.AttributeValueMemberS{Value: metaSK()}
	item[AttrEntityType] = &types.AttributeValueMemberS{Value: EntityTypeSignal}
	item[AttrGSI1PK] = &types.AttributeValueMemberS{Value: signalGSI1PK(signal.Name)}
	item[AttrGSI1SK] = &types.AttributeValueMemberS{Value: signal.CreatedAt.Format(time.RFC3339Nano)}
	item[AttrGSI2PK] = &types.AttributeValueMemberS{Value: signalGSI2PK(signal.Status.String())}
	item[AttrGSI2SK] = &types.AttributeValueMemberS{Value: signal.CreatedAt.Format(time.RFC3339Nano)}
	return item, nil
}

// Low-level access

func (s *DynamoDBStore) getItem(ctx context.Context, pk string) (map[string]types.AttributeValue, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			AttrPK: &types.AttributeValueMemberS{Value: pk},
			AttrSK: &types.AttributeValueMemberS{Value: metaSK()},
		},
	})
	if err != nil {
		return nil, cascade.NewStoreUnavailable("GetItem", err)
	}
	return result.Item, nil
}

func (s *DynamoDBStore) queryGSI(ctx context.Context, index, keyAttr, keyValue string) ([]map[string]types.AttributeValue, error) {
	var items []map[string]types.AttributeValue
	var lastKey map[string]types.AttributeValue

	for {
		result, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.tableName),
			IndexName:              aws.String(index),
			KeyConditionExpression: aws.String("#k = :v"),
			ExpressionAttributeNames: map[string]string{
				"#k": keyAttr,
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":v": &types.AttributeValueMemberS{Value: keyValue},
			},
			ExclusiveStartKey: lastKey,
		})
		if err != nil {
			return nil, cascade.NewStoreUnavailable("Query", err)
		}
		items = append(items, result.Items...)
		if result.LastEvaluatedKey == nil {
			break
		}
		lastKey = result.LastEvaluatedKey
	}
	return items, nil
}

func (s *DynamoDBStore) scanEntity(ctx context.Context, entityType string) ([]map[string]types.AttributeValue, error) {
	var items []map[string]types.AttributeValue
	var lastKey map[string]types.AttributeValue

	for {
		result, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:        aws.String(s.tableName),
			FilterExpression: aws.String("#et = :et"),
			ExpressionAttributeNames: map[string]string{
				"#et": AttrEntityType,
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":et": &types.AttributeValueMemberS{Value: entityType},
			},
			ExclusiveStartKey: lastKey,
		})
		if err != nil {
			return nil, cascade.NewStoreUnavailable("Scan", err)
		}
		items = append(items, result.Items...)
		if result.LastEvaluatedKey == nil {
			break
		}
		lastKey = result.LastEvaluatedKey
	}
	return items, nil
}

func isConditionalFailure(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}
