package store

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerio-ai/cascade"
)

// mockDynamoDBClient implements DynamoDBClient for testing
type mockDynamoDBClient struct {
	putItemFunc func(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	getItemFunc func(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	queryFunc   func(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	scanFunc    func(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

func (m *mockDynamoDBClient) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if m.putItemFunc != nil {
		return m.putItemFunc(ctx, params, optFns...)
	}
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockDynamoDBClient) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if m.getItemFunc != nil {
		return m.getItemFunc(ctx, params, optFns...)
	}
	return &dynamodb.GetItemOutput{}, nil
}

func (m *mockDynamoDBClient) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	if m.queryFunc != nil {
		return m.queryFunc(ctx, params, optFns...)
	}
	return &dynamodb.QueryOutput{}, nil
}

func (m *mockDynamoDBClient) Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	if m.scanFunc != nil {
		return m.scanFunc(ctx, params, optFns...)
	}
	return &dynamodb.ScanOutput{}, nil
}

func TestNewDynamoDBStore(t *testing.T) {
	client := &mockDynamoDBClient{}
	s := NewDynamoDBStore(client, "coordination-table")
	require.NotNil(t, s)

	var _ cascade.CoordinationStore = s
}

func TestDynamoDBStore_CreateSession(t *testing.T) {
	var captured *dynamodb.PutItemInput
	client := &mockDynamoDBClient{
		putItemFunc: func(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
			captured = params
			return &dynamodb.PutItemOutput{}, nil
		},
	}
	s := NewDynamoDBStore(client, "coordination-table")

	require.NoError(t, s.CreateSession(context.Background(), testSession("exec-1")))
	require.NotNil(t, captured)
	assert.Equal(t, "coordination-table", *captured.TableName)
	assert.Equal(t, "attribute_not_exists(PK)", *captured.ConditionExpression)

	pk, ok := captured.Item[AttrPK].(*types.AttributeValueMemberS)
	require.True(t, ok)
	assert.Equal(t, "SESSION#exec-1", pk.Value)

	gsi1, ok := captured.Item[AttrGSI1PK].(*types.AttributeValueMemberS)
	require.True(t, ok)
	assert.Equal(t, "CASCADE#cascade-1", gsi1.Value)

	gsi2, ok := captured.Item[AttrGSI2PK].(*types.AttributeValueMemberS)
	require.True(t, ok)
	assert.Equal(t, "SESSION#LIVE", gsi2.Value)
}

func TestDynamoDBStore_CreateSession_Duplicate(t *testing.T) {
	client := &mockDynamoDBClient{
		putItemFunc: func(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
			return nil, &types.ConditionalCheckFailedException{}
		},
	}
	s := NewDynamoDBStore(client, "coordination-table")

	err := s.CreateSession(context.Background(), testSession("exec-1"))
	require.Error(t, err)
	assert.False(t, cascade.IsStoreUnavailable(err), "conditional failure is a validation error, not an outage")
}

func TestDynamoDBStore_GetSession_NotFound(t *testing.T) {
	client := &mockDynamoDBClient{
		getItemFunc: func(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
			return &dynamodb.GetItemOutput{Item: nil}, nil
		},
	}
	s := NewDynamoDBStore(client, "coordination-table")

	_, err := s.GetSession(context.Background(), "missing")
	assert.True(t, cascade.IsNotFound(err))
}

func TestDynamoDBStore_TransitionCheckpoint_ConditionalWrite(t *testing.T) {
	var captured *dynamodb.PutItemInput
	client := &mockDynamoDBClient{
		putItemFunc: func(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
			captured = params
			return &dynamodb.PutItemOutput{}, nil
		},
	}
	s := NewDynamoDBStore(client, "coordination-table")

	cp := testCheckpoint("cp-1")
	cp.Status = cascade.CheckpointStatusResponded
	require.NoError(t, s.TransitionCheckpoint(context.Background(), cp, cascade.CheckpointStatusPending))

	require.NotNil(t, captured)
	assert.Equal(t, "attribute_exists(PK) AND #st = :prior", *captured.ConditionExpression)
	assert.Equal(t, AttrStatus, captured.ExpressionAttributeNames["#st"])

	prior, ok := captured.ExpressionAttributeValues[":prior"].(*types.AttributeValueMemberS)
	require.True(t, ok)
	assert.Equal(t, "PENDING", prior.Value)
}

func TestDynamoDBStore_TransitionCheckpoint_LostRace(t *testing.T) {
	client := &mockDynamoDBClient{
		putItemFunc: func(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
			return nil, &types.ConditionalCheckFailedException{}
		},
	}
	s := NewDynamoDBStore(client, "coordination-table")

	cp := testCheckpoint("cp-1")
	cp.Status = cascade.CheckpointStatusTimeout
	err := s.TransitionCheckpoint(context.Background(), cp, cascade.CheckpointStatusPending)
	assert.True(t, cascade.IsStaleTransition(err))
}

func TestDynamoDBStore_TransitionSignal_LostRace(t *testing.T) {
	client := &mockDynamoDBClient{
		putItemFunc: func(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
			return nil, &types.ConditionalCheckFailedException{}
		},
	}
	s := NewDynamoDBStore(client, "coordination-table")

	sig := testSignal("sig-1")
	sig.Status = cascade.SignalStatusFired
	err := s.TransitionSignal(context.Background(), sig, cascade.SignalStatusWaiting)
	assert.True(t, cascade.IsStaleTransition(err))
}

func TestDynamoDBStore_TransitionSignal_StoreError(t *testing.T) {
	client := &mockDynamoDBClient{
		putItemFunc: func(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
			return nil, errors.New("throttled")
		},
	}
	s := NewDynamoDBStore(client, "coordination-table")

	sig := testSignal("sig-1")
	sig.Status = cascade.SignalStatusFired
	err := s.TransitionSignal(context.Background(), sig, cascade.SignalStatusWaiting)
	assert.True(t, cascade.IsStoreUnavailable(err))
}

func TestDynamoDBStore_ListSignals_QueriesNameIndex(t *testing.T) {
	var captured *dynamodb.QueryInput
	client := &mockDynamoDBClient{
		queryFunc: func(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
			captured = params
			return &dynamodb.QueryOutput{}, nil
		},
	}
	s := NewDynamoDBStore(client, "coordination-table")

	_, err := s.ListSignals(context.Background(), cascade.SignalFilter{Name: "data_ready"})
	require.NoError(t, err)
	require.NotNil(t, captured)
	assert.Equal(t, IndexPrimaryLookup, *captured.IndexName)

	val, ok := captured.ExpressionAttributeValues[":v"].(*types.AttributeValueMemberS)
	require.True(t, ok)
	assert.Equal(t, "SIG#NAME#data_ready", val.Value)
}

func TestDynamoDBStore_ListSessions_QueriesLivenessIndex(t *testing.T) {
	var captured *dynamodb.QueryInput
	client := &mockDynamoDBClient{
		queryFunc: func(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
			captured = params
			return &dynamodb.QueryOutput{}, nil
		},
	}
	s := NewDynamoDBStore(client, "coordination-table")

	_, err := s.ListSessions(context.Background(), cascade.SessionFilter{Terminal: cascade.ToPtr(false)})
	require.NoError(t, err)
	require.NotNil(t, captured)
	assert.Equal(t, IndexStatusLookup, *captured.IndexName)

	val, ok := captured.ExpressionAttributeValues[":v"].(*types.AttributeValueMemberS)
	require.True(t, ok)
	assert.Equal(t, "SESSION#LIVE", val.Value)
}

func TestDynamoDBStore_QueryPaginates(t *testing.T) {
	calls := 0
	client := &mockDynamoDBClient{
		queryFunc: func(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
			calls++
			if calls == 1 {
				return &dynamodb.QueryOutput{
					LastEvaluatedKey: map[string]types.AttributeValue{
						AttrPK: &types.AttributeValueMemberS{Value: "SIG#sig-1"},
					},
				}, nil
			}
			return &dynamodb.QueryOutput{}, nil
		},
	}
	s := NewDynamoDBStore(client, "coordination-table")

	_, err := s.ListSignals(context.Background(), cascade.SignalFilter{Name: "data_ready"})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDynamoDBStore_RoundTrip(t *testing.T) {
	// Marshal through the item builder and back through the getter
	var stored map[string]types.AttributeValue
	client := &mockDynamoDBClient{
		putItemFunc: func(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
			stored = params.Item
			return &dynamodb.PutItemOutput{}, nil
		},
		getItemFunc: func(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
			return &dynamodb.GetItemOutput{Item: stored}, nil
		},
	}
	s := NewDynamoDBStore(client, "coordination-table")
	ctx := context.Background()

	sig := testSignal("sig-1")
	sig.Callback = &cascade.CallbackAddress{Host: "10.0.0.5", Port: 8421, Token: "tok"}
	sig.Description = "waiting for upstream batch"
	require.NoError(t, s.CreateSignal(ctx, sig))

	got, err := s.GetSignal(ctx, "sig-1")
	require.NoError(t, err)
	assert.Equal(t, sig.Name, got.Name)
	assert.Equal(t, sig.Description, got.Description)
	require.NotNil(t, got.Callback)
	assert.Equal(t, "tok", got.Callback.Token)
	assert.Equal(t, 8421, got.Callback.Port)
}
