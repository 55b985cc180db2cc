package dynamodb

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"thinknet-backend/internal/domain/mindmap"
	"thinknet-backend/internal/domain/user"
	"thinknet-backend/internal/errors"
)

// fakeTable keeps items in memory and understands the SET updates and
// existence conditions the store issues.
type fakeTable struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
}

func newFakeTable() *fakeTable {
	return &fakeTable{items: make(map[string]map[string]types.AttributeValue)}
}

func keyString(key map[string]types.AttributeValue) string {
	return key["PK"].(*types.AttributeValueMemberS).Value + "|" + key["SK"].(*types.AttributeValueMemberS).Value
}

func (f *fakeTable) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: f.items[keyString(in.Key)]}, nil
}

func (f *fakeTable) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := keyString(in.Item)
	if in.ConditionExpression != nil && strings.Contains(*in.ConditionExpression, "attribute_not_exists") {
		if _, ok := f.items[k]; ok {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("exists")}
		}
	}
	f.items[k] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeTable) UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := keyString(in.Key)
	item, ok := f.items[k]
	if !ok {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("missing")}
	}
	clauses := strings.Split(strings.TrimPrefix(*in.UpdateExpression, "SET "), ", ")
	for _, clause := range clauses {
		parts := strings.SplitN(clause, " = ", 2)
		item[in.ExpressionAttributeNames[parts[0]]] = in.ExpressionAttributeValues[parts[1]]
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

type mockAPI struct {
	mock.Mock
}

func (m *mockAPI) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.GetItemOutput)
	return out, args.Error(1)
}

func (m *mockAPI) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.PutItemOutput)
	return out, args.Error(1)
}

func (m *mockAPI) UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.UpdateItemOutput)
	return out, args.Error(1)
}

func testDoc(now time.Time) *mindmap.Document {
	doc := mindmap.NewDocument("m1", "Plans", "owner", now)
	doc.Collaborators = []mindmap.Collaborator{{UserID: "u2", Permission: mindmap.PermissionWrite}}
	return doc
}

func TestStore_CreateFetchReplace(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	store := NewStore(newFakeTable(), "thinknet-test", zap.NewNop())

	doc := testDoc(now)
	require.NoError(t, store.Create(ctx, doc))

	fetched, err := store.Fetch(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, doc.Owner, fetched.Owner)
	assert.Equal(t, doc.Collaborators, fetched.Collaborators)
	require.Len(t, fetched.Nodes, 1)

	live := fetched.Clone()
	later := now.Add(time.Minute)
	require.NoError(t, live.AddNode(mindmap.Node{ID: "n1", X: 1.5, Y: -2, Text: "Idea", Level: 1, Color: "green"}, &mindmap.Link{Source: "root", Target: "n1"}, "u2", later))
	require.NoError(t, live.AddLink(mindmap.Link{Source: "root", Target: "n1"}, "u2", later))
	_, err = live.AddComment("n1", mindmap.Comment{ID: "c1", Text: "ok", Author: "Bo", AuthorID: "u2"}, later)
	require.NoError(t, err)
	snap := live.Snapshot()

	require.NoError(t, store.Replace(ctx, "m1", snap))

	got, err := store.Fetch(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, snap.Nodes, got.Nodes)
	assert.Equal(t, snap.Links, got.Links)
	assert.Equal(t, snap.Comments, got.Comments)
	assert.Equal(t, "u2", got.LastModifiedBy)
	assert.Equal(t, "Plans", got.Title)
	assert.Equal(t, doc.Collaborators, got.Collaborators)
}

func TestStore_CreateDuplicate(t *testing.T) {
	ctx := context.Background()
	store := NewStore(newFakeTable(), "t", nil)
	require.NoError(t, store.Create(ctx, testDoc(time.Now())))

	err := store.Create(ctx, testDoc(time.Now()))
	assert.True(t, errors.IsType(err, errors.ErrorTypeConflict))
}

func TestStore_NotFound(t *testing.T) {
	ctx := context.Background()
	store := NewStore(newFakeTable(), "t", nil)

	_, err := store.Fetch(ctx, "missing")
	assert.True(t, errors.IsNotFound(err))

	err = store.Replace(ctx, "missing", mindmap.Snapshot{})
	assert.True(t, errors.IsNotFound(err))
}

func TestStore_ReplaceOnlyTouchesContent(t *testing.T) {
	api := new(mockAPI)
	store := NewStore(api, "thinknet-test", nil)

	api.On("UpdateItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.UpdateItemInput) bool {
		written := make([]string, 0, len(in.ExpressionAttributeNames))
		for _, name := range in.ExpressionAttributeNames {
			written = append(written, name)
		}
		return aws.ToString(in.TableName) == "thinknet-test" &&
			assert.ElementsMatch(t, []string{"nodes", "links", "comments", "isPublic", "updatedAt", "lastModifiedBy", "PK"}, written)
	})).Return(&dynamodb.UpdateItemOutput{}, nil)

	require.NoError(t, store.Replace(context.Background(), "m1", mindmap.Snapshot{}))
	api.AssertExpectations(t)
}

func TestStore_StorageFailureIsRetryable(t *testing.T) {
	api := new(mockAPI)
	store := NewStore(api, "t", nil)
	api.On("GetItem", mock.Anything, mock.Anything).Return(nil, stderrors.New("throttled"))

	_, err := store.Fetch(context.Background(), "m1")
	assert.True(t, errors.IsPersistence(err))
	assert.True(t, errors.IsRetryable(err))
}

func TestStore_Users(t *testing.T) {
	ctx := context.Background()
	store := NewStore(newFakeTable(), "t", nil)
	require.NoError(t, store.PutUser(ctx, user.User{ID: "u1", Username: "ann", Email: "ann@example.com"}))

	u, err := store.FetchUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "ann", u.Username)

	_, err = store.FetchUser(ctx, "u2")
	assert.True(t, errors.IsNotFound(err))
}
