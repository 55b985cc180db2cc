// Package dynamodb stores mind maps and user profiles in a single DynamoDB
// table.
//
// Key layout:
//
//	PK = MINDMAP#<id>  SK = METADATA   one item per mind map
//	PK = USER#<id>     SK = PROFILE    one item per user
//
// Nodes, links and comments are kept as list/map attributes on the mind map
// item so a snapshot is written with a single UpdateItem call.
package dynamodb

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"thinknet-backend/internal/domain/mindmap"
	"thinknet-backend/internal/domain/user"
	"thinknet-backend/internal/errors"
)

const (
	mindmapPrefix = "MINDMAP#"
	userPrefix    = "USER#"
	metadataSK    = "METADATA"
	profileSK     = "PROFILE"
	entityMindmap = "MINDMAP"
	entityUser    = "USER"
)

// API is the subset of the DynamoDB client used by the store.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// Store implements persistence.DocumentStore and persistence.UserDirectory.
type Store struct {
	client    API
	tableName string
	logger    *zap.Logger
}

// NewStore creates a store backed by tableName.
func NewStore(client API, tableName string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

// mindmapItem is the stored shape of a mind map.
type mindmapItem struct {
	PK         string `dynamodbav:"PK"`
	SK         string `dynamodbav:"SK"`
	EntityType string `dynamodbav:"EntityType"`
	mindmap.Document
}

type userItem struct {
	PK         string `dynamodbav:"PK"`
	SK         string `dynamodbav:"SK"`
	EntityType string `dynamodbav:"EntityType"`
	user.User
}

func mindmapKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: mindmapPrefix + id},
		"SK": &types.AttributeValueMemberS{Value: metadataSK},
	}
}

func userKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: userPrefix + id},
		"SK": &types.AttributeValueMemberS{Value: profileSK},
	}
}

// Create writes a new mind map. It fails if the id is already taken.
func (s *Store) Create(ctx context.Context, doc *mindmap.Document) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	item, err := attributevalue.MarshalMap(mindmapItem{
		PK:         mindmapPrefix + doc.ID,
		SK:         metadataSK,
		EntityType: entityMindmap,
		Document:   *doc,
	})
	if err != nil {
		return errors.Internal(errors.CodeInternal, "failed to marshal mindmap").WithCause(err).Build()
	}

	cond := expression.AttributeNotExists(expression.Name("PK"))
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return errors.Internal(errors.CodeInternal, "failed to build expression").WithCause(err).Build()
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(s.tableName),
		Item:                     item,
		ConditionExpression:      expr.Condition(),
		ExpressionAttributeNames: expr.Names(),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if stderrors.As(err, &ccf) {
			return errors.Conflict("MINDMAP_EXISTS", "mindmap already exists").WithDetails(doc.ID).Build()
		}
		return s.storageError("Create", doc.ID, err)
	}
	return nil
}

// Fetch reads a mind map with a strongly consistent read.
func (s *Store) Fetch(ctx context.Context, id string) (*mindmap.Document, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            mindmapKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, s.storageError("Fetch", id, err)
	}
	if out.Item == nil {
		return nil, errors.NotFound(errors.CodeMindmapNotFound, "mindmap not found").
			WithResource("mindmap").
			WithDetails(id).
			Build()
	}

	var item mindmapItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, errors.Internal(errors.CodeInternal, "failed to unmarshal mindmap").WithCause(err).Build()
	}
	doc := item.Document
	if doc.Comments == nil {
		doc.Comments = map[string][]mindmap.Comment{}
	}
	return &doc, nil
}

// Replace writes the snapshot fields of an existing mind map.
func (s *Store) Replace(ctx context.Context, id string, snap mindmap.Snapshot) error {
	if snap.Comments == nil {
		snap.Comments = map[string][]mindmap.Comment{}
	}
	update := expression.
		Set(expression.Name("nodes"), expression.Value(snap.Nodes)).
		Set(expression.Name("links"), expression.Value(snap.Links)).
		Set(expression.Name("comments"), expression.Value(snap.Comments)).
		Set(expression.Name("isPublic"), expression.Value(snap.IsPublic)).
		Set(expression.Name("updatedAt"), expression.Value(snap.UpdatedAt)).
		Set(expression.Name("lastModifiedBy"), expression.Value(snap.LastModifiedBy))
	cond := expression.AttributeExists(expression.Name("PK"))

	expr, err := expression.NewBuilder().WithUpdate(update).WithCondition(cond).Build()
	if err != nil {
		return errors.Internal(errors.CodeInternal, "failed to build expression").WithCause(err).Build()
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.tableName),
		Key:                       mindmapKey(id),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if stderrors.As(err, &ccf) {
			return errors.NotFound(errors.CodeMindmapNotFound, "mindmap not found").
				WithResource("mindmap").
				WithDetails(id).
				Build()
		}
		return s.storageError("Replace", id, err)
	}

	s.logger.Debug("Replaced mindmap content",
		zap.String("mindmapID", id),
		zap.Int("nodes", len(snap.Nodes)),
		zap.Int("links", len(snap.Links)),
	)
	return nil
}

// PutUser writes a user profile.
func (s *Store) PutUser(ctx context.Context, u user.User) error {
	item, err := attributevalue.MarshalMap(userItem{
		PK:         userPrefix + u.ID,
		SK:         profileSK,
		EntityType: entityUser,
		User:       u,
	})
	if err != nil {
		return errors.Internal(errors.CodeInternal, "failed to marshal user").WithCause(err).Build()
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	}); err != nil {
		return s.storageError("PutUser", u.ID, err)
	}
	return nil
}

// FetchUser reads a user profile.
func (s *Store) FetchUser(ctx context.Context, id string) (*user.User, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key:       userKey(id),
	})
	if err != nil {
		return nil, s.storageError("FetchUser", id, err)
	}
	if out.Item == nil {
		return nil, errors.NotFound(errors.CodeUserNotFound, "user not found").
			WithResource("user").
			WithDetails(id).
			Build()
	}

	var item userItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, errors.Internal(errors.CodeInternal, "failed to unmarshal user").WithCause(err).Build()
	}
	u := item.User
	return &u, nil
}

func (s *Store) storageError(operation, id string, err error) error {
	return errors.Persistence(errors.CodePersistenceFailed, fmt.Sprintf("dynamodb %s failed", operation)).
		WithOperation(operation).
		WithResource(id).
		WithCause(err).
		Build()
}
