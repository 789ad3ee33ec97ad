// Package deliverylog keeps an append-only audit of follow-up delivery attempts in DynamoDB.
package deliverylog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/wolfman30/clinic-automation/internal/automation"
	"github.com/wolfman30/clinic-automation/pkg/logging"
)

const defaultTTL = 90 * 24 * time.Hour

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(context.Context, *dynamodb.QueryInput, ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Record is one persisted attempt. The table is keyed by executionId + attemptedAt.
type Record struct {
	ExecutionID string `dynamodbav:"executionId" json:"execution_id"`
	AttemptedAt string `dynamodbav:"attemptedAt" json:"attempted_at"`
	OrgID       string `dynamodbav:"orgId" json:"org_id"`
	RuleID      string `dynamodbav:"ruleId" json:"rule_id"`
	TargetID    string `dynamodbav:"targetId" json:"target_id"`
	Channel     string `dynamodbav:"channel,omitempty" json:"channel,omitempty"`
	Address     string `dynamodbav:"address,omitempty" json:"-"`
	Status      string `dynamodbav:"status" json:"status"`
	Reason      string `dynamodbav:"reason,omitempty" json:"reason,omitempty"`
	ExpiresAt   int64  `dynamodbav:"expiresAt,omitempty" json:"-"`
}

// Recorder writes delivery attempts to DynamoDB.
type Recorder struct {
	client    dynamoAPI
	tableName string
	ttl       time.Duration
	logger    *logging.Logger
}

// NewRecorder builds a recorder backed by the provided DynamoDB client.
func NewRecorder(client dynamoAPI, tableName string, ttl time.Duration, logger *logging.Logger) *Recorder {
	if client == nil {
		panic("deliverylog: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("deliverylog: table name cannot be empty")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Recorder{client: client, tableName: tableName, ttl: ttl, logger: logger}
}

var _ automation.DeliveryAuditor = (*Recorder)(nil)

// RecordAttempt stores one attempt. Records for the same execution and instant are not overwritten.
func (r *Recorder) RecordAttempt(ctx context.Context, attempt automation.DeliveryAttempt) error {
	at := attempt.AttemptedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	rec := Record{
		ExecutionID: attempt.ExecutionID.String(),
		AttemptedAt: at.UTC().Format(time.RFC3339Nano),
		OrgID:       attempt.OrgID,
		RuleID:      attempt.RuleID.String(),
		TargetID:    attempt.TargetID,
		Channel:     string(attempt.Channel),
		Address:     attempt.Address,
		Status:      string(attempt.Status),
		Reason:      attempt.Reason,
		ExpiresAt:   at.Add(r.ttl).Unix(),
	}
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("deliverylog: failed to marshal record: %w", err)
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(executionId) AND attribute_not_exists(attemptedAt)"),
	})
	if err != nil {
		var conditional *types.ConditionalCheckFailedException
		if errors.As(err, &conditional) {
			r.logger.Debug("deliverylog: duplicate attempt ignored", "execution_id", rec.ExecutionID)
			return nil
		}
		return fmt.Errorf("deliverylog: failed to persist record: %w", err)
	}
	return nil
}

// ListForExecution returns the attempts recorded for one execution, oldest first.
func (r *Recorder) ListForExecution(ctx context.Context, orgID, executionID string) ([]Record, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		KeyConditionExpression: aws.String("executionId = :id"),
		FilterExpression:       aws.String("orgId = :org"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":id":  &types.AttributeValueMemberS{Value: executionID},
			":org": &types.AttributeValueMemberS{Value: orgID},
		},
		ScanIndexForward: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("deliverylog: query: %w", err)
	}
	var records []Record
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &records); err != nil {
		return nil, fmt.Errorf("deliverylog: unmarshal records: %w", err)
	}
	return records, nil
}
