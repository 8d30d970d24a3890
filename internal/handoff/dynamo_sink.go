package handoff

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

const metricTTL = 30 * 24 * time.Hour

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

type dynamoMetric struct {
	HandoffMetric
	SortKey   string `dynamodbav:"sk"`
	ExpiresAt int64  `dynamodbav:"expiresAt"`
}

// DynamoSink writes decisions to a DynamoDB table keyed by conversationId
// and a timestamp sort key. Items expire after 30 days.
type DynamoSink struct {
	client    dynamoAPI
	tableName string
}

var _ MetricSink = (*DynamoSink)(nil)

func NewDynamoSink(client dynamoAPI, tableName string) *DynamoSink {
	if client == nil {
		panic("handoff: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("handoff: table name cannot be empty")
	}
	return &DynamoSink{client: client, tableName: tableName}
}

func (s *DynamoSink) PutMetric(ctx context.Context, m HandoffMetric) error {
	item, err := attributevalue.MarshalMap(dynamoMetric{
		HandoffMetric: m,
		SortKey:       m.Timestamp.UTC().Format(time.RFC3339Nano),
		ExpiresAt:     m.Timestamp.Add(metricTTL).Unix(),
	})
	if err != nil {
		return fmt.Errorf("handoff: marshal metric: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("handoff: put metric: %w", err)
	}
	return nil
}
