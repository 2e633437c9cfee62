package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"golang.org/x/time/rate"
)

// DynamoDBStore is an implementation of Store keeping each blob in an item of
// a DynamoDB table whose partition key is the string attribute "k". Items are
// limited to 400 KB, larger puts fail.
type DynamoDBStore struct {
	table string
	opts  options

	// Do throttling on our side based on configured RCUs/WCUs so the
	// client doesn't have to retry.
	getLimiter *rate.Limiter
	putLimiter *rate.Limiter

	ddb *dynamodb.DynamoDB
}

func NewDynamoDBStore(profile, region, table string, opts ...Option) (*DynamoDBStore, error) {
	s := &DynamoDBStore{
		table: table,
	}
	for _, o := range opts {
		o(&s.opts)
	}
	sess, err := newAWSSession(profile, region, s.opts)
	if err != nil {
		return nil, err
	}
	s.ddb = dynamodb.New(sess)
	if err := s.configureLimiters(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *DynamoDBStore) configureLimiters() error {
	result, err := s.ddb.DescribeTable(&dynamodb.DescribeTableInput{
		TableName: &s.table,
	})
	if err != nil {
		return fmt.Errorf("could not describe table %q: %w", s.table, err)
	}
	var rcus, wcus int64
	if pt := result.Table.ProvisionedThroughput; pt != nil {
		rcus = aws.Int64Value(pt.ReadCapacityUnits)
		wcus = aws.Int64Value(pt.WriteCapacityUnits)
	}
	s.getLimiter = newCapacityLimiter(rcus)
	s.putLimiter = newCapacityLimiter(wcus)
	return nil
}

// Assume a capacity unit is one request per second. On-demand tables report
// zero units and are not throttled.
func newCapacityLimiter(units int64) *rate.Limiter {
	if units <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(time.Second/time.Duration(units)), 1)
}

func (s *DynamoDBStore) Put(ctx context.Context, key string, value []byte) error {
	ctx, cancel := s.opts.bound(ctx)
	defer cancel()
	if err := s.putLimiter.Wait(ctx); err != nil {
		return err
	}
	_, err := s.ddb.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: &s.table,
		Item: map[string]*dynamodb.AttributeValue{
			"k":  ddbString(s.opts.prefix + key),
			"va": {B: dup(value)},
		},
	})
	return err
}

func (s *DynamoDBStore) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := s.opts.bound(ctx)
	defer cancel()
	if err := s.getLimiter.Wait(ctx); err != nil {
		return nil, err
	}
	output, err := s.ddb.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName:      &s.table,
		ConsistentRead: aws.Bool(true),
		Key: map[string]*dynamodb.AttributeValue{
			"k": ddbString(s.opts.prefix + key),
		},
	})
	if err != nil {
		return nil, err
	}
	if output.Item == nil {
		return nil, fmt.Errorf("%.40q: %w", key, ErrNotFound)
	}
	va := output.Item["va"]
	if va == nil || va.B == nil {
		return []byte{}, nil
	}
	return va.B, nil
}

func (s *DynamoDBStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := s.opts.bound(ctx)
	defer cancel()
	if err := s.putLimiter.Wait(ctx); err != nil {
		return err
	}
	_, err := s.ddb.DeleteItemWithContext(ctx, &dynamodb.DeleteItemInput{
		TableName: &s.table,
		Key: map[string]*dynamodb.AttributeValue{
			"k": ddbString(s.opts.prefix + key),
		},
	})
	return err
}

func ddbString(s string) *dynamodb.AttributeValue {
	return &dynamodb.AttributeValue{
		S: aws.String(s),
	}
}
