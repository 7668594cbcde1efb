package kv

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoAPI - подмножество клиента DynamoDB, которое использует хранилище.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// dynamoItem - запись таблицы. Атрибут expires_at настраивается как TTL таблицы,
// но DynamoDB удаляет истёкшие записи с задержкой, поэтому срок проверяется и при чтении.
type dynamoItem struct {
	Key       string `dynamodbav:"key"`
	Value     []byte `dynamodbav:"value,omitempty"`
	Count     int64  `dynamodbav:"count,omitempty"`
	ExpiresAt int64  `dynamodbav:"expires_at,omitempty"`
}

func (i dynamoItem) expiresAt() time.Time {
	if i.ExpiresAt == 0 {
		return time.Time{}
	}
	return time.Unix(i.ExpiresAt, 0)
}

const dynamoIncrAttempts = 3

// Dynamo хранит данные в таблице DynamoDB и разделяется между всеми экземплярами сервиса.
type Dynamo struct {
	client DynamoAPI
	table  string
	now    Clock
}

// NewDynamo создаёт хранилище поверх таблицы с ключом раздела "key".
func NewDynamo(client DynamoAPI, table string, clock Clock) *Dynamo {
	if clock == nil {
		clock = time.Now
	}
	return &Dynamo{client: client, table: table, now: clock}
}

func (d *Dynamo) keyAttr(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"key": &types.AttributeValueMemberS{Value: key},
	}
}

// Get возвращает значение ключа.
func (d *Dynamo) Get(ctx context.Context, key string) ([]byte, bool, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.table),
		Key:            d.keyAttr(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, false, fmt.Errorf("get item %q: %w", key, err)
	}
	if out.Item == nil {
		return nil, false, nil
	}

	var item dynamoItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, false, fmt.Errorf("unmarshal item %q: %w", key, err)
	}
	if expired(item.expiresAt(), d.now()) {
		return nil, false, nil
	}
	return item.Value, true, nil
}

// Set сохраняет значение ключа.
func (d *Dynamo) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	item := dynamoItem{Key: key, Value: value}
	if exp := expiry(d.now(), ttl); !exp.IsZero() {
		item.ExpiresAt = ceilUnix(exp)
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshal item %q: %w", key, err)
	}

	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.table),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("put item %q: %w", key, err)
	}
	return nil
}

// Delete удаляет ключ.
func (d *Dynamo) Delete(ctx context.Context, key string) error {
	_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.table),
		Key:       d.keyAttr(key),
	})
	if err != nil {
		return fmt.Errorf("delete item %q: %w", key, err)
	}
	return nil
}

// Incr увеличивает счётчик. Живой счётчик увеличивается через ADD, истёкший
// перезаписывается условным PutItem; при гонке двух сбросов попытка повторяется.
func (d *Dynamo) Incr(ctx context.Context, key string, ttl time.Duration) (Counter, error) {
	if ttl <= 0 {
		return Counter{}, ErrInvalidTTL
	}

	for attempt := 0; attempt < dynamoIncrAttempts; attempt++ {
		now := d.now()
		nowUnix := strconv.FormatInt(now.Unix(), 10)
		exp := ceilUnix(expiry(now, ttl))

		out, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:           aws.String(d.table),
			Key:                 d.keyAttr(key),
			UpdateExpression:    aws.String("ADD #c :one SET #e = if_not_exists(#e, :exp)"),
			ConditionExpression: aws.String("attribute_not_exists(#k) OR attribute_not_exists(#e) OR #e > :now"),
			ExpressionAttributeNames: map[string]string{
				"#k": "key",
				"#c": "count",
				"#e": "expires_at",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":one": &types.AttributeValueMemberN{Value: "1"},
				":exp": &types.AttributeValueMemberN{Value: strconv.FormatInt(exp, 10)},
				":now": &types.AttributeValueMemberN{Value: nowUnix},
			},
			ReturnValues: types.ReturnValueAllNew,
		})
		if err == nil {
			var item dynamoItem
			if err := attributevalue.UnmarshalMap(out.Attributes, &item); err != nil {
				return Counter{}, fmt.Errorf("unmarshal counter %q: %w", key, err)
			}
			return Counter{Value: item.Count, ExpiresAt: item.expiresAt()}, nil
		}
		if !isConditionFailed(err) {
			return Counter{}, fmt.Errorf("update counter %q: %w", key, err)
		}

		// Счётчик истёк, но ещё не удалён DynamoDB: начинаем новое окно.
		item := dynamoItem{Key: key, Count: 1, ExpiresAt: exp}
		av, err := attributevalue.MarshalMap(item)
		if err != nil {
			return Counter{}, fmt.Errorf("marshal counter %q: %w", key, err)
		}

		_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:                aws.String(d.table),
			Item:                     av,
			ConditionExpression:      aws.String("attribute_not_exists(#k) OR #e <= :now"),
			ExpressionAttributeNames: map[string]string{"#k": "key", "#e": "expires_at"},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":now": &types.AttributeValueMemberN{Value: nowUnix},
			},
		})
		if err == nil {
			return Counter{Value: 1, ExpiresAt: item.expiresAt()}, nil
		}
		if !isConditionFailed(err) {
			return Counter{}, fmt.Errorf("reset counter %q: %w", key, err)
		}
	}

	return Counter{}, fmt.Errorf("incr %q: too much contention", key)
}

// Close ничего не делает: клиент AWS не держит соединений, требующих закрытия.
func (d *Dynamo) Close() error { return nil }

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func ceilUnix(t time.Time) int64 {
	s := t.Unix()
	if t.Nanosecond() > 0 {
		s++
	}
	return s
}
