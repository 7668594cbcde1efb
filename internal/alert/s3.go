package alert

import (
	"context"
	"fmt"
	"html"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// ObjectPutter - часть клиента S3, нужная архиву. Ей удовлетворяет *s3.Client.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archive сохраняет каждое оповещение HTML-документом в бакет.
// Ключ объекта: <prefix>/YYYY/MM/DD/<uuid>.html.
type S3Archive struct {
	client ObjectPutter
	bucket string
	prefix string
	now    func() time.Time
}

// NewS3Archive создаёт архив оповещений.
func NewS3Archive(client ObjectPutter, bucket, prefix string) *S3Archive {
	return &S3Archive{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		now:    time.Now,
	}
}

// Send реализует Sender.
func (a *S3Archive) Send(ctx context.Context, msg Message) error {
	key := path.Join(a.prefix, a.now().UTC().Format("2006/01/02"), uuid.NewString()+".html")

	doc := "<!doctype html><html><head><meta charset=\"utf-8\"><title>" + html.EscapeString(msg.Subject) +
		"</title></head><body style=\"white-space: pre-wrap\">" + msg.HTML() + "</body></html>"

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        strings.NewReader(doc),
		ContentType: aws.String("text/html; charset=utf-8"),
	})
	if err != nil {
		return fmt.Errorf("put alert object %s: %w", key, err)
	}
	return nil
}
