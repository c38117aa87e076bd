package s3blob

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanyoungcy/convbot/internal/domain"
)

// minPartSize is the S3 multipart minimum.
const minPartSize int64 = 5 * 1024 * 1024

// Writer implements domain.BlobWriter.
type Writer struct {
	uploader *manager.Uploader
	c        *Client
}

// NewWriter creates a Writer on c. Bodies smaller than one part go up in a
// single PutObject; larger ones switch to a multipart upload.
func NewWriter(c *Client) *Writer {
	return &Writer{
		uploader: manager.NewUploader(c.s3, func(u *manager.Uploader) {
			u.PartSize = minPartSize
		}),
		c: c,
	}
}

// Put uploads data under p.
func (w *Writer) Put(ctx context.Context, p string, data io.Reader, contentType string) error {
	key := w.c.key(p)
	_, err := w.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.c.bucket),
		Key:         aws.String(key),
		Body:        data,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3blob: put %s: %w", key, err)
	}
	return nil
}

var _ domain.BlobWriter = (*Writer)(nil)
