package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// objectGetter is the part of the S3 API the downloader uses.
type objectGetter interface {
	GetObjectWithContext(ctx aws.Context, input *s3.GetObjectInput, opts ...request.Option) (*s3.GetObjectOutput, error)
}

// S3Downloader fetches datasets from s3://bucket/key paths. Credentials come
// from the default AWS chain; anonymous access works for public buckets.
type S3Downloader struct {
	api objectGetter
}

// NewS3Downloader creates a downloader for the given region.
func NewS3Downloader(region string) (*S3Downloader, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, fmt.Errorf("create aws session: %w", err)
	}
	return &S3Downloader{api: s3.New(sess)}, nil
}

// Download streams the object at remote into w. A missing key means the run
// has not been published yet.
func (d *S3Downloader) Download(ctx context.Context, remote string, w io.Writer) error {
	bucket, key, err := parseS3(remote)
	if err != nil {
		return err
	}

	out, err := d.api.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) && (aerr.Code() == s3.ErrCodeNoSuchKey || aerr.Code() == "NotFound") {
			return notYetAvailable(remote, err)
		}
		return fmt.Errorf("get %s: %w", remote, err)
	}
	defer out.Body.Close()

	if _, err := io.Copy(w, out.Body); err != nil {
		return fmt.Errorf("download %s: %w", remote, err)
	}
	return nil
}

func parseS3(remote string) (string, string, error) {
	u, err := url.Parse(remote)
	if err != nil || u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("invalid s3 path %q", remote)
	}
	key := strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", fmt.Errorf("s3 path %q has no key", remote)
	}
	return u.Host, key, nil
}
