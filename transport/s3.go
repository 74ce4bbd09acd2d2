// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"
)

// S3API is the subset of the S3 client used by [S3Fetcher].
type S3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Fetcher fetches byte ranges of an S3 object.
type S3Fetcher struct {
	client   S3API
	bucket   string
	key      string
	attempts uint
	delay    time.Duration
}

// S3Option configures an [S3Fetcher].
type S3Option func(*S3Fetcher)

// WithS3Retry sets the number of attempts and the initial backoff delay.
func WithS3Retry(attempts uint, delay time.Duration) S3Option {
	return func(f *S3Fetcher) {
		f.attempts = max(attempts, 1)
		f.delay = delay
	}
}

// NewS3Fetcher creates a fetcher for the object key in bucket.
func NewS3Fetcher(client S3API, bucket, key string, opts ...S3Option) *S3Fetcher {
	f := &S3Fetcher{client: client, bucket: bucket, key: key, attempts: defaultAttempts, delay: defaultDelay}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// NewS3FetcherFromURI creates a fetcher for an s3://bucket/key uri using the
// default AWS configuration chain.
func NewS3FetcherFromURI(ctx context.Context, uri string, opts ...S3Option) (*S3Fetcher, error) {
	bucket, key, err := ParseS3URI(uri)
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load aws configuration")
	}
	return NewS3Fetcher(s3.NewFromConfig(cfg), bucket, key, opts...), nil
}

// ParseS3URI splits an s3://bucket/key uri.
func ParseS3URI(uri string) (bucket, key string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", errors.Wrapf(err, "parse %q", uri)
	}
	if u.Scheme != "s3" {
		return "", "", errors.Errorf("invalid s3 uri %q: scheme must be s3", uri)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", errors.Errorf("invalid s3 uri %q: bucket and key required", uri)
	}
	return u.Host, key, nil
}

// Locator returns the s3 uri of the object.
func (f *S3Fetcher) Locator() string {
	return "s3://" + f.bucket + "/" + f.key
}

// Size returns the content length of the object.
func (f *S3Fetcher) Size(ctx context.Context) (int64, error) {
	var size int64
	err := f.do(ctx, func() error {
		out, err := f.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(f.bucket),
			Key:    aws.String(f.key),
		})
		if err != nil {
			return err
		}
		if out.ContentLength == nil {
			return retry.Unrecoverable(errors.New("unknown content length"))
		}
		size = aws.ToInt64(out.ContentLength)
		return nil
	})
	if err != nil {
		return 0, errors.Wrapf(err, "head %s", f.Locator())
	}
	return size, nil
}

// FetchRange gets the bytes [start, end) of the object.
func (f *S3Fetcher) FetchRange(ctx context.Context, start, end int64) (io.ReadCloser, error) {
	if end <= start {
		return io.NopCloser(strings.NewReader("")), nil
	}
	var body io.ReadCloser
	err := f.do(ctx, func() error {
		out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(f.bucket),
			Key:    aws.String(f.key),
			Range:  aws.String(fmt.Sprintf("bytes=%d-%d", start, end-1)),
		})
		if err != nil {
			return err
		}
		if cr := aws.ToString(out.ContentRange); cr != "" {
			first, last, _, err := parseContentRange(cr)
			if err != nil || first != start || last != end-1 {
				out.Body.Close()
				return retry.Unrecoverable(errors.Errorf("returned range %q", cr))
			}
		}
		body = out.Body
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "get %s bytes=%d-%d", f.Locator(), start, end-1)
	}
	return body, nil
}

// do runs fn with the retry policy of the fetcher.
func (f *S3Fetcher) do(ctx context.Context, fn func() error) error {
	return retry.Do(fn,
		retry.Attempts(f.attempts),
		retry.Delay(f.delay),
		retry.MaxDelay(defaultMaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isRetryableS3),
		retry.Context(ctx),
	)
}

// statusCoder is implemented by the response errors of the AWS SDK.
type statusCoder interface {
	HTTPStatusCode() int
}

// isRetryableS3 reports whether err is worth another attempt. Client errors
// of the API are final.
func isRetryableS3(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var sc statusCoder
	if errors.As(err, &sc) {
		code := sc.HTTPStatusCode()
		return code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout
	}
	return true
}
