package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3API is the part of *s3.Client the sink uses
type S3API interface {
	s3.ListObjectsV2APIClient
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Options configures an S3 or S3-compatible (R2, MinIO) bucket
type S3Options struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string // empty for AWS
	AccessKeyID     string // empty uses the default credential chain
	SecretAccessKey string
	UsePathStyle    bool
}

// S3Sink keeps snapshots in a bucket under a prefix
type S3Sink struct {
	client S3API
	bucket string
	prefix string
}

// NewS3Sink builds a client from opts
func NewS3Sink(ctx context.Context, opts S3Options) (*S3Sink, error) {
	if opts.Bucket == "" {
		return nil, errors.New("s3 sink requires a bucket")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	})
	return NewS3SinkWithClient(client, opts.Bucket, opts.Prefix), nil
}

// NewS3SinkWithClient wraps an existing client
func NewS3SinkWithClient(client S3API, bucket, prefix string) *S3Sink {
	return &S3Sink{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func (s *S3Sink) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return s.prefix + "/" + name
}

// Write uploads data
func (s *S3Sink) Write(ctx context.Context, name string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(name)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload snapshot %s: %w", name, err)
	}
	return nil
}

// Read downloads a snapshot
func (s *S3Sink) Read(ctx context.Context, name string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to download snapshot %s: %w", name, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// List returns snapshot names under the prefix, sorted
func (s *S3Sink) List(ctx context.Context) ([]string, error) {
	in := &s3.ListObjectsV2Input{Bucket: aws.String(s.bucket)}
	if s.prefix != "" {
		in.Prefix = aws.String(s.prefix + "/")
	}

	var names []string
	pages := s3.NewListObjectsV2Paginator(s.client, in)
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list snapshots: %w", err)
		}
		for _, obj := range page.Contents {
			if key := aws.ToString(obj.Key); strings.HasSuffix(key, ".snap") {
				names = append(names, path.Base(key))
			}
		}
	}
	sort.Strings(names)
	return names, nil
}
