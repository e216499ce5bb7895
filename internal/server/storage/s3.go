package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectStore uploads files to an S3-compatible backend (MinIO in
// development) and returns publicly reachable URLs.
type ObjectStore struct {
	rootUser     string
	rootPassword string
	bucket       string
	region       string
	baseEndpoint string
}

func NewObjectStore(rootUser, rootPassword, bucket, region, baseEndpoint string) *ObjectStore {
	return &ObjectStore{
		rootUser:     rootUser,
		rootPassword: rootPassword,
		bucket:       bucket,
		region:       region,
		baseEndpoint: baseEndpoint,
	}
}

func (o *ObjectStore) client(ctx context.Context) (*s3.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(o.region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			o.rootUser,
			o.rootPassword,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("loading s3 config: %w", err)
	}

	return s3.NewFromConfig(cfg, func(opts *s3.Options) {
		opts.BaseEndpoint = aws.String(o.baseEndpoint)
		opts.UsePathStyle = true
	}), nil
}

// Upload stores body under key and returns the object's URL.
func (o *ObjectStore) Upload(ctx context.Context, key, contentType string, body io.Reader) (string, error) {
	client, err := o.client(ctx)
	if err != nil {
		return "", err
	}

	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(o.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("uploading %s: %w", key, err)
	}

	return fmt.Sprintf("%s/%s/%s", strings.TrimSuffix(o.baseEndpoint, "/"), o.bucket, key), nil
}
