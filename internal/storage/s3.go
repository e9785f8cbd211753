package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/cloo-solutions/docvec/internal/service"
)

// S3ClientConfig holds configuration for S3Client
type S3ClientConfig struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UsePathStyle    bool
}

// ObjectAPI is the subset of the S3 client used by S3Client.
type ObjectAPI interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// S3Client reads documents from S3-compatible storage (e.g., RustFS)
type S3Client struct {
	api    ObjectAPI
	bucket string
	tmpDir string
}

// NewS3Client creates a new S3Client with the given configuration
func NewS3Client(ctx context.Context, cfg S3ClientConfig) (*S3Client, error) {
	// Create custom resolver for S3-compatible endpoints
	customResolver := aws.EndpointResolverWithOptionsFunc(
		func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			if cfg.Endpoint != "" {
				return aws.Endpoint{
					URL:               cfg.Endpoint,
					HostnameImmutable: true,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		},
	)

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		),
		config.WithEndpointResolverWithOptions(customResolver),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
	})

	return NewS3ClientWithAPI(client, cfg.Bucket), nil
}

// NewS3ClientWithAPI wraps an existing object API (for testing)
func NewS3ClientWithAPI(api ObjectAPI, bucket string) *S3Client {
	return &S3Client{api: api, bucket: bucket, tmpDir: os.TempDir()}
}

// Object describes a stored object
type Object struct {
	Key          string
	Size         int64
	LastModified time.Time
	ContentType  string
}

// ListObjects returns every object under prefix, following continuation
// tokens. Directory markers (keys ending in "/") are skipped.
func (c *S3Client) ListObjects(ctx context.Context, prefix string) ([]Object, error) {
	p := s3.NewListObjectsV2Paginator(c.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	})

	var out []Object
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if key == "" || strings.HasSuffix(key, "/") {
				continue
			}
			out = append(out, Object{
				Key:          key,
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}
	return out, nil
}

// DownloadedObject is an object written to a local temp file.
type DownloadedObject struct {
	Object
	Path string
}

// Remove deletes the temp file.
func (d *DownloadedObject) Remove() {
	_ = os.Remove(d.Path)
}

// Download copies the object to a temp file. The caller owns the file and
// must call Remove once done with it.
func (c *S3Client) Download(ctx context.Context, key string) (*DownloadedObject, error) {
	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get object %s: %w", key, err)
	}
	defer out.Body.Close()

	f, err := os.CreateTemp(c.tmpDir, "docvec-*"+path.Ext(key))
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}

	n, err := io.Copy(f, out.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(f.Name())
		return nil, fmt.Errorf("failed to download object %s: %w", key, err)
	}

	return &DownloadedObject{
		Object: Object{
			Key:          key,
			Size:         n,
			LastModified: aws.ToTime(out.LastModified),
			ContentType:  aws.ToString(out.ContentType),
		},
		Path: f.Name(),
	}, nil
}

// IngestRequests downloads every object under prefix and returns one ingest
// request per object. Each request's Release removes its temp file. On error
// the files already downloaded are removed.
func (c *S3Client) IngestRequests(ctx context.Context, prefix, documentType string) ([]service.IngestRequest, error) {
	objects, err := c.ListObjects(ctx, prefix)
	if err != nil {
		return nil, err
	}

	reqs := make([]service.IngestRequest, 0, len(objects))
	for _, obj := range objects {
		dl, err := c.Download(ctx, obj.Key)
		if err != nil {
			for _, r := range reqs {
				r.Release()
			}
			return nil, err
		}

		modTime := dl.LastModified
		if modTime.IsZero() {
			modTime = obj.LastModified
		}
		req := service.IngestRequest{
			Location:     "s3://" + c.bucket + "/" + obj.Key,
			Path:         dl.Path,
			DocumentType: documentType,
			Metadata:     map[string]any{"source": "s3", "key": obj.Key},
			Release:      dl.Remove,
		}
		if documentType == "" && dl.ContentType != "" && dl.ContentType != "binary/octet-stream" &&
			dl.ContentType != "application/octet-stream" {
			req.DocumentType = dl.ContentType
		}
		if !modTime.IsZero() {
			req.SourceModTime = &modTime
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

// PutObject uploads body under key
func (c *S3Client) PutObject(ctx context.Context, key string, body io.Reader, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := c.api.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to put object: %w", err)
	}
	return nil
}

// DeleteObject removes an object from storage
func (c *S3Client) DeleteObject(ctx context.Context, key string) error {
	input := &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}

	_, err := c.api.DeleteObject(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}

	return nil
}

// HeadObject checks if an object exists and returns its metadata
func (c *S3Client) HeadObject(ctx context.Context, key string) (*Object, error) {
	input := &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}

	output, err := c.api.HeadObject(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to head object: %w", err)
	}

	return &Object{
		Key:          key,
		Size:         aws.ToInt64(output.ContentLength),
		LastModified: aws.ToTime(output.LastModified),
		ContentType:  aws.ToString(output.ContentType),
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist
func (c *S3Client) EnsureBucket(ctx context.Context) error {
	_, err := c.api.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(c.bucket),
	})
	if err == nil {
		return nil
	}

	_, err = c.api.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(c.bucket),
	})
	if err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}

	return nil
}
