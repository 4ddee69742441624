package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/goccy/go-json"

	"github.com/relabs-tech/awsiot/core/logger"
	"github.com/relabs-tech/awsiot/iot/greengrass"
)

// S3Configuration contains the configuration for the AWS S3 driver
type S3Configuration struct {
	AccessID      string
	AccessKey     string
	AWSRegion     string
	AWSBucketName string
	KeyPrefix     string
}

// S3API is the part of the S3 client used by the driver
type S3API interface {
	manager.UploadAPIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3 stores discovery results as objects in an AWS S3 bucket
type S3 struct {
	client   S3API
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// NewS3 returns a new S3 driver. Static credentials are used when AccessID is set, otherwise
// the default credential chain applies.
func NewS3(ctx context.Context, s3Config S3Configuration) (*S3, error) {
	if s3Config.AWSBucketName == "" {
		return nil, fmt.Errorf("AWSBucketName must not be empty")
	}
	options := []func(*config.LoadOptions) error{config.WithRegion(s3Config.AWSRegion)}
	if s3Config.AccessID != "" {
		options = append(options, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s3Config.AccessID, s3Config.AccessKey, "")))
	}
	cfg, err := config.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return nil, err
	}
	logger.Default().Debugln("discovery store on S3 bucket", s3Config.AWSBucketName)
	return NewS3WithClient(s3.NewFromConfig(cfg), s3Config.AWSBucketName, s3Config.KeyPrefix), nil
}

// NewS3WithClient returns a new S3 driver on top of an existing client
func NewS3WithClient(client S3API, bucket, prefix string) *S3 {
	return &S3{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   prefix,
	}
}

func (s *S3) key(thing string) string {
	return s.prefix + "discovery/" + url.PathEscape(thing) + ".json"
}

// Save uploads the discovery result of thing
func (s *S3) Save(ctx context.Context, thing string, data *greengrass.DiscoveryCallbackData) error {
	if err := validThing(thing); err != nil {
		return err
	}
	body, err := json.Marshal(record{Thing: thing, SavedAt: time.Now().UTC(), Data: data})
	if err != nil {
		return err
	}
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(thing)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload discovery result, %w", err)
	}
	logger.FromContext(ctx).Debugln("uploaded discovery result", s.key(thing))
	return nil
}

// Load downloads the discovery result of thing
func (s *S3) Load(ctx context.Context, thing string) (*greengrass.DiscoveryCallbackData, time.Time, error) {
	if err := validThing(thing); err != nil {
		return nil, time.Time{}, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(thing)),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, time.Time{}, ErrNotFound
		}
		return nil, time.Time{}, err
	}
	defer out.Body.Close()
	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, time.Time{}, err
	}
	var r record
	if err = json.Unmarshal(body, &r); err != nil {
		return nil, time.Time{}, fmt.Errorf("corrupt discovery object %s: %w", s.key(thing), err)
	}
	return r.Data, r.SavedAt, nil
}

// Delete deletes the discovery result of thing
func (s *S3) Delete(ctx context.Context, thing string) error {
	if err := validThing(thing); err != nil {
		return err
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(thing)),
	})
	if err != nil {
		logger.FromContext(ctx).Errorln("could not delete", s.key(thing))
	}
	return err
}
