package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/nijaru/catchup/config"
	"github.com/nijaru/catchup/errors"
	"github.com/nijaru/catchup/models"
	"github.com/sirupsen/logrus"
)

type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type presignAPI interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// SpacesStager puts audio in an S3 compatible bucket for the length of one
// transcription and hands out a presigned GET URL for it.
type SpacesStager struct {
	client  objectAPI
	presign presignAPI
	bucket  string
	prefix  string
	expiry  time.Duration
	newKey  func() string
}

func NewSpacesStager(cfg config.SpacesConfig) (*SpacesStager, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
		awsconfig.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %v", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		o.UsePathStyle = true
	})

	return newSpacesStager(client, s3.NewPresignClient(client), cfg), nil
}

func newSpacesStager(client objectAPI, presign presignAPI, cfg config.SpacesConfig) *SpacesStager {
	expiry := cfg.URLExpiry
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	return &SpacesStager{
		client:  client,
		presign: presign,
		bucket:  cfg.Bucket,
		prefix:  strings.Trim(cfg.Prefix, "/"),
		expiry:  expiry,
		newKey:  func() string { return uuid.New().String() },
	}
}

// Stage uploads audio and returns a URL the transcription provider can
// fetch. The cleanup func deletes the object and must always be called.
func (s *SpacesStager) Stage(ctx context.Context, audio models.AudioSegment) (string, func(context.Context), error) {
	const op = "SpacesStager.Stage"

	key := s.key(audio.Format)
	contentType := audio.MIMEType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(audio.Data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(audio.Data))),
	})
	if err != nil {
		return "", nil, errors.TranscriptionFailed(op, err, "failed to stage audio")
	}

	cleanup := func(ctx context.Context) {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"bucket": s.bucket,
				"key":    key,
				"error":  err,
			}).Warn("Failed to delete staged audio")
		}
	}

	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.expiry))
	if err != nil {
		cleanup(context.WithoutCancel(ctx))
		return "", nil, errors.TranscriptionFailed(op, err, "failed to presign staged audio")
	}

	logrus.WithFields(logrus.Fields{
		"bucket": s.bucket,
		"key":    key,
		"bytes":  len(audio.Data),
	}).Debug("Audio staged")

	return req.URL, cleanup, nil
}

func (s *SpacesStager) key(format string) string {
	name := s.newKey()
	if format != "" {
		name += "." + strings.TrimPrefix(format, ".")
	}
	if s.prefix == "" {
		return name
	}
	return s.prefix + "/" + name
}
