// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-imgtransform.
//
// go-imgtransform is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package s3 provides a volume backed by Amazon S3 or any S3-compatible
// object store (MinIO, Ceph RGW) through aws-sdk-go-v2.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/jeremyhahn/go-imgtransform/pkg/common"
)

// s3API is the subset of *s3.Client used by the volume, so unit tests can
// substitute a fake without network I/O.
type s3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// s3NewClient builds the SDK client; replaced in tests.
var s3NewClient = func(ctx context.Context, settings map[string]string) (s3API, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(settings["region"]),
	}
	if key, secret := settings["access_key_id"], settings["secret_access_key"]; key != "" && secret != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(key, secret, "")))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if ep := settings["endpoint"]; ep != "" {
			o.BaseEndpoint = aws.String(ep)
		}
		if settings["force_path_style"] == "true" {
			o.UsePathStyle = true
		}
	}), nil
}

// S3 is a volume that stores files in an S3 bucket.
type S3 struct {
	client s3API
	bucket string
	prefix string
}

// New creates a new S3 volume.
func New() *S3 {
	return &S3{}
}

// Configure sets up the backend with the necessary settings.
// Required settings:
//   - bucket: the bucket name
//   - region: AWS region (defaults to "us-east-1" when endpoint is set)
//
// Optional settings:
//   - access_key_id, secret_access_key: static credentials
//   - endpoint: custom endpoint for S3-compatible stores
//   - force_path_style: "true" for path-style addressing (MinIO)
//   - prefix: key prefix applied to every path
func (v *S3) Configure(settings map[string]string) error {
	v.bucket = settings["bucket"]
	if v.bucket == "" {
		return common.ErrBucketNotSet
	}
	v.prefix = strings.Trim(settings["prefix"], "/")

	if settings["region"] == "" {
		if settings["endpoint"] == "" {
			return common.ErrRegionNotSet
		}
		copied := make(map[string]string, len(settings)+1)
		for k, val := range settings {
			copied[k] = val
		}
		copied["region"] = "us-east-1"
		settings = copied
	}

	if v.client != nil {
		return nil
	}

	client, err := s3NewClient(context.Background(), settings)
	if err != nil {
		return err
	}
	v.client = client
	return nil
}

func (v *S3) key(path string) (string, error) {
	if v.client == nil {
		return "", common.ErrNotConfigured
	}
	if err := common.ValidatePath(path); err != nil {
		return "", err
	}
	if v.prefix == "" {
		return path, nil
	}
	return v.prefix + "/" + path, nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

func wrapNotFound(err error, path string) error {
	if isNotFound(err) {
		return fmt.Errorf("%w: %s", common.ErrKeyNotFound, path)
	}
	return err
}

// Exists reports whether an object exists at path.
func (v *S3) Exists(ctx context.Context, path string) (bool, error) {
	key, err := v.key(path)
	if err != nil {
		return false, err
	}
	_, err = v.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, err
}

// Put uploads data to path. Non-seekable readers are buffered because the
// SDK needs a seekable body to sign the payload.
func (v *S3) Put(ctx context.Context, path string, data io.Reader) error {
	key, err := v.key(path)
	if err != nil {
		return err
	}

	body, ok := data.(io.ReadSeeker)
	if !ok {
		buf, err := io.ReadAll(data)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}

	_, err = v.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(key),
		Body:   body,
	})
	return err
}

// Get opens the object at path.
func (v *S3) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	key, err := v.key(path)
	if err != nil {
		return nil, err
	}
	out, err := v.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, wrapNotFound(err, path)
	}
	return out.Body, nil
}

// Delete removes the object at path. S3 deletes are idempotent, so a
// missing object is not reported.
func (v *S3) Delete(ctx context.Context, path string) error {
	key, err := v.key(path)
	if err != nil {
		return err
	}
	_, err = v.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(key),
	})
	return wrapNotFound(err, path)
}

// Copy performs a server-side copy within the bucket.
func (v *S3) Copy(ctx context.Context, from, to string) error {
	srcKey, err := v.key(from)
	if err != nil {
		return err
	}
	dstKey, err := v.key(to)
	if err != nil {
		return err
	}
	_, err = v.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(v.bucket),
		Key:        aws.String(dstKey),
		CopySource: aws.String(copySource(v.bucket, srcKey)),
	})
	return wrapNotFound(err, from)
}

// LastModified returns the object's Last-Modified time.
func (v *S3) LastModified(ctx context.Context, path string) (time.Time, error) {
	key, err := v.key(path)
	if err != nil {
		return time.Time{}, err
	}
	out, err := v.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return time.Time{}, wrapNotFound(err, path)
	}
	if out.LastModified == nil {
		return time.Time{}, nil
	}
	return *out.LastModified, nil
}

// List returns the paths under prefix, relative to the configured key prefix.
func (v *S3) List(ctx context.Context, prefix string) ([]string, error) {
	if v.client == nil {
		return nil, common.ErrNotConfigured
	}
	full := prefix
	if v.prefix != "" {
		full = v.prefix + "/" + prefix
	}

	paths := make([]string, 0, 100)
	paginator := s3.NewListObjectsV2Paginator(v.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(v.bucket),
		Prefix: aws.String(full),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			p := *obj.Key
			if v.prefix != "" {
				p = strings.TrimPrefix(p, v.prefix+"/")
			}
			paths = append(paths, p)
		}
	}
	return paths, nil
}

// copySource builds the URL-encoded "bucket/key" copy source header value.
func copySource(bucket, key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return bucket + "/" + strings.Join(segments, "/")
}
