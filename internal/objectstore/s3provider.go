package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// s3API is the subset of *s3.Client this package depends on, so tests can
// substitute a fake without spinning up a real bucket. Grounded on the
// S3-backed storage layer pulled in by launix-de-memcp's go.mod
// (github.com/aws/aws-sdk-go-v2 + .../config + .../service/s3).
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, opts ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Provider is a Provider backed by an S3-compatible object store.
// CompareAndSwap rides S3's conditional PutObject preconditions (If-Match /
// If-None-Match on ETag), so the CAS fencing guarantee spec.md §4.1 requires
// for manifest writes holds across multiple compactord processes, unlike
// FSProvider's in-process-only CAS.
type S3Provider struct {
	client s3API
	bucket string
}

// NewS3Provider wraps an *s3.Client (or any s3API-satisfying fake) rooted at
// bucket.
func NewS3Provider(client s3API, bucket string) *S3Provider {
	return &S3Provider{client: client, bucket: bucket}
}

func (p *S3Provider) Put(ctx context.Context, path string, data []byte) error {
	_, err := p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(path),
		Body:   bytes.NewReader(data),
	})
	return err
}

func (p *S3Provider) PutIfAbsent(ctx context.Context, path string, data []byte) error {
	_, err := p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(path),
		Body:        bytes.NewReader(data),
		IfNoneMatch: aws.String("*"),
	})
	if isPreconditionFailed(err) {
		return ErrAlreadyExists
	}
	return err
}

func (p *S3Provider) CompareAndSwap(ctx context.Context, path string, expectedHash Hash, data []byte) (Hash, error) {
	in := &s3.PutObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(path),
		Body:   bytes.NewReader(data),
	}
	if expectedHash == ZeroHash {
		in.IfNoneMatch = aws.String("*")
	} else {
		in.IfMatch = aws.String(etagFromHash(expectedHash))
	}
	out, err := p.client.PutObject(ctx, in)
	if isPreconditionFailed(err) {
		return Hash{}, ErrCASMismatch
	}
	if err != nil {
		return Hash{}, err
	}
	return hashFromETag(aws.ToString(out.ETag)), nil
}

func (p *S3Provider) Get(ctx context.Context, path string) ([]byte, error) {
	out, err := p.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(path),
	})
	if isNoSuchKey(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (p *S3Provider) GetRange(ctx context.Context, path string, r Range) ([]byte, error) {
	out, err := p.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(path),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", r.Offset, r.Offset+r.Length-1)),
	})
	if isNoSuchKey(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (p *S3Provider) Head(ctx context.Context, path string) (Head, error) {
	out, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(path),
	})
	if isNoSuchKey(err) {
		return Head{}, ErrNotFound
	}
	if err != nil {
		return Head{}, err
	}
	var size int64
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	hash := hashFromETag(aws.ToString(out.ETag))
	var modTime = out.LastModified
	if modTime == nil {
		return Head{Size: size, Hash: hash}, nil
	}
	return Head{Size: size, ModTime: *modTime, Hash: hash}, nil
}

func (p *S3Provider) List(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	var token *string
	for {
		resp, err := p.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(p.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, err
		}
		for _, obj := range resp.Contents {
			out = append(out, aws.ToString(obj.Key))
		}
		if resp.IsTruncated == nil || !*resp.IsTruncated {
			break
		}
		token = resp.NextContinuationToken
	}
	return out, nil
}

func (p *S3Provider) Copy(ctx context.Context, from, to string) error {
	_, err := p.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(p.bucket),
		Key:        aws.String(to),
		CopySource: aws.String(p.bucket + "/" + from),
	})
	return err
}

func (p *S3Provider) Delete(ctx context.Context, path string) error {
	_, err := p.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(path),
	})
	return err
}

func (p *S3Provider) SupportsDelete() bool { return true }

var _ Provider = (*S3Provider)(nil)

func isPreconditionFailed(err error) bool {
	if err == nil {
		return false
	}
	var apiErr interface{ ErrorCode() string }
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "PreconditionFailed" || code == "ConditionalRequestConflict"
	}
	return strings.Contains(err.Error(), "PreconditionFailed")
}

func isNoSuchKey(err error) bool {
	if err == nil {
		return false
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr interface{ ErrorCode() string }
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "NoSuchKey" || apiErr.ErrorCode() == "NotFound"
	}
	return false
}

// etagFromHash and hashFromETag translate between this package's backend-
// agnostic Hash and S3's quoted ETag string. S3 ETags for non-multipart
// uploads are the object's MD5 hex digest; only the first 8 bytes are kept,
// matching Hash's width — collisions here only widen the CAS failure window
// to a spurious retry, never a correctness violation, since a losing CAS
// always re-reads the real current state before retrying (spec.md §4.2.3).
func etagFromHash(h Hash) string {
	return fmt.Sprintf("%x", h[:])
}

func hashFromETag(etag string) Hash {
	etag = strings.Trim(etag, `"`)
	var h Hash
	n := len(etag)
	if n > 16 {
		n = 16
	}
	for i := 0; i+1 < n; i += 2 {
		var b byte
		fmt.Sscanf(etag[i:i+2], "%02x", &b)
		h[i/2] = b
	}
	return h
}
