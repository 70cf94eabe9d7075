package messagestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"tgfs-go/internal/tgfs"
)

// S3StoreConfig configures an S3Store.
type S3StoreConfig struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string // for MinIO/Localstack; empty uses AWS
	AccessKeyID     string // empty uses the default credential chain
	SecretAccessKey string
	MaxSize         int64
}

// S3Store is a MessageStore keeping one object per message:
//
//	<prefix>messages/<id>
//	<prefix>pins/<inverted sequence>-<id>
//
// Pin keys sort most recent first. Ids are microsecond timestamps claimed
// with a conditional put, so concurrent writers never share an id.
type S3Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
	maxSize  int64
	clock    tgfs.Clock

	mu      sync.Mutex
	lastID  tgfs.MessageID
	lastSeq int64
}

var _ tgfs.MessageStore = (*S3Store)(nil)

// NewS3Client builds an S3 client from cfg.
func NewS3Client(ctx context.Context, cfg S3StoreConfig) (*s3.Client, error) {
	var opts []func(*awsConfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsConfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// Path-style addressing for MinIO/Localstack.
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// NewS3Store creates a store on an existing bucket.
func NewS3Store(client *s3.Client, cfg S3StoreConfig, clock tgfs.Clock) *S3Store {
	return &S3Store{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   cfg.Bucket,
		prefix:   cfg.Prefix,
		maxSize:  cfg.MaxSize,
		clock:    clock,
	}
}

func (s *S3Store) messageKey(id tgfs.MessageID) string {
	return s.prefix + "messages/" + id.String()
}

func (s *S3Store) pinPrefix() string {
	return s.prefix + "pins/"
}

func (s *S3Store) checkSize(size int64) error {
	if s.maxSize > 0 && size > s.maxSize {
		return fmt.Errorf("%w: %d bytes, limit %d", tgfs.ErrAttachmentTooLarge, size, s.maxSize)
	}
	return nil
}

// nextCandidate returns an id larger than any this process handed out.
func (s *S3Store) nextCandidate() tgfs.MessageID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := tgfs.MessageID(s.clock.Now().UnixMicro())
	if id <= s.lastID {
		id = s.lastID + 1
	}
	s.lastID = id
	return id
}

// nextPinSeq returns a pin sequence larger than any this process used, so
// two pins within one clock tick still order by recency.
func (s *S3Store) nextPinSeq() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := s.clock.Now().UnixNano()
	if seq <= s.lastSeq {
		seq = s.lastSeq + 1
	}
	s.lastSeq = seq
	return seq
}

// SendAttachment uploads the attachment under a freshly claimed id. The
// body is read once, so a collision is resolved by claiming the id with an
// empty conditional put before uploading.
func (s *S3Store) SendAttachment(ctx context.Context, name string, r io.Reader, size int64) (tgfs.MessageID, error) {
	if err := s.checkSize(size); err != nil {
		return 0, err
	}

	var id tgfs.MessageID
	for attempt := 0; ; attempt++ {
		id = s.nextCandidate()
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(s.messageKey(id)),
			Body:        strings.NewReader(""),
			IfNoneMatch: aws.String("*"),
		})
		if err == nil {
			break
		}
		if !isPreconditionFailed(err) || attempt >= 10 {
			return 0, fmt.Errorf("claiming message id: %w", err)
		}
	}

	if err := s.upload(ctx, id, name, r, size); err != nil {
		return 0, err
	}
	return id, nil
}

// EditAttachment overwrites the object of an existing message.
func (s *S3Store) EditAttachment(ctx context.Context, id tgfs.MessageID, name string, r io.Reader, size int64) error {
	if err := s.checkSize(size); err != nil {
		return err
	}
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.messageKey(id)),
	})
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: %s", tgfs.ErrMessageNotFound, id)
		}
		return fmt.Errorf("failed to head object: %w", err)
	}
	return s.upload(ctx, id, name, r, size)
}

func (s *S3Store) upload(ctx context.Context, id tgfs.MessageID, name string, r io.Reader, size int64) error {
	counter := &countingReader{r: r}
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(s.messageKey(id)),
		Body:     counter,
		Metadata: map[string]string{"name": name},
	})
	if err != nil {
		return fmt.Errorf("failed to upload object: %w", err)
	}
	if counter.n != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, counter.n)
	}
	return nil
}

// DownloadAttachment streams the message object.
func (s *S3Store) DownloadAttachment(ctx context.Context, id tgfs.MessageID) (io.ReadCloser, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.messageKey(id)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", tgfs.ErrMessageNotFound, id)
		}
		return nil, fmt.Errorf("failed to get object from S3: %w", err)
	}
	return result.Body, nil
}

// Pin writes a new pin marker for id and removes its older markers.
func (s *S3Store) Pin(ctx context.Context, id tgfs.MessageID) error {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.messageKey(id)),
	})
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: %s", tgfs.ErrMessageNotFound, id)
		}
		return fmt.Errorf("failed to head object: %w", err)
	}

	old, err := s.pinKeys(ctx)
	if err != nil {
		return err
	}

	key := pinKeyFor(s.pinPrefix(), s.nextPinSeq(), id)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   strings.NewReader(""),
	})
	if err != nil {
		return fmt.Errorf("failed to write pin: %w", err)
	}

	for _, p := range old {
		if p.id != id || p.key == key {
			continue
		}
		if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(p.key),
		}); err != nil {
			return fmt.Errorf("failed to remove stale pin: %w", err)
		}
	}
	return nil
}

// ListPinned returns pinned ids, most recent first.
func (s *S3Store) ListPinned(ctx context.Context) ([]tgfs.MessageID, error) {
	pins, err := s.pinKeys(ctx)
	if err != nil {
		return nil, err
	}
	return dedupPins(pins), nil
}

type pinKey struct {
	key string
	id  tgfs.MessageID
}

// pinKeyFor inverts seq and zero-pads it so a later pin sorts first.
func pinKeyFor(prefix string, seq int64, id tgfs.MessageID) string {
	return fmt.Sprintf("%s%019d-%s", prefix, math.MaxInt64-seq, id)
}

func parsePinKey(prefix, key string) (pinKey, bool) {
	rest, ok := strings.CutPrefix(key, prefix)
	if !ok {
		return pinKey{}, false
	}
	_, idPart, ok := strings.Cut(rest, "-")
	if !ok {
		return pinKey{}, false
	}
	n, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || n <= 0 {
		return pinKey{}, false
	}
	return pinKey{key: key, id: tgfs.MessageID(n)}, true
}

// dedupPins keeps the first, most recent, marker of each id.
func dedupPins(pins []pinKey) []tgfs.MessageID {
	seen := make(map[tgfs.MessageID]bool, len(pins))
	var ids []tgfs.MessageID
	for _, p := range pins {
		if seen[p.id] {
			continue
		}
		seen[p.id] = true
		ids = append(ids, p.id)
	}
	return ids
}

// pinKeys lists pin markers in key order, which is most recent first.
func (s *S3Store) pinKeys(ctx context.Context) ([]pinKey, error) {
	var pins []pinKey
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.pinPrefix()),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list pins: %w", err)
		}
		for _, obj := range page.Contents {
			if p, ok := parsePinKey(s.pinPrefix(), aws.ToString(obj.Key)); ok {
				pins = append(pins, p)
			}
		}
	}
	return pins, nil
}

// Close is a no-op; the S3 client holds no resources that need releasing.
func (s *S3Store) Close() error {
	return nil
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}

func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "PreconditionFailed"
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
