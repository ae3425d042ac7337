// Package archive copies finished evaluation transcripts to S3-compatible
// object storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/soyeahso/daogate/internal/config"
	"github.com/soyeahso/daogate/internal/domain"
	"github.com/soyeahso/daogate/internal/hooks"
	"github.com/soyeahso/daogate/internal/logging"
)

// Document is the archived form of a finished session.
type Document struct {
	ArchivedAt time.Time       `json:"archivedAt"`
	Session    *domain.Session `json:"session"`
}

// objectStore is the subset of the minio client the archive uses.
type objectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucket, key string, opts minio.GetObjectOptions) (*minio.Object, error)
}

// S3Archive writes one JSON object per session under a key prefix.
type S3Archive struct {
	client objectStore
	bucket string
	region string
	prefix string
	log    *logging.Logger
	now    func() time.Time

	initOnce sync.Once
	initErr  error
}

// New builds an archive from configuration.
func New(cfg config.ArchiveConfig, log *logging.Logger) (*S3Archive, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("archive endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("archive access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}
	return newArchive(client, bucket, region, cfg.Prefix, log), nil
}

func newArchive(client objectStore, bucket, region, prefix string, log *logging.Logger) *S3Archive {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3Archive{
		client: client,
		bucket: bucket,
		region: region,
		prefix: prefix,
		log:    log.Sub("archive"),
		now:    time.Now,
	}
}

func (a *S3Archive) ensureBucket(ctx context.Context) error {
	a.initOnce.Do(func() {
		exists, err := a.client.BucketExists(ctx, a.bucket)
		if err != nil {
			a.initErr = err
			return
		}
		if exists {
			return
		}
		a.initErr = a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{Region: a.region})
	})
	return a.initErr
}

// Key returns the object key for a session id.
func (a *S3Archive) Key(sessionID string) string {
	return a.prefix + sessionID + ".json"
}

// Put stores the session's transcript, replacing any earlier copy.
func (a *S3Archive) Put(ctx context.Context, sess *domain.Session) error {
	if sess == nil || sess.ID == "" {
		return fmt.Errorf("session id is required")
	}
	if err := a.ensureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}

	data, err := json.MarshalIndent(Document{ArchivedAt: a.now().UTC(), Session: sess}, "", "  ")
	if err != nil {
		return err
	}
	_, err = a.client.PutObject(ctx, a.bucket, a.Key(sess.ID), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", a.Key(sess.ID), err)
	}
	a.log.Info().Str("sessionId", sess.ID).Str("key", a.Key(sess.ID)).Msg("transcript archived")
	return nil
}

// Get reads an archived transcript. Missing objects map to domain.ErrSessionNotFound.
func (a *S3Archive) Get(ctx context.Context, sessionID string) (*Document, error) {
	if err := a.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket: %w", err)
	}
	obj, err := a.client.GetObject(ctx, a.bucket, a.Key(sessionID), minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		code := minio.ToErrorResponse(err).Code
		if code == "NoSuchKey" || code == "NoSuchBucket" {
			return nil, domain.ErrSessionNotFound
		}
		return nil, err
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", a.Key(sessionID), err)
	}
	return &doc, nil
}

// Name identifies the archive's hook handlers.
func (a *S3Archive) Name() string { return "archive" }

// Register archives every session that reaches a terminal status.
func (a *S3Archive) Register(hm *hooks.Manager) {
	h := func(ctx context.Context, p hooks.Payload) error {
		if p.Session == nil {
			return fmt.Errorf("payload for %s carries no session", p.SessionID)
		}
		return a.Put(ctx, p.Session)
	}
	hm.On(hooks.EventSessionAccepted, a.Name(), h)
	hm.On(hooks.EventSessionRejected, a.Name(), h)
}
