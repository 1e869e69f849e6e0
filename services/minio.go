package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	appContext "github.com/alphabatem/common/context"
	"github.com/lac-hong-legacy/academy_api/model"
	"github.com/lac-hong-legacy/academy_api/shared"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	log "github.com/sirupsen/logrus"
)

const (
	MINIO_SVC = "minio_svc"

	auditArchivePrefix      = "audit-logs/"
	auditArchiveContentType = "application/x-ndjson"
)

var errArchiveNotConfigured = errors.New("audit archive storage not initialized")

type archiveConfig struct {
	endpoint  string
	accessKey string
	secretKey string
	bucket    string
	region    string
	secure    bool
}

// MinIOService archives audit entries before retention cleanup deletes them.
type MinIOService struct {
	appContext.DefaultService
	cfg    archiveConfig
	client *minio.Client
}

func (svc MinIOService) Id() string {
	return MINIO_SVC
}

func (svc *MinIOService) Configure(ctx *appContext.Context) error {
	svc.cfg = archiveConfig{
		endpoint:  envOr("MINIO_ENDPOINT", "localhost:9000"),
		accessKey: envOr("MINIO_ACCESS_KEY", "admin"),
		secretKey: envOr("MINIO_SECRET_KEY", "password123"),
		bucket:    envOr("MINIO_BUCKET_NAME", "academy-audit"),
		region:    os.Getenv("MINIO_REGION"),
		secure:    os.Getenv("MINIO_USE_SSL") == "true",
	}
	return svc.DefaultService.Configure(ctx)
}

func (svc *MinIOService) Start() error {
	client, err := minio.New(svc.cfg.endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(svc.cfg.accessKey, svc.cfg.secretKey, ""),
		Secure: svc.cfg.secure,
		Region: svc.cfg.region,
	})
	if err != nil {
		return fmt.Errorf("minio client for %s: %w", svc.cfg.endpoint, err)
	}
	svc.client = client

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := svc.ensureBucket(ctx); err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"endpoint": svc.cfg.endpoint,
		"bucket":   svc.cfg.bucket,
	}).Info("Audit archive storage ready")
	return nil
}

func (svc *MinIOService) ensureBucket(ctx context.Context) error {
	exists, err := svc.client.BucketExists(ctx, svc.cfg.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", svc.cfg.bucket, err)
	}
	if exists {
		return nil
	}
	if err := svc.client.MakeBucket(ctx, svc.cfg.bucket, minio.MakeBucketOptions{Region: svc.cfg.region}); err != nil {
		return fmt.Errorf("create bucket %s: %w", svc.cfg.bucket, err)
	}
	log.WithField("bucket", svc.cfg.bucket).Info("Created audit archive bucket")
	return nil
}

// auditArchiveObject groups archives by the retention cutoff day; the suffix keeps repeated runs apart.
func auditArchiveObject(cutoff, now time.Time) string {
	return fmt.Sprintf("%s%s/cleanup-%d.jsonl", auditArchivePrefix, cutoff.UTC().Format("2006/01/02"), now.UnixMilli())
}

// encodeAuditLines renders one JSON document per line.
func encodeAuditLines(logs []model.AuditLog) (*bytes.Buffer, error) {
	var buf bytes.Buffer
	for i := range logs {
		line, err := shared.JSON().Marshal(&logs[i])
		if err != nil {
			return nil, fmt.Errorf("encode audit log %s: %w", logs[i].ID, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return &buf, nil
}

// ArchiveAuditLogs uploads logs as newline-delimited JSON and returns the object name.
func (svc *MinIOService) ArchiveAuditLogs(ctx context.Context, logs []model.AuditLog, cutoff time.Time) (string, error) {
	if svc.client == nil {
		return "", errArchiveNotConfigured
	}

	body, err := encodeAuditLines(logs)
	if err != nil {
		return "", err
	}

	object := auditArchiveObject(cutoff, time.Now())
	if _, err := svc.client.PutObject(ctx, svc.cfg.bucket, object, body, int64(body.Len()), minio.PutObjectOptions{
		ContentType: auditArchiveContentType,
		UserMetadata: map[string]string{
			"entries": fmt.Sprint(len(logs)),
			"cutoff":  cutoff.UTC().Format(time.RFC3339),
		},
	}); err != nil {
		return "", fmt.Errorf("upload audit archive %s: %w", object, err)
	}

	log.WithFields(log.Fields{
		"object":  object,
		"entries": len(logs),
	}).Info("Audit logs archived")
	return object, nil
}

func (svc *MinIOService) ListAuditArchives(ctx context.Context) ([]minio.ObjectInfo, error) {
	if svc.client == nil {
		return nil, errArchiveNotConfigured
	}

	var objects []minio.ObjectInfo
	for object := range svc.client.ListObjects(ctx, svc.cfg.bucket, minio.ListObjectsOptions{
		Prefix:    auditArchivePrefix,
		Recursive: true,
	}) {
		if object.Err != nil {
			return nil, fmt.Errorf("list audit archives: %w", object.Err)
		}
		objects = append(objects, object)
	}
	return objects, nil
}
