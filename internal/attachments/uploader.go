// Package attachments stores message files in object storage and hands back a
// reference the thread keeps verbatim.
package attachments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"

	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/models"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var ErrEmptyFile = errors.New("attachment is empty")

// File is an upload waiting to be stored.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

type Uploader interface {
	Upload(ctx context.Context, reportID uuid.UUID, file File) (*models.Attachment, error)
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// PublicURL is the base clients fetch objects from. Defaults to the endpoint.
	PublicURL string
}

type MinioUploader struct {
	client    *minio.Client
	bucket    string
	publicURL string
}

func NewMinioUploader(cfg MinioConfig) (*MinioUploader, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	publicURL := cfg.PublicURL
	if publicURL == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		publicURL = scheme + "://" + cfg.Endpoint
	}
	return &MinioUploader{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: strings.TrimRight(publicURL, "/"),
	}, nil
}

// EnsureBucket creates the bucket if it does not exist yet.
func (u *MinioUploader) EnsureBucket(ctx context.Context) error {
	exists, err := u.client.BucketExists(ctx, u.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", u.bucket, err)
	}
	if exists {
		return nil
	}
	if err := u.client.MakeBucket(ctx, u.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", u.bucket, err)
	}
	return nil
}

func (u *MinioUploader) Upload(ctx context.Context, reportID uuid.UUID, file File) (*models.Attachment, error) {
	if file.Size == 0 {
		return nil, ErrEmptyFile
	}

	contentType := DetectContentType(file.Name, file.ContentType)
	key := ObjectKey(reportID, file.Name)
	_, err := u.client.PutObject(ctx, u.bucket, key, file.Body, file.Size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload %s: %w", key, err)
	}

	return &models.Attachment{
		URL:     u.ObjectURL(key),
		IsImage: IsImage(contentType),
	}, nil
}

func (u *MinioUploader) ObjectURL(key string) string {
	return u.publicURL + "/" + u.bucket + "/" + key
}

// ObjectKey names the stored object reports/<report id>/<random><ext>. The
// client file name only contributes its extension.
func ObjectKey(reportID uuid.UUID, fileName string) string {
	ext := strings.ToLower(path.Ext(path.Base(strings.ReplaceAll(fileName, "\\", "/"))))
	if len(ext) > 10 {
		ext = ""
	}
	return "reports/" + reportID.String() + "/" + uuid.NewString() + ext
}

// DetectContentType prefers the declared type and falls back to the extension.
func DetectContentType(fileName, declared string) string {
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	if byExt := mime.TypeByExtension(strings.ToLower(path.Ext(fileName))); byExt != "" {
		return byExt
	}
	return "application/octet-stream"
}

func IsImage(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mediaType, "image/")
}
