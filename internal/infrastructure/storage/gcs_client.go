package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/option"
)

type CloudStorageClient struct {
	client     *storage.Client
	bucketName string
}

// UploadedFile is the stored attachment reference kept on a message: the
// public URL for display plus the object path for later deletion.
type UploadedFile struct {
	URL  string
	Path string
}

func NewCloudStorageClient(ctx context.Context, bucketName, credentialsPath string) (*CloudStorageClient, error) {
	var opts []option.ClientOption
	if credentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsPath))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %v", err)
	}

	return &CloudStorageClient{
		client:     client,
		bucketName: bucketName,
	}, nil
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "video/mp4":
		return ".mp4"
	case "video/quicktime":
		return ".mov"
	default:
		return ".bin"
	}
}

func (c *CloudStorageClient) UploadAttachment(ctx context.Context, file io.Reader, contentType, conversationID string) (*UploadedFile, error) {
	objectName := fmt.Sprintf("chat-media/%s/%s-%s%s",
		conversationID,
		uuid.New().String(),
		time.Now().Format("20060102150405"),
		extensionFor(contentType),
	)

	obj := c.client.Bucket(c.bucketName).Object(objectName)
	wc := obj.NewWriter(ctx)
	wc.ContentType = contentType
	wc.CacheControl = "public, max-age=86400"

	if _, err := io.Copy(wc, file); err != nil {
		return nil, fmt.Errorf("failed to copy file to GCS: %v", err)
	}

	if err := wc.Close(); err != nil {
		return nil, fmt.Errorf("failed to close writer: %v", err)
	}

	if err := obj.ACL().Set(ctx, storage.AllUsers, storage.RoleReader); err != nil {
		return nil, fmt.Errorf("failed to set ACL: %v", err)
	}

	return &UploadedFile{
		URL:  fmt.Sprintf("https://storage.googleapis.com/%s/%s", c.bucketName, objectName),
		Path: objectName,
	}, nil
}

func (c *CloudStorageClient) DeleteAttachment(ctx context.Context, objectPath string) error {
	if objectPath == "" || strings.Contains(objectPath, "..") {
		return fmt.Errorf("invalid object path")
	}

	obj := c.client.Bucket(c.bucketName).Object(objectPath)
	if err := obj.Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete file: %v", err)
	}

	return nil
}

func (c *CloudStorageClient) Close() error {
	return c.client.Close()
}
