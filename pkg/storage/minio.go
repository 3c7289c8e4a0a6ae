package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// uploadPrefix 上传文件在桶内的前缀
const uploadPrefix = "uploads/"

// MinioStorage MinIO存储实现
type MinioStorage struct {
	client     *minio.Client // MinIO客户端
	bucketName string        // 存储桶名称
}

// MinioConfig MinIO存储配置
type MinioConfig struct {
	Endpoint  string // MinIO服务端点
	AccessKey string // 访问密钥ID
	SecretKey string // 秘密访问密钥
	UseSSL    bool   // 是否使用SSL
	Bucket    string // 存储桶名称
}

// NewMinioStorage 创建MinIO存储实例，存储桶不存在时自动创建
func NewMinioStorage(ctx context.Context, cfg MinioConfig) (*MinioStorage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check if bucket exists: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &MinioStorage{client: client, bucketName: cfg.Bucket}, nil
}

func objectName(name string) string {
	return uploadPrefix + name
}

// Save 上传文件，同名对象被覆盖
func (s *MinioStorage) Save(ctx context.Context, reader io.Reader, filename string) (FileInfo, error) {
	name, err := SanitizeFilename(filename)
	if err != nil {
		return FileInfo{}, err
	}

	contentType := getMimeType(name)
	// 大小未知时使用分片上传
	info, err := s.client.PutObject(ctx, s.bucketName, objectName(name), reader, -1,
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return FileInfo{}, fmt.Errorf("failed to upload file: %w", err)
	}

	return FileInfo{
		Name:     name,
		Size:     info.Size,
		MimeType: contentType,
		Path:     info.Key,
		Location: path.Join(s.bucketName, info.Key),
	}, nil
}

// Get 获取文件内容
func (s *MinioStorage) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	name, err := SanitizeFilename(name)
	if err != nil {
		return nil, err
	}
	if _, err := s.stat(ctx, name); err != nil {
		return nil, err
	}

	obj, err := s.client.GetObject(ctx, s.bucketName, objectName(name), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	return obj, nil
}

// Delete 删除文件
func (s *MinioStorage) Delete(ctx context.Context, name string) error {
	name, err := SanitizeFilename(name)
	if err != nil {
		return err
	}
	if _, err := s.stat(ctx, name); err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucketName, objectName(name), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// List 列出所有上传文件
func (s *MinioStorage) List(ctx context.Context) ([]FileInfo, error) {
	var files []FileInfo
	for object := range s.client.ListObjects(ctx, s.bucketName, minio.ListObjectsOptions{
		Prefix:    uploadPrefix,
		Recursive: true,
	}) {
		if object.Err != nil {
			return nil, fmt.Errorf("error listing objects: %w", object.Err)
		}
		name := path.Base(object.Key)
		files = append(files, FileInfo{
			Name:     name,
			Size:     object.Size,
			MimeType: getMimeType(name),
			Path:     object.Key,
			Location: path.Join(s.bucketName, object.Key),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// Exists 检查文件是否存在
func (s *MinioStorage) Exists(ctx context.Context, name string) (bool, error) {
	name, err := SanitizeFilename(name)
	if err != nil {
		return false, err
	}
	_, err = s.stat(ctx, name)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrFileNotFound) {
		return false, nil
	}
	return false, err
}

// stat 查询对象元数据，对象不存在时返回ErrFileNotFound
func (s *MinioStorage) stat(ctx context.Context, name string) (minio.ObjectInfo, error) {
	info, err := s.client.StatObject(ctx, s.bucketName, objectName(name), minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return info, fmt.Errorf("%w: %s", ErrFileNotFound, name)
		}
		return info, fmt.Errorf("failed to stat object: %w", err)
	}
	return info, nil
}
