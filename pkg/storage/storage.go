package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrFileNotFound 文件不存在
	ErrFileNotFound = errors.New("file not found")
	// ErrInvalidFilename 文件名为空或只包含路径成分
	ErrInvalidFilename = errors.New("invalid filename")
)

// FileInfo 文件元数据结构
type FileInfo struct {
	Name     string // 文件名，同时是存储键
	Size     int64  // 文件大小(字节)
	MimeType string // 文件MIME类型
	Path     string // 内部存储路径(实现相关)
	Location string // 对外记录的存储位置，不包含服务器目录
}

// Storage 上传文件存储接口
// 文件以清洗后的原始文件名为键，同名文件后写覆盖先写
type Storage interface {
	// Save 保存文件并返回文件信息
	Save(ctx context.Context, reader io.Reader, filename string) (FileInfo, error)

	// Get 获取文件内容
	Get(ctx context.Context, name string) (io.ReadCloser, error)

	// Delete 删除文件
	Delete(ctx context.Context, name string) error

	// List 列出所有文件
	List(ctx context.Context) ([]FileInfo, error)

	// Exists 检查文件是否存在
	Exists(ctx context.Context, name string) (bool, error)
}

// localPather 能直接提供本地路径的存储
type localPather interface {
	LocalPath(name string) (string, error)
}

// Config 存储配置
type Config struct {
	Type  string      // 存储类型：local 或 minio
	Local LocalConfig // 本地存储配置
	Minio MinioConfig // MinIO配置
}

// New 根据配置创建存储实例
func New(ctx context.Context, cfg Config) (Storage, error) {
	switch cfg.Type {
	case "", "local":
		return NewLocalStorage(cfg.Local)
	case "minio":
		return NewMinioStorage(ctx, cfg.Minio)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// SanitizeFilename 去掉目录成分，只保留文件名
func SanitizeFilename(filename string) (string, error) {
	name := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." || name == "/" {
		return "", fmt.Errorf("%w: %q", ErrInvalidFilename, filename)
	}
	return name, nil
}

// Materialize 返回可供解析器读取的本地文件路径
// 本地存储直接返回原路径，其他存储下载到临时目录，调用方用完后执行cleanup
func Materialize(ctx context.Context, s Storage, name string) (path string, cleanup func(), err error) {
	if lp, ok := s.(localPather); ok {
		path, err := lp.LocalPath(name)
		return path, func() {}, err
	}

	rc, err := s.Get(ctx, name)
	if err != nil {
		return "", nil, err
	}
	defer rc.Close()

	dir, err := os.MkdirTemp("", "agni-ingest-*")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	cleanup = func() { _ = os.RemoveAll(dir) }

	// 保留原文件名，解析器按扩展名选择提取器
	path = filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		cleanup()
		return "", nil, fmt.Errorf("failed to download file: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, err
	}
	return path, cleanup, nil
}

// getMimeType 简单根据文件扩展名判断MIME类型
func getMimeType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return "application/pdf"
	case ".md", ".markdown":
		return "text/markdown"
	case ".txt":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}
