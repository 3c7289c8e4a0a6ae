package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
)

// LocalStorage 本地文件存储实现
type LocalStorage struct {
	basePath string // 基础存储路径
}

// LocalConfig 本地存储配置
type LocalConfig struct {
	Path string // 本地存储路径
}

// NewLocalStorage 创建本地存储实例
func NewLocalStorage(cfg LocalConfig) (*LocalStorage, error) {
	absPath, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	if err := os.MkdirAll(absPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &LocalStorage{basePath: absPath}, nil
}

// location 返回以存储目录名开头的相对位置，如uploads/report.pdf
func (s *LocalStorage) location(name string) string {
	return path.Join(filepath.Base(s.basePath), name)
}

// LocalPath 返回文件的本地路径
func (s *LocalStorage) LocalPath(name string) (string, error) {
	name, err := SanitizeFilename(name)
	if err != nil {
		return "", err
	}
	path := filepath.Join(s.basePath, name)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrFileNotFound, name)
		}
		return "", err
	}
	return path, nil
}

// Save 保存文件，先写临时文件再重命名，同名文件被整体替换
func (s *LocalStorage) Save(ctx context.Context, reader io.Reader, filename string) (FileInfo, error) {
	name, err := SanitizeFilename(filename)
	if err != nil {
		return FileInfo{}, err
	}
	if err := ctx.Err(); err != nil {
		return FileInfo{}, err
	}

	tmp, err := os.CreateTemp(s.basePath, ".upload-*")
	if err != nil {
		return FileInfo{}, fmt.Errorf("failed to create file: %w", err)
	}
	defer os.Remove(tmp.Name())

	size, err := io.Copy(tmp, reader)
	if err != nil {
		tmp.Close()
		return FileInfo{}, fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return FileInfo{}, fmt.Errorf("failed to write file: %w", err)
	}

	path := filepath.Join(s.basePath, name)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return FileInfo{}, fmt.Errorf("failed to store file: %w", err)
	}

	return FileInfo{
		Name:     name,
		Size:     size,
		MimeType: getMimeType(name),
		Path:     path,
		Location: s.location(name),
	}, nil
}

// Get 获取文件内容
func (s *LocalStorage) Get(_ context.Context, name string) (io.ReadCloser, error) {
	path, err := s.LocalPath(name)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

// Delete 删除文件
func (s *LocalStorage) Delete(_ context.Context, name string) error {
	path, err := s.LocalPath(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// List 列出所有文件，按文件名排序
func (s *LocalStorage) List(_ context.Context) ([]FileInfo, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	files := make([]FileInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || entry.Name()[0] == '.' {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("failed to stat file: %w", err)
		}
		files = append(files, FileInfo{
			Name:     entry.Name(),
			Size:     info.Size(),
			MimeType: getMimeType(entry.Name()),
			Path:     filepath.Join(s.basePath, entry.Name()),
			Location: s.location(entry.Name()),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// Exists 检查文件是否存在
func (s *LocalStorage) Exists(_ context.Context, name string) (bool, error) {
	_, err := s.LocalPath(name)
	if errors.Is(err, ErrFileNotFound) {
		return false, nil
	}
	return err == nil, err
}
