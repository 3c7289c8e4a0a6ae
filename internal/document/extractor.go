package document

import (
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"path/filepath"
	"strings"
)

// ErrUnreadableDocument 文档无法打开或解析
var ErrUnreadableDocument = errors.New("unreadable document")

// ErrUnsupportedType 不支持的文档类型
var ErrUnsupportedType = errors.New("unsupported document type")

// PageText 单页提取结果
type PageText struct {
	PageNumber int    // 页码，从1开始
	RawText    string // 页面原始文本（已去除首尾空白）
}

// Extractor 页面提取器接口
// 负责把文档转换为按页顺序排列的文本序列
type Extractor interface {
	// Pages 返回一个惰性的页面序列
	// 每次调用都会重新打开文件，空白页不会出现在序列中
	// 出错时序列产出一次错误后结束
	Pages(filePath string) iter.Seq2[PageText, error]
}

// ContentType 表示文档的内容类型
type ContentType string

const (
	// PDF 文档类型
	PDF ContentType = "pdf"
	// Markdown 文档类型
	Markdown ContentType = "markdown"
	// PlainText 纯文本类型
	PlainText ContentType = "plaintext"
	// Unknown 未知类型
	Unknown ContentType = "unknown"
)

// NewExtractor 根据文件扩展名创建对应的页面提取器
func NewExtractor(filePath string) (Extractor, error) {
	switch DetectContentType(filePath) {
	case PDF:
		return NewPDFExtractor(), nil
	case Markdown:
		return NewMarkdownExtractor(), nil
	case PlainText:
		return NewPlainTextExtractor(), nil
	default:
		return nil, fmt.Errorf("%w: %w: %s", ErrUnreadableDocument, ErrUnsupportedType, filepath.Ext(filePath))
	}
}

// DetectContentType 根据文件扩展名检测内容类型
func DetectContentType(filePath string) ContentType {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".pdf":
		return PDF
	case ".md", ".markdown":
		return Markdown
	case ".txt":
		return PlainText
	default:
		return Unknown
	}
}

// unreadable 把底层错误归类为文档不可读
// 路径错误只保留文件名，避免向调用方暴露存储目录
func unreadable(err error) error {
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		err = &fs.PathError{Op: pathErr.Op, Path: filepath.Base(pathErr.Path), Err: pathErr.Err}
	}
	return fmt.Errorf("%w: %w", ErrUnreadableDocument, err)
}
