package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyerfyer/agni-rag/internal/document"
)

// Kind 入库失败的类别
type Kind string

const (
	// UnreadableDocument 文件无法打开或解析
	UnreadableDocument Kind = "UnreadableDocument"
	// NoContentExtracted 解析成功但没有可用分块
	NoContentExtracted Kind = "NoContentExtracted"
	// EmbeddingFailure 嵌入服务调用失败
	EmbeddingFailure Kind = "EmbeddingFailure"
	// StoreFailure 创建集合或写入向量库失败
	StoreFailure Kind = "StoreFailure"
	// Canceled 调用方取消了入库
	Canceled Kind = "Canceled"
)

// ErrNoContent 没有提取到任何内容
var ErrNoContent = errors.New("no content extracted")

// Error 入库错误，携带失败类别和原始原因
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf 返回错误的失败类别，非入库错误返回空字符串
func KindOf(err error) Kind {
	var ingestErr *Error
	if errors.As(err, &ingestErr) {
		return ingestErr.Kind
	}
	return ""
}

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// stageError 归类嵌入和写入阶段的错误
// 上下文已取消或超时时归为Canceled，即使下游把原始错误转换成了字符串
func stageError(ctx context.Context, kind Kind, err error) *Error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return newError(Canceled, err)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return newError(Canceled, fmt.Errorf("%w: %v", ctxErr, err))
	}
	return newError(kind, err)
}

// classifyExtraction 区分提取阶段的取消和文档错误
func classifyExtraction(err error) *Error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return newError(Canceled, err)
	}
	if !errors.Is(err, document.ErrUnreadableDocument) {
		err = fmt.Errorf("%w: %w", document.ErrUnreadableDocument, err)
	}
	return newError(UnreadableDocument, err)
}
