package document

import (
	"context"
	"iter"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Chunk 可索引的文本分块
type Chunk struct {
	ID         string // 基于内容的稳定ID
	Content    string // 分块文本，非空
	SourceFile string // 来源文件名
	FilePath   string // 文件存储路径
	PageNumber int    // 所在页码，从1开始
	ChunkIndex int    // 页内序号，从0开始
}

// MetadataKey 向量库载荷中元数据所在的字段
const MetadataKey = "meta_data"

// Metadata 返回分块的位置信息
func (c Chunk) Metadata() map[string]any {
	return map[string]any{
		"source":      c.SourceFile,
		"page":        c.PageNumber,
		"chunk_index": c.ChunkIndex,
		"file_path":   c.FilePath,
	}
}

// Payload 返回写入向量库的载荷
// 元数据嵌套在meta_data下，与同一集合中已有的数据格式保持一致
func (c Chunk) Payload() map[string]any {
	return map[string]any{
		MetadataKey: c.Metadata(),
		"content":   c.Content,
		"name":      c.SourceFile,
	}
}

// Assembler 分块组装器
// 把提取出的页面切分并包装为带位置信息的分块
type Assembler struct {
	config      SplitterConfig
	concurrency int
	logger      *logrus.Logger
}

// AssemblerOption 组装器配置选项
type AssemblerOption func(*Assembler)

// WithConcurrency 设置并行切分的页数上限
func WithConcurrency(n int) AssemblerOption {
	return func(a *Assembler) {
		if n > 0 {
			a.concurrency = n
		}
	}
}

// WithAssemblerLogger 设置日志记录器
func WithAssemblerLogger(logger *logrus.Logger) AssemblerOption {
	return func(a *Assembler) {
		a.logger = logger
	}
}

// NewAssembler 创建分块组装器
func NewAssembler(config SplitterConfig, opts ...AssemblerOption) (*Assembler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	a := &Assembler{
		config:      config,
		concurrency: 4,
		logger:      logrus.New(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Source 分块的来源信息
type Source struct {
	Filename string // 展示用的文件名
	FilePath string // 存储路径
}

// Assemble 消费页面序列并生成分块
// 各页并行切分，输出保持页面顺序和页内顺序
func (a *Assembler) Assemble(ctx context.Context, src Source, pages iter.Seq2[PageText, error]) ([]Chunk, error) {
	var g errgroup.Group
	g.SetLimit(a.concurrency)

	var results []*[]Chunk
	for page, err := range pages {
		if err != nil {
			// 等待已启动的切分结束后再返回提取错误
			_ = g.Wait()
			return nil, err
		}
		if ctx.Err() != nil {
			break
		}

		slot := new([]Chunk)
		results = append(results, slot)
		g.Go(func() error {
			*slot = a.assemblePage(src, page)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var chunks []Chunk
	for _, pageChunks := range results {
		chunks = append(chunks, *pageChunks...)
	}

	a.logger.WithFields(logrus.Fields{
		"file":   src.Filename,
		"pages":  len(results),
		"chunks": len(chunks),
	}).Debug("Document assembled into chunks")

	return chunks, nil
}

// assemblePage 切分单页并包装为分块
func (a *Assembler) assemblePage(src Source, page PageText) []Chunk {
	texts := Split(page.RawText, a.config)

	chunks := make([]Chunk, 0, len(texts))
	for _, text := range texts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		chunks = append(chunks, Chunk{
			ID:         Identify(text),
			Content:    text,
			SourceFile: src.Filename,
			FilePath:   src.FilePath,
			PageNumber: page.PageNumber,
			ChunkIndex: len(chunks),
		})
	}
	return chunks
}
