package document

import (
	"iter"
	"os"
	"strings"
)

// pageBreak 纯文本中的分页符
const pageBreak = "\f"

// PlainTextExtractor 纯文本页面提取器
// 以换页符(\f)划分页面，没有换页符时整个文件为一页
type PlainTextExtractor struct{}

// NewPlainTextExtractor 创建一个新的纯文本页面提取器
func NewPlainTextExtractor() Extractor {
	return &PlainTextExtractor{}
}

// Pages 按换页符逐页产出文本
func (e *PlainTextExtractor) Pages(filePath string) iter.Seq2[PageText, error] {
	return func(yield func(PageText, error) bool) {
		content, err := os.ReadFile(filePath)
		if err != nil {
			yield(PageText{}, unreadable(err))
			return
		}

		for i, page := range strings.Split(string(content), pageBreak) {
			text := strings.TrimSpace(page)
			if text == "" {
				continue
			}
			if !yield(PageText{PageNumber: i + 1, RawText: text}, nil) {
				return
			}
		}
	}
}
