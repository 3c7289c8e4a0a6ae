package document

import (
	gohtml "html"
	"iter"
	"os"
	"regexp"
	"strings"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

// MarkdownExtractor Markdown页面提取器
// Markdown没有分页概念，整个文件作为第1页
type MarkdownExtractor struct{}

// NewMarkdownExtractor 创建新的Markdown页面提取器
func NewMarkdownExtractor() Extractor {
	return &MarkdownExtractor{}
}

// Pages 产出Markdown渲染后的纯文本
func (e *MarkdownExtractor) Pages(filePath string) iter.Seq2[PageText, error] {
	return func(yield func(PageText, error) bool) {
		content, err := os.ReadFile(filePath)
		if err != nil {
			yield(PageText{}, unreadable(err))
			return
		}

		text := strings.TrimSpace(markdownToText(content))
		if text == "" {
			return
		}
		yield(PageText{PageNumber: 1, RawText: text}, nil)
	}
}

var (
	blockCloseTag = regexp.MustCompile(`</(p|h[1-6]|li|ul|ol|pre|blockquote|table|tr)>`)
	lineBreakTag  = regexp.MustCompile(`<br\s*/?>`)
	anyTag        = regexp.MustCompile(`<[^>]*>`)
	spaceRun      = regexp.MustCompile(`[ \t\x{00A0}]+`)
	blankLines    = regexp.MustCompile(`\n{3,}`)
)

// markdownToText 把Markdown渲染为HTML后去掉标签
// 块级元素结束处保留段落分隔，便于分块器优先按段落切分
func markdownToText(content []byte) string {
	extensions := parser.CommonExtensions | parser.AutoHeadingIDs
	doc := parser.NewWithExtensions(extensions).Parse(content)

	renderer := html.NewRenderer(html.RendererOptions{Flags: html.CommonFlags})
	rendered := string(markdown.Render(doc, renderer))

	rendered = lineBreakTag.ReplaceAllString(rendered, "\n")
	rendered = blockCloseTag.ReplaceAllString(rendered, "\n\n")
	rendered = anyTag.ReplaceAllString(rendered, "")
	rendered = gohtml.UnescapeString(rendered)

	lines := strings.Split(rendered, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(spaceRun.ReplaceAllString(line, " "))
	}
	return blankLines.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
}
