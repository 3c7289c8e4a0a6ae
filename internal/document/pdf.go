package document

import (
	"fmt"
	"iter"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// PDFExtractor PDF页面提取器
// 先用pdfcpu校验文件结构，再用ledongthuc/pdf逐页读取文本
type PDFExtractor struct{}

// NewPDFExtractor 创建一个新的PDF页面提取器
func NewPDFExtractor() Extractor {
	return &PDFExtractor{}
}

// Pages 按文档顺序逐页产出PDF文本
func (e *PDFExtractor) Pages(filePath string) iter.Seq2[PageText, error] {
	return func(yield func(PageText, error) bool) {
		f, r, total, err := openPDF(filePath)
		if err != nil {
			yield(PageText{}, unreadable(err))
			return
		}
		defer f.Close()

		for i := 1; i <= total; i++ {
			text, err := pageText(r, i)
			if err != nil {
				yield(PageText{}, unreadable(err))
				return
			}

			text = strings.TrimSpace(text)
			if text == "" {
				continue
			}
			if !yield(PageText{PageNumber: i, RawText: text}, nil) {
				return
			}
		}
	}
}

// openPDF 校验并打开PDF，返回总页数
// 截断或损坏的文件会让pdfcpu和ledongthuc/pdf在解析xref时panic，这里统一转换为错误
func openPDF(filePath string) (f *os.File, r *pdf.Reader, total int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			if f != nil {
				_ = f.Close()
			}
			f, r, total = nil, nil, 0
			err = fmt.Errorf("malformed pdf structure: %v", rec)
		}
	}()

	if _, err = api.PageCountFile(filePath); err != nil {
		return nil, nil, 0, err
	}

	f, r, err = pdf.Open(filePath)
	if err != nil {
		return nil, nil, 0, err
	}
	return f, r, r.NumPage(), nil
}

// pageText 读取单页纯文本
// ledongthuc/pdf在遇到损坏的内容流时会panic，这里统一转换为错误
func pageText(r *pdf.Reader, num int) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("page %d: malformed content stream: %v", num, rec)
		}
	}()

	page := r.Page(num)
	if page.V.IsNull() {
		return "", nil
	}

	text, err = page.GetPlainText(nil)
	if err != nil {
		return "", fmt.Errorf("page %d: %w", num, err)
	}
	return text, nil
}
