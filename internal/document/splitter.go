package document

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

// DefaultSeparators 默认分隔符，从粗到细：段落、行、句子、单词、字符
var DefaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// SplitterConfig 分块器配置
// 长度单位均为字符数(rune)
type SplitterConfig struct {
	ChunkSize    int      `validate:"gt=0"`                    // 分块大小上限
	ChunkOverlap int      `validate:"gte=0,ltfield=ChunkSize"` // 相邻分块的重叠上限
	Separators   []string `validate:"min=1"`                   // 分隔符优先级列表
}

// DefaultSplitterConfig 返回默认分块器配置
func DefaultSplitterConfig() SplitterConfig {
	return SplitterConfig{
		ChunkSize:    1000,
		ChunkOverlap: 200,
		Separators:   append([]string(nil), DefaultSeparators...),
	}
}

var validate = validator.New()

// Validate 校验分块器配置
func (c SplitterConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid splitter config: %w", err)
	}
	return nil
}

// Split 递归地把文本切分为有重叠的分块
// 先选用文本中出现的最粗分隔符切分，过长的片段再用更细的分隔符递归切分，
// 最后贪心合并相邻片段。相同输入总是得到相同输出。
func Split(text string, cfg SplitterConfig) []string {
	return splitRecursive(text, cfg.Separators, cfg)
}

// splitRecursive 使用剩余的分隔符切分文本
// separators只包含比上一层更细的分隔符
func splitRecursive(text string, separators []string, cfg SplitterConfig) []string {
	separator, finer := chooseSeparator(text, separators)

	var pieces []string
	for _, piece := range splitOn(text, separator) {
		if runeLen(piece) < cfg.ChunkSize {
			pieces = append(pieces, piece)
			continue
		}
		if len(finer) == 0 {
			// 没有更细的分隔符时保留整段，不在单词中间截断
			pieces = append(pieces, piece)
			continue
		}
		pieces = append(pieces, splitRecursive(piece, finer, cfg)...)
	}

	return mergePieces(pieces, separator, cfg)
}

// chooseSeparator 按优先级选出第一个在文本中出现的分隔符
// 空分隔符表示按字符切分，选中后不再有更细的分隔符
// 都不出现时退回到最后一个分隔符
func chooseSeparator(text string, separators []string) (string, []string) {
	if len(separators) == 0 {
		return "", nil
	}
	for i, sep := range separators {
		if sep == "" {
			return "", nil
		}
		if strings.Contains(text, sep) {
			return sep, separators[i+1:]
		}
	}
	return separators[len(separators)-1], nil
}

// splitOn 按分隔符切分，空分隔符按字符切分
func splitOn(text, separator string) []string {
	if separator != "" {
		return strings.Split(text, separator)
	}

	// 按解码宽度截取原始字节，非法UTF-8字节原样保留
	chars := make([]string, 0, utf8.RuneCountInString(text))
	for i := 0; i < len(text); {
		_, size := utf8.DecodeRuneInString(text[i:])
		chars = append(chars, text[i:i+size])
		i += size
	}
	return chars
}

// mergePieces 把小片段贪心合并为分块
// 超出分块大小时输出当前累积内容，然后从头部弹出片段，
// 直到累积长度不超过重叠上限，剩余部分作为下一个分块的开头
func mergePieces(pieces []string, separator string, cfg SplitterConfig) []string {
	sepLen := runeLen(separator)

	var (
		chunks  []string
		current []string
		total   int
	)

	for _, piece := range pieces {
		pieceLen := runeLen(piece)

		if total+pieceLen+sepLen > cfg.ChunkSize && len(current) > 0 {
			if chunk := strings.TrimSpace(strings.Join(current, separator)); chunk != "" {
				chunks = append(chunks, chunk)
			}
			for total > cfg.ChunkOverlap && len(current) > 0 {
				total -= runeLen(current[0]) + sepLen
				current = current[1:]
			}
		}

		current = append(current, piece)
		total += pieceLen + sepLen
	}

	if len(current) > 0 {
		if chunk := strings.TrimSpace(strings.Join(current, separator)); chunk != "" {
			chunks = append(chunks, chunk)
		}
	}

	return chunks
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
