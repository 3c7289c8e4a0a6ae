package document

import (
	"crypto/md5"

	"github.com/google/uuid"
)

// Identify 根据分块内容生成稳定ID
// ID只取决于内容本身：不同文件中的相同文本得到相同ID，
// 向量库upsert时会覆盖而不是重复写入
func Identify(content string) string {
	return uuid.UUID(md5.Sum([]byte(content))).String()
}
