package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// IngestionStatus 入库记录状态
type IngestionStatus string

const (
	// IngestionQueued 已进入异步队列，等待处理
	IngestionQueued IngestionStatus = "queued"
	// IngestionProcessing 处理中
	IngestionProcessing IngestionStatus = "processing"
	// IngestionSuccess 全部分块写入成功
	IngestionSuccess IngestionStatus = "success"
	// IngestionPartial 部分分块写入后失败
	IngestionPartial IngestionStatus = "partial"
	// IngestionFailed 入库失败
	IngestionFailed IngestionStatus = "failed"
)

// Terminal 是否为终止状态
func (s IngestionStatus) Terminal() bool {
	return s == IngestionSuccess || s == IngestionPartial || s == IngestionFailed
}

// Ingestion 入库记录
// 每次上传或重新入库都会生成一条记录
type Ingestion struct {
	ID              string          `gorm:"primaryKey;size:36"`     // 记录ID
	FileName        string          `gorm:"not null;index"`         // 上传的文件名
	ContentType     string          `gorm:"size:20"`                // 文档类型：pdf, markdown, plaintext
	FileSize        int64           `gorm:"not null;default:0"`     // 文件大小（字节）
	StoragePath     string          `gorm:"size:512"`               // 上传文件的存储位置
	Status          IngestionStatus `gorm:"not null;size:20;index"` // 当前状态
	ErrorKind       string          `gorm:"size:32"`                // 失败类别
	ChunksProcessed int             `gorm:"not null;default:0"`     // 已写入向量库的分块数
	Message         string          `gorm:"type:text"`              // 结果说明
	Collection      string          `gorm:"size:128"`               // 目标向量集合
	TaskID          string          `gorm:"size:64;index"`          // 异步任务ID
	Metadata        datatypes.JSON  `gorm:"type:json"`              // 扩展信息，如状态转换轨迹
	CreatedAt       time.Time       `gorm:"not null;index"`         // 创建时间
	UpdatedAt       time.Time       `gorm:"not null"`               // 更新时间
	FinishedAt      *time.Time      `gorm:"index"`                  // 结束时间
}

// BeforeCreate GORM的钩子函数，创建记录前自动设置时间
func (i *Ingestion) BeforeCreate(tx *gorm.DB) (err error) {
	now := time.Now()
	if i.CreatedAt.IsZero() {
		i.CreatedAt = now
	}
	i.UpdatedAt = now
	return nil
}

// TableName 明确指定表名
func (Ingestion) TableName() string {
	return "ingestions"
}
