package model

import (
	"time"

	"github.com/fyerfyer/agni-rag/internal/agent"
	"github.com/fyerfyer/agni-rag/internal/models"
)

// Response 通用响应结构
type Response struct {
	Code    int         `json:"code"`               // 响应状态码，0表示成功
	Message string      `json:"message"`            // 响应消息
	Data    interface{} `json:"data,omitempty"`     // 响应数据，可能为空
	TraceID string      `json:"trace_id,omitempty"` // 调用链追踪ID
}

// NewSuccessResponse 创建成功响应
func NewSuccessResponse(data interface{}) *Response {
	return &Response{
		Code:    0,
		Message: "success",
		Data:    data,
	}
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(code int, message string) *Response {
	return &Response{
		Code:    code,
		Message: message,
	}
}

// AsyncIngestResponse 异步入库响应
type AsyncIngestResponse struct {
	IngestionID string `json:"ingestion_id"` // 入库记录ID
	TaskID      string `json:"task_id"`      // 异步任务ID
	Filename    string `json:"filename"`     // 文件名
	Status      string `json:"status"`       // 当前状态
}

// IngestionInfo 入库记录信息
type IngestionInfo struct {
	ID              string     `json:"id"`                    // 入库记录ID
	FileName        string     `json:"filename"`              // 文件名
	ContentType     string     `json:"content_type"`          // 文档类型
	FileSize        int64      `json:"file_size"`             // 文件大小
	Status          string     `json:"status"`                // 状态
	ErrorKind       string     `json:"error_kind,omitempty"`  // 失败类别
	ChunksProcessed int        `json:"chunks_processed"`      // 已写入的分块数
	Message         string     `json:"message"`               // 结果说明
	Collection      string     `json:"collection"`            // 目标集合
	TaskID          string     `json:"task_id,omitempty"`     // 异步任务ID
	CreatedAt       time.Time  `json:"created_at"`            // 创建时间
	FinishedAt      *time.Time `json:"finished_at,omitempty"` // 结束时间
}

// NewIngestionInfo 从入库记录创建响应信息
func NewIngestionInfo(ing *models.Ingestion) IngestionInfo {
	return IngestionInfo{
		ID:              ing.ID,
		FileName:        ing.FileName,
		ContentType:     ing.ContentType,
		FileSize:        ing.FileSize,
		Status:          string(ing.Status),
		ErrorKind:       ing.ErrorKind,
		ChunksProcessed: ing.ChunksProcessed,
		Message:         ing.Message,
		Collection:      ing.Collection,
		TaskID:          ing.TaskID,
		CreatedAt:       ing.CreatedAt,
		FinishedAt:      ing.FinishedAt,
	}
}

// IngestionListResponse 入库记录列表响应
type IngestionListResponse struct {
	Total      int64           `json:"total"`      // 总数量
	Page       int             `json:"page"`       // 当前页码
	PageSize   int             `json:"page_size"`  // 每页大小
	Ingestions []IngestionInfo `json:"ingestions"` // 入库记录
}

// SourceInfo 回答引用的来源
type SourceInfo struct {
	Filename string  `json:"filename"` // 文件名
	Page     int     `json:"page"`     // 页码
	Score    float32 `json:"score"`    // 相似度分数
	Text     string  `json:"text"`     // 分块内容
}

// QueryResponse 问答响应
type QueryResponse struct {
	Query         string       `json:"query"`                    // 用户问题
	EnhancedQuery string       `json:"enhanced_query,omitempty"` // 改写后的检索问题
	Answer        string       `json:"answer"`                   // 回答
	Relevant      bool         `json:"relevant"`                 // 问题是否与知识库相关
	Sources       []SourceInfo `json:"sources"`                  // 来源信息
}

// NewQueryResponse 将流水线回答转换为响应
func NewQueryResponse(a *agent.Answer) QueryResponse {
	sources := make([]SourceInfo, len(a.Sources))
	for i, s := range a.Sources {
		sources[i] = SourceInfo{
			Filename: s.Filename,
			Page:     s.Page,
			Score:    s.Score,
			Text:     s.Content,
		}
	}
	return QueryResponse{
		Query:         a.Query,
		EnhancedQuery: a.EnhancedQuery,
		Answer:        a.Answer,
		Relevant:      a.Relevant,
		Sources:       sources,
	}
}
