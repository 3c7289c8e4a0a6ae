package model

// PaginationRequest 分页请求参数
type PaginationRequest struct {
	Page     int `form:"page" json:"page" binding:"omitempty,min=1"`           // 当前页码，从1开始
	PageSize int `form:"page_size" json:"page_size" binding:"omitempty,min=1"` // 每页记录数
}

// GetPage 获取页码，默认为1
func (p *PaginationRequest) GetPage() int {
	if p.Page <= 0 {
		return 1
	}
	return p.Page
}

// GetPageSize 获取每页记录数，默认为10，最大为100
func (p *PaginationRequest) GetPageSize() int {
	if p.PageSize <= 0 {
		return 10
	}
	if p.PageSize > 100 {
		return 100
	}
	return p.PageSize
}

// Offset 返回分页偏移量
func (p *PaginationRequest) Offset() int {
	return (p.GetPage() - 1) * p.GetPageSize()
}

// IngestRequest 入库请求的查询参数
type IngestRequest struct {
	Async bool `form:"async"` // 是否异步入库
}

// IngestionListRequest 入库记录列表请求
type IngestionListRequest struct {
	PaginationRequest
	Status   string `form:"status" binding:"omitempty,oneof=queued processing success partial failed"` // 状态过滤
	FileName string `form:"filename" binding:"omitempty"`                                              // 文件名模糊匹配
}

// IngestionRequest 单条入库记录请求
type IngestionRequest struct {
	ID string `uri:"id" binding:"required"` // 入库记录ID
}

// QueryRequest 问答请求
type QueryRequest struct {
	Query string `json:"query" binding:"required"` // 问题内容
}
