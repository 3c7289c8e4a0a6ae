package models

import "errors"

var (
	// ErrIngestionNotFound 入库记录不存在
	ErrIngestionNotFound = errors.New("ingestion not found")
)
