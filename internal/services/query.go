package services

import (
	"context"
	"strings"
	"time"

	"github.com/fyerfyer/agni-rag/internal/agent"
	"github.com/sirupsen/logrus"
)

// QueryService 问答服务
// 对问答流水线做超时控制和日志记录
type QueryService struct {
	pipeline *agent.Pipeline // 路由、改写、回答流水线
	timeout  time.Duration   // 单次问答超时时间
	logger   *logrus.Logger  // 日志记录器
}

// QueryOption 问答服务配置选项
type QueryOption func(*QueryService)

// WithQueryTimeout 设置单次问答超时时间
func WithQueryTimeout(timeout time.Duration) QueryOption {
	return func(s *QueryService) {
		s.timeout = timeout
	}
}

// WithQueryLogger 设置日志记录器
func WithQueryLogger(logger *logrus.Logger) QueryOption {
	return func(s *QueryService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewQueryService 创建问答服务实例
func NewQueryService(pipeline *agent.Pipeline, opts ...QueryOption) *QueryService {
	srv := &QueryService{
		pipeline: pipeline,
		timeout:  2 * time.Minute,
		logger:   logrus.New(),
	}
	for _, opt := range opts {
		opt(srv)
	}
	return srv
}

// Answer 回答问题
func (s *QueryService) Answer(ctx context.Context, query string) (*agent.Answer, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, agent.ErrEmptyQuery
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	answer, err := s.pipeline.Run(ctx, query)
	if err != nil {
		s.logger.WithError(err).WithField("query", query).Error("Query failed")
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"relevant": answer.Relevant,
		"sources":  len(answer.Sources),
		"duration": time.Since(start).String(),
	}).Info("Query answered")
	return answer, nil
}
