package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/mautops/record-gin/internal/model"
	"github.com/mautops/record-gin/internal/repository"
	"github.com/mautops/record-gin/pkg/types"
	"github.com/sirupsen/logrus"
)

// 审计资源类型
const (
	ResourceTemplate = "template"
	ResourceRecord   = "record"
)

// AuditLogService 审计日志服务
type AuditLogService interface {
	RecordAction(ctx context.Context, actor *types.Actor, action, resourceType, resourceID string, details interface{}) error
	ListByResource(ctx context.Context, resourceType, resourceID string) ([]*model.AuditLogModel, error)
}

// RequestInfo 请求来源信息,由 API 中间件写入 context
type RequestInfo struct {
	RequestID string
	IP        string
	UserAgent string
}

type requestInfoKey struct{}

// WithRequestInfo 在 context 中保存请求来源信息
func WithRequestInfo(ctx context.Context, info RequestInfo) context.Context {
	return context.WithValue(ctx, requestInfoKey{}, info)
}

// RequestInfoFrom 从 context 获取请求来源信息
func RequestInfoFrom(ctx context.Context) RequestInfo {
	if ctx == nil {
		return RequestInfo{}
	}
	info, _ := ctx.Value(requestInfoKey{}).(RequestInfo)
	return info
}

// auditLogService 审计日志服务实现
type auditLogService struct {
	auditRepo repository.AuditLogRepository
	logger    logrus.FieldLogger
}

// NewAuditLogService 创建审计日志服务,auditRepo 为 nil 时只写日志
func NewAuditLogService(auditRepo repository.AuditLogRepository, logger logrus.FieldLogger) AuditLogService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &auditLogService{auditRepo: auditRepo, logger: logger}
}

// RecordAction 记录操作审计日志
func (s *auditLogService) RecordAction(ctx context.Context, actor *types.Actor, action, resourceType, resourceID string, details interface{}) error {
	if actor == nil || actor.ID == "" {
		return nil
	}

	// 序列化详情
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return err
	}

	info := RequestInfoFrom(ctx)
	s.logger.WithFields(logrus.Fields{
		"user_id":       actor.ID,
		"action":        action,
		"resource_type": resourceType,
		"resource_id":   resourceID,
		"request_id":    info.RequestID,
	}).Info("audit")

	if s.auditRepo == nil {
		return nil
	}
	return s.auditRepo.Save(ctx, &model.AuditLogModel{
		ID:             uuid.New().String(),
		UserID:         actor.ID,
		OrganizationID: actor.OrganizationID,
		Action:         action,
		ResourceType:   resourceType,
		ResourceID:     resourceID,
		RequestID:      info.RequestID,
		IP:             info.IP,
		UserAgent:      info.UserAgent,
		Details:        detailsJSON,
		CreatedAt:      time.Now(),
	})
}

// ListByResource 查询资源的审计日志
func (s *auditLogService) ListByResource(ctx context.Context, resourceType, resourceID string) ([]*model.AuditLogModel, error) {
	if s.auditRepo == nil {
		return nil, nil
	}
	return s.auditRepo.FindByResource(ctx, resourceType, resourceID)
}
