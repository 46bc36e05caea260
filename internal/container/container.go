package container

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/mautops/record-gin/internal/auth"
	"github.com/mautops/record-gin/internal/config"
	"github.com/mautops/record-gin/internal/database"
	"github.com/mautops/record-gin/internal/integration"
	"github.com/mautops/record-gin/internal/metrics"
	"github.com/mautops/record-gin/internal/repository"
	"github.com/mautops/record-gin/internal/service"
	"github.com/mautops/record-gin/internal/storage"
	"github.com/mautops/record-gin/pkg/numbering"
	"github.com/mautops/record-gin/pkg/record"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Container 依赖注入容器
// 管理所有应用依赖,包括数据库、服务、客户端等
type Container struct {
	cfg    *config.Config
	logger *logrus.Logger

	db          *gorm.DB
	redis       *redis.Client
	templateMgr integration.TemplateManager
	recordMgr   integration.RecordManager
	notifier    integration.Notifier
	fileStorage storage.FileStorage

	auditLogSvc   service.AuditLogService
	templateSvc   service.TemplateService
	recordSvc     service.RecordService
	statisticsSvc service.StatisticsService
	slaMonitor    *service.SLAMonitor
	collector     *metrics.Collector

	authMiddleware gin.HandlerFunc
	started        bool
}

// NewContainer 创建依赖注入容器
// 根据配置初始化所有依赖组件
func NewContainer(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*Container, error) {
	// 1. 初始化数据库（带重试机制）
	// 默认重试 3 次，初始间隔 1 秒，指数退避
	db, err := database.ConnectWithRetry(cfg.Database, 3, time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// 执行数据库迁移
	if err := database.Migrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	c, err := Build(ctx, cfg, db, logger)
	if err != nil {
		if sqlDB, derr := db.DB(); derr == nil {
			sqlDB.Close()
		}
		return nil, err
	}
	return c, nil
}

// Build 基于已连接的数据库组装其余依赖
func Build(ctx context.Context, cfg *config.Config, db *gorm.DB, logger *logrus.Logger) (*Container, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	c := &Container{cfg: cfg, logger: logger, db: db}

	// 1. Redis（配置了地址时）
	if cfg.Redis.Addr != "" {
		c.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	// 2. 编号分配器
	var allocator numbering.Allocator
	switch cfg.Numbering.Backend {
	case "redis":
		if c.redis == nil {
			return nil, fmt.Errorf("numbering backend redis requires redis.addr")
		}
		allocator = integration.NewRedisSequenceAllocator(c.redis, cfg.Redis.Prefix)
	default:
		allocator = integration.NewSequenceAllocator(db)
	}
	numberingSvc := numbering.NewService(allocator, cfg.Numbering.DefaultPadding)

	// 3. 持久化与通知
	c.templateMgr = integration.NewTemplateManager(db)
	c.recordMgr = integration.NewRecordManager(db, logger.WithField("component", "record_manager"))
	c.notifier = integration.NewEventHandler(db, c.templateMgr, integration.NotifierOptions{
		Workers:    cfg.Notification.Workers,
		QueueSize:  cfg.Notification.QueueSize,
		MaxRetries: cfg.Notification.MaxRetries,
		Timeout:    time.Duration(cfg.Notification.WebhookTimeout) * time.Second,
	}, logger.WithField("component", "notifier"))

	// 4. 附件存储,未配置 bucket 时使用内存存储
	if cfg.Storage.Bucket != "" {
		s3, err := storage.NewS3Storage(ctx, cfg.Storage)
		if err != nil {
			c.notifier.Stop()
			return nil, fmt.Errorf("failed to initialize file storage: %w", err)
		}
		c.fileStorage = s3
	} else {
		logger.Warn("storage.bucket not set, attachments are kept in memory")
		c.fileStorage = storage.NewMemoryStorage()
	}

	// 5. 服务
	c.auditLogSvc = service.NewAuditLogService(repository.NewAuditLogRepository(db), logger.WithField("component", "audit"))
	c.templateSvc = service.NewTemplateService(c.templateMgr, c.auditLogSvc, service.TemplateServiceOptions{
		ManagerRoles: cfg.Auth.TemplateAdmins,
		CacheTTL:     time.Duration(cfg.Cache.TemplateTTL) * time.Second,
	}, logger.WithField("component", "template_service"))
	c.recordSvc = service.NewRecordService(c.recordMgr, c.templateSvc, numberingSvc, c.fileStorage, c.notifier, c.auditLogSvc, service.RecordServiceOptions{
		NumberingBackend: cfg.Numbering.Backend,
		AttachmentLimits: record.AttachmentLimits{
			MaxSize:           cfg.Storage.MaxAttachmentSize,
			AllowedExtensions: cfg.Storage.AllowedExtensions,
		},
		StorageKeyPrefix: cfg.Storage.KeyPrefix,
	}, logger.WithField("component", "record_service"))
	c.statisticsSvc = service.NewStatisticsService(db)
	c.slaMonitor = service.NewSLAMonitor(repository.NewRecordRepository(db), c.notifier, service.SLAMonitorConfig{
		Schedule:  cfg.SLA.Schedule,
		BatchSize: cfg.SLA.BatchSize,
	}, logger.WithField("component", "sla_monitor"))
	c.collector = metrics.NewCollector(db, time.Minute)

	// 6. 身份认证
	switch cfg.Auth.Mode {
	case "header":
		c.authMiddleware = auth.HeaderAuthMiddleware()
	default:
		validator, err := auth.NewKeycloakTokenValidator(cfg.Auth.Issuer, cfg.Auth.JWKSURL, cfg.Auth.PublicKey)
		if err != nil {
			c.notifier.Stop()
			return nil, fmt.Errorf("failed to initialize token validator: %w", err)
		}
		c.authMiddleware = auth.KeycloakAuthMiddleware(validator)
	}

	return c, nil
}

// StartBackground 启动 SLA 监控与指标收集
func (c *Container) StartBackground(ctx context.Context) error {
	if c.cfg.SLA.Enabled {
		if err := c.slaMonitor.Start(ctx); err != nil {
			return err
		}
	}
	c.collector.Start()
	c.started = true
	return nil
}

// Config 获取配置
func (c *Container) Config() *config.Config {
	return c.cfg
}

// DB 获取数据库连接
func (c *Container) DB() *gorm.DB {
	return c.db
}

// Redis 获取 Redis 客户端,未配置时为 nil
func (c *Container) Redis() redis.Cmdable {
	if c.redis == nil {
		return nil
	}
	return c.redis
}

// TemplateService 获取模板服务
func (c *Container) TemplateService() service.TemplateService {
	return c.templateSvc
}

// RecordService 获取记录服务
func (c *Container) RecordService() service.RecordService {
	return c.recordSvc
}

// StatisticsService 获取统计服务
func (c *Container) StatisticsService() service.StatisticsService {
	return c.statisticsSvc
}

// SLAMonitor 获取 SLA 监控
func (c *Container) SLAMonitor() *service.SLAMonitor {
	return c.slaMonitor
}

// AuthMiddleware 获取认证中间件
func (c *Container) AuthMiddleware() gin.HandlerFunc {
	return c.authMiddleware
}

// Close 关闭容器,清理资源
func (c *Container) Close() error {
	if c.started {
		c.slaMonitor.Stop()
		c.collector.Stop()
	}
	if c.notifier != nil {
		c.notifier.Stop()
	}
	if c.redis != nil {
		c.redis.Close()
	}
	if c.db != nil {
		sqlDB, err := c.db.DB()
		if err == nil {
			sqlDB.Close()
		}
	}
	return nil
}
