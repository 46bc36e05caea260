package container_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/mautops/record-gin/internal/config"
	"github.com/mautops/record-gin/internal/container"
	"github.com/mautops/record-gin/internal/database/databasetest"
	"github.com/mautops/record-gin/pkg/template/templatetest"
	"github.com/mautops/record-gin/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Auth.Mode = "header"
	cfg.Auth.TemplateAdmins = []string{"template_manager"}
	cfg.Storage.Bucket = ""
	return cfg
}

// TestContainer_Build 测试组装依赖并完成一次创建流程
func TestContainer_Build(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.Redis.Addr = mr.Addr()
	cfg.Numbering.Backend = "redis"

	c, err := container.Build(context.Background(), cfg, databasetest.Open(t), nil)
	require.NoError(t, err)
	defer c.Close()

	assert.NotNil(t, c.Redis())
	assert.NotNil(t, c.AuthMiddleware())
	assert.NotNil(t, c.SLAMonitor())
	assert.Equal(t, cfg, c.Config())

	ctx := context.Background()
	designer := &types.Actor{ID: "designer", OrganizationID: "org-1", Roles: []string{"template_manager"}}
	tpl, err := c.TemplateService().Create(ctx, designer, templatetest.InternalAudit())
	require.NoError(t, err)

	auditor := &types.Actor{ID: "alice", OrganizationID: "org-1", Roles: []string{templatetest.RoleAuditor}}
	r, err := c.RecordService().Create(ctx, auditor, tpl.ID, map[string]interface{}{"title": "Container audit"})
	require.NoError(t, err)
	assert.Contains(t, r.Code, "AUD-")

	// 编号计数器保存在 Redis
	assert.NotEmpty(t, mr.Keys())

	stats, err := c.StatisticsService().ByTemplate(ctx, auditor)
	require.NoError(t, err)
	require.Len(t, stats, 1)
}

// TestContainer_Build_Errors 测试配置错误时组装失败
func TestContainer_Build_Errors(t *testing.T) {
	cfg := testConfig()
	cfg.Numbering.Backend = "redis"
	cfg.Redis.Addr = ""
	_, err := container.Build(context.Background(), cfg, databasetest.Open(t), nil)
	assert.Error(t, err)

	cfg = testConfig()
	cfg.Auth.Mode = "keycloak"
	cfg.Auth.PublicKey = "not a pem"
	_, err = container.Build(context.Background(), cfg, databasetest.Open(t), nil)
	assert.Error(t, err)
}

// TestContainer_StartBackground 测试后台任务启动与关闭
func TestContainer_StartBackground(t *testing.T) {
	cfg := testConfig()
	cfg.SLA.Enabled = true
	cfg.SLA.Schedule = "@every 1h"

	c, err := container.Build(context.Background(), cfg, databasetest.Open(t), nil)
	require.NoError(t, err)
	require.NoError(t, c.StartBackground(context.Background()))
	assert.NoError(t, c.Close())
}
