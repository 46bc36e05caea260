package database_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/mautops/record-gin/internal/config"
	"github.com/mautops/record-gin/internal/database"
	"github.com/mautops/record-gin/internal/database/databasetest"
	"github.com/mautops/record-gin/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestBuildDSN 测试 PostgreSQL DSN 拼接
func TestBuildDSN(t *testing.T) {
	dsn := database.BuildDSN(config.DatabaseConfig{
		Host: "db", Port: 5433, User: "u", Password: "p", DBName: "records", SSLMode: "require",
	})
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=records sslmode=require", dsn)
}

// TestGetPoolConfig 测试默认连接池配置
func TestGetPoolConfig(t *testing.T) {
	pool := database.GetPoolConfig()
	assert.Equal(t, 10, pool.MaxIdleConns)
	assert.Equal(t, 100, pool.MaxOpenConns)
}

// TestOpen_UnsupportedDriver 测试不支持的驱动
func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := database.Open(config.DatabaseConfig{Driver: "mysql"})
	assert.Error(t, err)
}

// TestConnect_SQLite 测试 SQLite 连接、迁移与健康检查
func TestConnect_SQLite(t *testing.T) {
	cfg := config.DatabaseConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "records.db")}
	db, err := database.Connect(cfg)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	defer sqlDB.Close()

	// SQLite 固定单连接
	assert.Equal(t, 1, sqlDB.Stats().MaxOpenConnections)

	require.NoError(t, database.Migrate(db))
	// 迁移可重复执行
	require.NoError(t, database.Migrate(db))

	for _, m := range database.Models() {
		assert.True(t, db.Migrator().HasTable(m))
	}
	assert.True(t, db.Migrator().HasIndex(&model.RecordModel{}, "idx_records_template_code"))
	assert.True(t, db.Migrator().HasIndex(&model.HistoryModel{}, "idx_history_resource_seq"))

	assert.NoError(t, database.CheckHealth(context.Background(), db))
}

// TestCheckHealth_Nil 测试未初始化的数据库
func TestCheckHealth_Nil(t *testing.T) {
	assert.Error(t, database.CheckHealth(context.Background(), nil))
}

// TestOpen_TestHelper 测试测试辅助数据库已完成迁移
func TestOpen_TestHelper(t *testing.T) {
	db := databasetest.Open(t)
	assert.True(t, db.Migrator().HasTable(&model.SequenceModel{}))
	assert.NoError(t, database.CheckHealth(context.Background(), db))
}
