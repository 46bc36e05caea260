package cmd_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/mautops/record-gin/cmd"
	"github.com/mautops/record-gin/pkg/template"
	"github.com/mautops/record-gin/pkg/template/templatetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfig 生成使用 SQLite 文件库与请求头认证的配置文件
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	content := "database:\n" +
		"  driver: sqlite\n" +
		"  path: " + filepath.Join(dir, "records.db") + "\n" +
		"auth:\n" +
		"  mode: header\n" +
		"sla:\n" +
		"  enabled: false\n" +
		"log:\n" +
		"  level: error\n" +
		"  output: stdout\n"
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// TestCommands_Registered 测试子命令已注册
func TestCommands_Registered(t *testing.T) {
	root := cmd.GetRootCmd()
	assert.Equal(t, "record-gin", root.Use)

	for _, args := range [][]string{
		{"server"},
		{"migrate"},
		{"template", "export"},
		{"template", "import"},
		{"records", "export"},
	} {
		found, _, err := root.Find(args)
		require.NoError(t, err, args)
		assert.Equal(t, args[len(args)-1], found.Name())
	}
}

// TestMigrateCommand 测试 migrate 命令在 SQLite 上建表
func TestMigrateCommand(t *testing.T) {
	configPath := writeConfig(t)

	root := cmd.GetRootCmd()
	root.SetArgs([]string{"migrate", "--config", configPath})
	require.NoError(t, root.Execute())

	_, err := os.Stat(filepath.Join(filepath.Dir(configPath), "records.db"))
	assert.NoError(t, err)
}

// TestTemplateCommands_ImportExport 测试模板导入后可再次导出
func TestTemplateCommands_ImportExport(t *testing.T) {
	configPath := writeConfig(t)
	dir := filepath.Dir(configPath)

	in := filepath.Join(dir, "in.yaml")
	f, err := os.Create(in)
	require.NoError(t, err)
	require.NoError(t, template.EncodeAll(f, []*template.Template{templatetest.InternalAudit()}))
	require.NoError(t, f.Close())

	root := cmd.GetRootCmd()
	root.SetArgs([]string{"template", "import", "--config", configPath, "--org", "org-1", "--file", in})
	require.NoError(t, root.Execute())

	out := filepath.Join(dir, "out.yaml")
	root.SetArgs([]string{"template", "export", "--config", configPath, "--org", "org-1", "--out", out})
	require.NoError(t, root.Execute())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	exported, err := template.DecodeAll(bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, exported, 1)
	assert.Equal(t, "AUD", exported[0].Code)
}

// TestTemplateImport_MissingFile 测试缺少 --file 参数时报错
func TestTemplateImport_MissingFile(t *testing.T) {
	root := cmd.GetRootCmd()
	root.SetArgs([]string{"template", "import", "--config", writeConfig(t), "--file", ""})
	assert.Error(t, root.Execute())
}
