package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mautops/record-gin/internal/service"
	"github.com/mautops/record-gin/internal/utils"
	"github.com/mautops/record-gin/pkg/statemachine"
	"github.com/mautops/record-gin/pkg/template"
)

// 导入文件大小上限
const maxImportSize = 4 << 20

// TemplateController 模板控制器
type TemplateController struct {
	templateService service.TemplateService
	recordService   service.RecordService
}

// NewTemplateController 创建模板控制器
func NewTemplateController(templateService service.TemplateService, recordService service.RecordService) *TemplateController {
	return &TemplateController{
		templateService: templateService,
		recordService:   recordService,
	}
}

// ReorderStatesRequest 调整状态顺序请求
type ReorderStatesRequest struct {
	StateIDs []string `json:"state_ids" binding:"required"`
}

// Create 创建模板
func (c *TemplateController) Create(ctx *gin.Context) {
	actor, ok := actorOf(ctx)
	if !ok {
		return
	}
	var def template.Template
	if err := ctx.ShouldBindJSON(&def); err != nil {
		BadRequest(ctx, err)
		return
	}
	def.Name = utils.CleanText(def.Name)
	def.Description = utils.CleanText(def.Description)

	tpl, err := c.templateService.Create(ctx.Request.Context(), actor, &def)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Created(ctx, tpl)
}

// List 查询模板列表
func (c *TemplateController) List(ctx *gin.Context) {
	actor, ok := actorOf(ctx)
	if !ok {
		return
	}
	page, ok := queryInt(ctx, "page", 1)
	if !ok {
		return
	}
	pageSize, ok := queryInt(ctx, "page_size", utils.DefaultPageSize)
	if !ok {
		return
	}
	active, ok := queryBool(ctx, "active")
	if !ok {
		return
	}

	resp, err := c.templateService.List(ctx.Request.Context(), actor, &service.TemplateListFilter{
		Page:     page,
		PageSize: pageSize,
		Search:   ctx.Query("search"),
		Active:   active,
		SortBy:   ctx.Query("sort_by"),
		Order:    ctx.Query("order"),
	})
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Paginated(ctx, resp.Data, PaginationInfo(resp.Pagination))
}

// Get 获取模板,支持 version 查询参数
func (c *TemplateController) Get(ctx *gin.Context) {
	actor, ok := actorOf(ctx)
	if !ok {
		return
	}
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	version, ok := queryInt(ctx, "version", 0)
	if !ok {
		return
	}

	tpl, err := c.templateService.Get(ctx.Request.Context(), actor, id, version)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, tpl)
}

// Update 以完整定义更新模板,产生新版本
func (c *TemplateController) Update(ctx *gin.Context) {
	actor, ok := actorOf(ctx)
	if !ok {
		return
	}
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	var def template.Template
	if err := ctx.ShouldBindJSON(&def); err != nil {
		BadRequest(ctx, err)
		return
	}
	def.Name = utils.CleanText(def.Name)
	def.Description = utils.CleanText(def.Description)

	tpl, err := c.templateService.Update(ctx.Request.Context(), actor, id, &def)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, tpl)
}

// Delete 删除模板
func (c *TemplateController) Delete(ctx *gin.Context) {
	actor, ok := actorOf(ctx)
	if !ok {
		return
	}
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	if err := c.templateService.Delete(ctx.Request.Context(), actor, id); err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, gin.H{"id": id})
}

// Validate 校验模板草稿,不保存
func (c *TemplateController) Validate(ctx *gin.Context) {
	if _, ok := actorOf(ctx); !ok {
		return
	}
	var def template.Template
	if err := ctx.ShouldBindJSON(&def); err != nil {
		BadRequest(ctx, err)
		return
	}
	violations := c.templateService.Validate(&def)
	Success(ctx, gin.H{
		"valid":      len(violations) == 0,
		"violations": violations,
	})
}

// Clone 复制模板
func (c *TemplateController) Clone(ctx *gin.Context) {
	actor, ok := actorOf(ctx)
	if !ok {
		return
	}
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	tpl, err := c.templateService.Clone(ctx.Request.Context(), actor, id)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Created(ctx, tpl)
}

// ToggleActive 切换启用状态
func (c *TemplateController) ToggleActive(ctx *gin.Context) {
	actor, ok := actorOf(ctx)
	if !ok {
		return
	}
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	tpl, err := c.templateService.ToggleActive(ctx.Request.Context(), actor, id)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, tpl)
}

// Preview 各状态的有效字段
func (c *TemplateController) Preview(ctx *gin.Context) {
	actor, ok := actorOf(ctx)
	if !ok {
		return
	}
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	version, ok := queryInt(ctx, "version", 0)
	if !ok {
		return
	}
	schema, err := c.templateService.Preview(ctx.Request.Context(), actor, id, version)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, schema)
}

// ListVersions 列出版本
func (c *TemplateController) ListVersions(ctx *gin.Context) {
	actor, ok := actorOf(ctx)
	if !ok {
		return
	}
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	versions, err := c.templateService.ListVersions(ctx.Request.Context(), actor, id)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, versions)
}

// History 模板历史
func (c *TemplateController) History(ctx *gin.Context) {
	actor, ok := actorOf(ctx)
	if !ok {
		return
	}
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	entries, err := c.templateService.History(ctx.Request.Context(), actor, id)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, entries)
}

// AddState 新增状态
func (c *TemplateController) AddState(ctx *gin.Context) {
	actor, ok := actorOf(ctx)
	if !ok {
		return
	}
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	var state statemachine.State
	if err := ctx.ShouldBindJSON(&state); err != nil {
		BadRequest(ctx, err)
		return
	}
	tpl, err := c.templateService.AddState(ctx.Request.Context(), actor, id, &state)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, tpl)
}

// UpdateState 修改状态
func (c *TemplateController) UpdateState(ctx *gin.Context) {
	actor, ok := actorOf(ctx)
	if !ok {
		return
	}
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	stateID, ok := pathID(ctx, "stateId")
	if !ok {
		return
	}
	var state statemachine.State
	if err := ctx.ShouldBindJSON(&state); err != nil {
		BadRequest(ctx, err)
		return
	}
	tpl, err := c.templateService.UpdateState(ctx.Request.Context(), actor, id, stateID, &state)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, tpl)
}

// RemoveState 删除状态
func (c *TemplateController) RemoveState(ctx *gin.Context) {
	actor, ok := actorOf(ctx)
	if !ok {
		return
	}
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	stateID, ok := pathID(ctx, "stateId")
	if !ok {
		return
	}
	tpl, err := c.templateService.RemoveState(ctx.Request.Context(), actor, id, stateID)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, tpl)
}

// ReorderStates 调整状态顺序
func (c *TemplateController) ReorderStates(ctx *gin.Context) {
	actor, ok := actorOf(ctx)
	if !ok {
		return
	}
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	var req ReorderStatesRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		BadRequest(ctx, err)
		return
	}
	tpl, err := c.templateService.ReorderStates(ctx.Request.Context(), actor, id, req.StateIDs)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, tpl)
}

// Export 导出单个模板为 YAML
func (c *TemplateController) Export(ctx *gin.Context) {
	actor, ok := actorOf(ctx)
	if !ok {
		return
	}
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	var buf bytes.Buffer
	if _, err := c.templateService.Export(ctx.Request.Context(), actor, []string{id}, &buf); err != nil {
		HandleError(ctx, err)
		return
	}
	ctx.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+".yaml"))
	ctx.Data(http.StatusOK, "application/yaml", buf.Bytes())
}

// Import 导入 YAML 模板,请求体为一个或多个 YAML 文档
func (c *TemplateController) Import(ctx *gin.Context) {
	actor, ok := actorOf(ctx)
	if !ok {
		return
	}
	body := http.MaxBytesReader(ctx.Writer, ctx.Request.Body, maxImportSize)
	templates, err := c.templateService.Import(ctx.Request.Context(), actor, body)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, templates)
}

// Board 看板视图
func (c *TemplateController) Board(ctx *gin.Context) {
	actor, ok := actorOf(ctx)
	if !ok {
		return
	}
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	limit, ok := queryInt(ctx, "limit", utils.DefaultPageSize)
	if !ok {
		return
	}
	board, err := c.recordService.Board(ctx.Request.Context(), actor, id, limit)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, board)
}

// ExportRecords 导出模板下的记录为 CSV
func (c *TemplateController) ExportRecords(ctx *gin.Context) {
	actor, ok := actorOf(ctx)
	if !ok {
		return
	}
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	var buf bytes.Buffer
	if _, err := c.recordService.Export(ctx.Request.Context(), actor, id, &buf); err != nil {
		HandleError(ctx, err)
		return
	}
	ctx.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+"-records.csv"))
	ctx.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}
