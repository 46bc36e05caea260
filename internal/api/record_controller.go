package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mautops/record-gin/internal/service"
	"github.com/mautops/record-gin/internal/utils"
	"github.com/mautops/record-gin/pkg/record"
)

// RecordController 记录控制器
type RecordController struct {
	recordService service.RecordService
	maxUpload     int64
}

// NewRecordController 创建记录控制器,maxUpload 为单个附件请求体上限
func NewRecordController(recordService service.RecordService, maxUpload int64) *RecordController {
	if maxUpload <= 0 {
		maxUpload = 10 << 20
	}
	return &RecordController{recordService: recordService, maxUpload: maxUpload}
}

// CreateRecordRequest 创建记录请求
type CreateRecordRequest struct {
	TemplateID string                 `json:"template_id" binding:"required"`
	Values     map[string]interface{} `json:"values"`
}

// UpdateRecordRequest 修改字段值请求
type UpdateRecordRequest struct {
	Values map[string]interface{} `json:"values" binding:"required"`
}

// TransitionRequest 状态迁移请求
type TransitionRequest struct {
	TargetStateID string                 `json:"target_state_id" binding:"required"`
	Values        map[string]interface{} `json:"values"`
	Note          string                 `json:"note"`
}

// CommentRequest 评论请求
type CommentRequest struct {
	Text string `json:"text" binding:"required"`
}

// ChecklistRequest 检查项修改请求
type ChecklistRequest struct {
	Items []record.ChecklistUpdate `json:"items" binding:"required"`
}

// ToggleLockRequest 锁定切换请求
type ToggleLockRequest struct {
	Note string `json:"note"`
}

// Create 创建记录
func (c *RecordController) Create(ctx *gin.Context) {
	actor, ok := actorOf(ctx)
	if !ok {
		return
	}
	var req CreateRecordRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		BadRequest(ctx, err)
		return
	}
	if err := utils.ValidateID("template_id", req.TemplateID); err != nil {
		HandleError(ctx, err)
		return
	}

	r, err := c.recordService.Create(ctx.Request.Context(), actor, req.TemplateID, req.Values)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Created(ctx, r)
}

// List 查询记录列表
func (c *RecordController) List(ctx *gin.Context) {
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
	locked, ok := queryBool(ctx, "locked")
	if !ok {
		return
	}

	resp, err := c.recordService.List(ctx.Request.Context(), actor, &service.RecordListFilter{
		Page:       page,
		PageSize:   pageSize,
		TemplateID: ctx.Query("template_id"),
		StateID:    ctx.Query("state_id"),
		CreatedBy:  ctx.Query("created_by"),
		Locked:     locked,
		Search:     ctx.Query("search"),
		SortBy:     ctx.Query("sort_by"),
		Order:      ctx.Query("order"),
	})
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Paginated(ctx, resp.Data, PaginationInfo(resp.Pagination))
}

// Get 获取记录
func (c *RecordController) Get(ctx *gin.Context) {
	actor, ok := actorOf(ctx)
	if !ok {
		return
	}
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	r, err := c.recordService.Get(ctx.Request.Context(), actor, id)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, r)
}

// Update 修改字段值
func (c *RecordController) Update(ctx *gin.Context) {
	actor, ok := actorOf(ctx)
	if !ok {
		return
	}
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	var req UpdateRecordRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		BadRequest(ctx, err)
		return
	}
	r, err := c.recordService.UpdateValues(ctx.Request.Context(), actor, id, req.Values)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, r)
}

// Archive 归档记录
func (c *RecordController) Archive(ctx *gin.Context) {
	actor, ok := actorOf(ctx)
	if !ok {
		return
	}
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	if err := c.recordService.Archive(ctx.Request.Context(), actor, id); err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, gin.H{"id": id})
}

// Transition 状态迁移
func (c *RecordController) Transition(ctx *gin.Context) {
	actor, ok := actorOf(ctx)
	if !ok {
		return
	}
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	var req TransitionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		BadRequest(ctx, err)
		return
	}
	r, err := c.recordService.Transition(ctx.Request.Context(), actor, id, req.TargetStateID, req.Values, utils.CleanText(req.Note))
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, r)
}

// NextStates 可执行的迁移目标
func (c *RecordController) NextStates(ctx *gin.Context) {
	actor, ok := actorOf(ctx)
	if !ok {
		return
	}
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	states, err := c.recordService.NextStates(ctx.Request.Context(), actor, id)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, states)
}

// AddComment 追加评论
func (c *RecordController) AddComment(ctx *gin.Context) {
	actor, ok := actorOf(ctx)
	if !ok {
		return
	}
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	var req CommentRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		BadRequest(ctx, err)
		return
	}
	comment, err := c.recordService.AddComment(ctx.Request.Context(), actor, id, utils.CleanText(req.Text))
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Created(ctx, comment)
}

// UploadAttachment 上传附件,multipart 字段 file,可选字段 field_code
func (c *RecordController) UploadAttachment(ctx *gin.Context) {
	actor, ok := actorOf(ctx)
	if !ok {
		return
	}
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}

	ctx.Request.Body = http.MaxBytesReader(ctx.Writer, ctx.Request.Body, c.maxUpload)
	header, err := ctx.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(ctx, http.StatusRequestEntityTooLarge, "file too large", err.Error())
			return
		}
		BadRequest(ctx, err)
		return
	}
	file, err := header.Open()
	if err != nil {
		BadRequest(ctx, err)
		return
	}
	defer file.Close()

	att, err := c.recordService.UploadAttachment(ctx.Request.Context(), actor, id, record.AttachmentRequest{
		FileName:    header.Filename,
		Size:        header.Size,
		ContentType: header.Header.Get("Content-Type"),
		FieldCode:   ctx.PostForm("field_code"),
	}, file)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Created(ctx, att)
}

// UpdateChecklist 修改检查项
func (c *RecordController) UpdateChecklist(ctx *gin.Context) {
	actor, ok := actorOf(ctx)
	if !ok {
		return
	}
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	var req ChecklistRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		BadRequest(ctx, err)
		return
	}
	r, err := c.recordService.UpdateChecklist(ctx.Request.Context(), actor, id, req.Items)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, r)
}

// ToggleLock 锁定或解锁
func (c *RecordController) ToggleLock(ctx *gin.Context) {
	actor, ok := actorOf(ctx)
	if !ok {
		return
	}
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	var req ToggleLockRequest
	if ctx.Request.ContentLength > 0 {
		if err := ctx.ShouldBindJSON(&req); err != nil {
			BadRequest(ctx, err)
			return
		}
	}
	r, err := c.recordService.ToggleLock(ctx.Request.Context(), actor, id, utils.CleanText(req.Note))
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, r)
}

// Clone 复制记录
func (c *RecordController) Clone(ctx *gin.Context) {
	actor, ok := actorOf(ctx)
	if !ok {
		return
	}
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	r, err := c.recordService.Clone(ctx.Request.Context(), actor, id)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Created(ctx, r)
}

// History 记录历史
func (c *RecordController) History(ctx *gin.Context) {
	actor, ok := actorOf(ctx)
	if !ok {
		return
	}
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	entries, err := c.recordService.History(ctx.Request.Context(), actor, id)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, entries)
}
