package record

import (
	"time"

	"github.com/mautops/record-gin/pkg/types"
)

// Record 模板的一个运行实例
type Record struct {
	ID              string                 `json:"id"`
	Code            string                 `json:"code"`
	TemplateID      string                 `json:"template_id"`
	TemplateVersion int                    `json:"template_version"` // 创建时的模板版本快照
	OrganizationID  string                 `json:"organization_id"`
	StateID         string                 `json:"state_id"`
	Values          map[string]interface{} `json:"values"`
	History         []types.HistoryEntry   `json:"history,omitempty"`
	Comments        []Comment              `json:"comments,omitempty"`
	Attachments     []Attachment           `json:"attachments,omitempty"`
	Checklist       []ChecklistItem        `json:"checklist,omitempty"`
	Locked          bool                   `json:"locked"`
	Revision        int                    `json:"revision"` // 乐观并发版本号
	StateEnteredAt  time.Time              `json:"state_entered_at"`
	DueAt           *time.Time             `json:"due_at,omitempty"`
	AlertAt         *time.Time             `json:"alert_at,omitempty"`
	SLAAlertSentAt  *time.Time             `json:"sla_alert_sent_at,omitempty"`
	SLABreachedAt   *time.Time             `json:"sla_breached_at,omitempty"`
	ArchivedAt      *time.Time             `json:"archived_at,omitempty"`
	CreatedBy       string                 `json:"created_by"`
	UpdatedBy       string                 `json:"updated_by"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

// Comment 记录评论
type Comment struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Attachment 附件元数据,文件内容由文件存储保存
type Attachment struct {
	ID          string    `json:"id"`
	FileName    string    `json:"file_name"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type,omitempty"`
	StorageRef  string    `json:"storage_ref"`
	FieldCode   string    `json:"field_code,omitempty"` // 关联的文件/图片字段
	UploadedBy  string    `json:"uploaded_by"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// ChecklistItem 检查项
type ChecklistItem struct {
	ID     string     `json:"id"`
	Label  string     `json:"label"`
	Done   bool       `json:"done"`
	DoneBy string     `json:"done_by,omitempty"`
	DoneAt *time.Time `json:"done_at,omitempty"`
}

// Archived 是否已归档
func (r *Record) Archived() bool {
	return r.ArchivedAt != nil
}

// Clone 深拷贝记录
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Values = copyValues(r.Values)
	c.History = append([]types.HistoryEntry(nil), r.History...)
	c.Comments = append([]Comment(nil), r.Comments...)
	c.Attachments = append([]Attachment(nil), r.Attachments...)
	c.Checklist = append([]ChecklistItem(nil), r.Checklist...)
	return &c
}

// appendHistory 追加历史条目,序号连续递增
func (r *Record) appendHistory(entry types.HistoryEntry) {
	entry.Sequence = len(r.History) + 1
	r.History = append(r.History, entry)
}

func copyValues(values map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}
