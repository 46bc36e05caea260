package template

import (
	"sort"
	"time"

	"github.com/mautops/record-gin/pkg/field"
	"github.com/mautops/record-gin/pkg/numbering"
	"github.com/mautops/record-gin/pkg/statemachine"
)

// Template 记录模板: 状态图 + 字段 + 编号与权限配置
type Template struct {
	ID             string                `json:"id" yaml:"id"`
	Code           string                `json:"code" yaml:"code"`
	Name           string                `json:"name" yaml:"name"`
	Description    string                `json:"description,omitempty" yaml:"description,omitempty"`
	OrganizationID string                `json:"organization_id" yaml:"organization_id"`
	Active         bool                  `json:"active" yaml:"active"`
	Deleted        bool                  `json:"deleted,omitempty" yaml:"-"`
	Fields         []*field.Field        `json:"fields,omitempty" yaml:"fields,omitempty"` // 模板级字段,所有状态可见
	States         []*statemachine.State `json:"states" yaml:"states"`
	Config         Config                `json:"config" yaml:"config"`
	Permissions    Permissions           `json:"permissions" yaml:"permissions"`
	Version        int                   `json:"version" yaml:"version"`
	CreatedBy      string                `json:"created_by,omitempty" yaml:"-"`
	UpdatedBy      string                `json:"updated_by,omitempty" yaml:"-"`
	CreatedAt      time.Time             `json:"created_at" yaml:"-"`
	UpdatedAt      time.Time             `json:"updated_at" yaml:"-"`
}

// Config 模板行为配置
type Config struct {
	Numbering         numbering.Config `json:"numbering" yaml:"numbering"`
	EnableComments    bool             `json:"enable_comments" yaml:"enable_comments"`
	EnableAttachments bool             `json:"enable_attachments" yaml:"enable_attachments"`
	EnableChecklist   bool             `json:"enable_checklist" yaml:"enable_checklist"`
	Checklist         []string         `json:"checklist,omitempty" yaml:"checklist,omitempty"`                     // 新记录的默认检查项
	MaxAttachmentSize int64            `json:"max_attachment_size,omitempty" yaml:"max_attachment_size,omitempty"` // 字节,0 使用全局上限
	AllowedExtensions []string         `json:"allowed_extensions,omitempty" yaml:"allowed_extensions,omitempty"`   // 为空使用全局白名单
	Webhooks          []Webhook        `json:"webhooks,omitempty" yaml:"webhooks,omitempty"`
}

// Webhook 通知回调配置
type Webhook struct {
	URL    string   `json:"url" yaml:"url"`
	Events []string `json:"events,omitempty" yaml:"events,omitempty"` // 为空表示订阅全部事件
	Secret string   `json:"secret,omitempty" yaml:"secret,omitempty"`
}

// Subscribed 判断回调是否订阅了事件
func (w Webhook) Subscribed(event string) bool {
	if len(w.Events) == 0 {
		return true
	}
	for _, e := range w.Events {
		if e == event {
			return true
		}
	}
	return false
}

// Permissions 模板级权限,空集合表示不限制
type Permissions struct {
	View   []string `json:"view,omitempty" yaml:"view,omitempty"`
	Create []string `json:"create,omitempty" yaml:"create,omitempty"`
	Edit   []string `json:"edit,omitempty" yaml:"edit,omitempty"`
	Delete []string `json:"delete,omitempty" yaml:"delete,omitempty"`
	Export []string `json:"export,omitempty" yaml:"export,omitempty"`
	Import []string `json:"import,omitempty" yaml:"import,omitempty"`
	Admin  []string `json:"admin,omitempty" yaml:"admin,omitempty"` // 可锁定/解锁记录
}

// State 按 ID 查找状态
func (t *Template) State(id string) *statemachine.State {
	return statemachine.Find(t.States, id)
}

// InitialState 返回初始状态
func (t *Template) InitialState() *statemachine.State {
	return statemachine.Initial(t.States)
}

// EffectiveFields 返回某状态下的有效字段: 模板级 ∪ 状态级,按表单顺序
func (t *Template) EffectiveFields(stateID string) []*field.Field {
	s := t.State(stateID)
	if s == nil {
		return field.Effective(t.Fields, nil)
	}
	return field.Effective(t.Fields, s.Fields)
}

// AllFields 返回模板中声明的全部字段
func (t *Template) AllFields() []*field.Field {
	out := append([]*field.Field(nil), t.Fields...)
	for _, s := range t.States {
		if s != nil {
			out = append(out, s.Fields...)
		}
	}
	return out
}

// OrderedStates 按 Order 排序的状态副本
func (t *Template) OrderedStates() []*statemachine.State {
	out := make([]*statemachine.State, 0, len(t.States))
	for _, s := range t.States {
		if s != nil {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Order < out[j].Order
	})
	return out
}

// Clone 深拷贝模板,副本与原模板之后的修改互不影响
func (t *Template) Clone() *Template {
	if t == nil {
		return nil
	}
	c := *t
	c.Fields = field.CloneAll(t.Fields)
	if t.States != nil {
		c.States = make([]*statemachine.State, len(t.States))
		for i, s := range t.States {
			c.States[i] = s.Clone()
		}
	}
	c.Config.Checklist = append([]string(nil), t.Config.Checklist...)
	c.Config.AllowedExtensions = append([]string(nil), t.Config.AllowedExtensions...)
	if t.Config.Webhooks != nil {
		c.Config.Webhooks = make([]Webhook, len(t.Config.Webhooks))
		for i, w := range t.Config.Webhooks {
			w.Events = append([]string(nil), w.Events...)
			c.Config.Webhooks[i] = w
		}
	}
	c.Permissions = Permissions{
		View:   append([]string(nil), t.Permissions.View...),
		Create: append([]string(nil), t.Permissions.Create...),
		Edit:   append([]string(nil), t.Permissions.Edit...),
		Delete: append([]string(nil), t.Permissions.Delete...),
		Export: append([]string(nil), t.Permissions.Export...),
		Import: append([]string(nil), t.Permissions.Import...),
		Admin:  append([]string(nil), t.Permissions.Admin...),
	}
	return &c
}
