package record

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mautops/record-gin/pkg/field"
	"github.com/mautops/record-gin/pkg/template"
	"github.com/mautops/record-gin/pkg/types"
)

// AttachmentLimits 全局附件限制,模板未配置时使用
type AttachmentLimits struct {
	MaxSize           int64
	AllowedExtensions []string
}

// AttachmentRequest 待上传附件的元数据
type AttachmentRequest struct {
	FileName    string
	Size        int64
	ContentType string
	FieldCode   string
}

// PrepareAttachment 在文件交给存储之前检查权限、大小与扩展名
// 返回待补充 StorageRef 的附件元数据
func (r *Record) PrepareAttachment(t *template.Template, req AttachmentRequest, limits AttachmentLimits, actor *types.Actor, now time.Time) (*Attachment, error) {
	if r.Locked {
		return nil, types.Lockedf("record %s is locked", r.Code)
	}
	if !t.Config.EnableAttachments {
		return nil, types.Conflictf("attachments are disabled for template %s", t.Code)
	}
	state := t.State(r.StateID)
	if state == nil {
		return nil, types.NotFoundf("state %q of record %s", r.StateID, r.Code)
	}
	if err := r.checkEdit(t, state, actor); err != nil {
		return nil, err
	}

	// 1. 关联字段必须是当前有效字段集中的文件类字段
	if req.FieldCode != "" {
		f, ok := field.Index(t.EffectiveFields(state.ID))[req.FieldCode]
		if !ok {
			return nil, types.NotFoundf("field %q in state %q", req.FieldCode, state.ID)
		}
		if !f.Type.IsAttachment() {
			return nil, types.NewValidationError([]types.Violation{{Field: req.FieldCode, Rule: "type", Message: "field does not accept files"}})
		}
		if !types.Permits(actor.Roles, f.EditRoles) || f.ReadOnly {
			return nil, types.PermissionDeniedf("roles cannot edit field %s", req.FieldCode)
		}
	}

	// 2. 大小与扩展名
	maxSize := t.Config.MaxAttachmentSize
	if maxSize <= 0 {
		maxSize = limits.MaxSize
	}
	allowed := t.Config.AllowedExtensions
	if len(allowed) == 0 {
		allowed = limits.AllowedExtensions
	}

	var vs []types.Violation
	name := filepath.Base(strings.TrimSpace(req.FileName))
	if name == "" || name == "." || name == string(filepath.Separator) {
		vs = append(vs, types.Violation{Field: "file_name", Rule: "required", Message: "file name is required"})
	}
	if req.Size <= 0 {
		vs = append(vs, types.Violation{Field: "size", Rule: "min", Message: "file is empty"})
	} else if maxSize > 0 && req.Size > maxSize {
		vs = append(vs, types.Violation{Field: "size", Rule: "max", Message: fmt.Sprintf("file exceeds the %d byte limit", maxSize)})
	}
	if ext := strings.ToLower(filepath.Ext(name)); len(allowed) > 0 && !extensionAllowed(ext, allowed) {
		vs = append(vs, types.Violation{Field: "file_name", Rule: "extension", Message: fmt.Sprintf("extension %q is not allowed", ext)})
	}
	if err := types.NewValidationError(vs); err != nil {
		return nil, err
	}

	return &Attachment{
		ID:          uuid.New().String(),
		FileName:    name,
		Size:        req.Size,
		ContentType: req.ContentType,
		FieldCode:   req.FieldCode,
		UploadedBy:  actor.ID,
		UploadedAt:  now,
	}, nil
}

// Attach 存储成功后登记附件,关联字段的值指向存储引用
func (r *Record) Attach(a *Attachment) {
	r.Attachments = append(r.Attachments, *a)
	if a.FieldCode != "" {
		if r.Values == nil {
			r.Values = map[string]interface{}{}
		}
		r.Values[a.FieldCode] = map[string]interface{}{
			"ref":  a.StorageRef,
			"name": a.FileName,
			"size": a.Size,
		}
	}
	r.UpdatedBy = a.UploadedBy
	r.UpdatedAt = a.UploadedAt
}

func extensionAllowed(ext string, allowed []string) bool {
	for _, a := range allowed {
		a = strings.ToLower(strings.TrimSpace(a))
		if !strings.HasPrefix(a, ".") {
			a = "." + a
		}
		if a == ext {
			return true
		}
	}
	return false
}
