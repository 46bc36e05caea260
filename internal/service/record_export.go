package service

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/mautops/record-gin/internal/repository"
	"github.com/mautops/record-gin/internal/utils"
	"github.com/mautops/record-gin/pkg/field"
	"github.com/mautops/record-gin/pkg/record"
	"github.com/mautops/record-gin/pkg/template"
	"github.com/mautops/record-gin/pkg/types"
	"github.com/shopspring/decimal"
)

// 固定导出列
var exportBaseHeader = []string{"code", "state", "locked", "created_by", "created_at", "updated_at"}

// Export 将模板下的记录导出为 CSV
// 列为固定列加模板当前版本中调用者可查看的数据字段
func (s *recordService) Export(ctx context.Context, actor *types.Actor, templateID string, w io.Writer) (int, error) {
	tpl, err := s.templateSvc.Get(ctx, actor, templateID, 0)
	if err != nil {
		return 0, err
	}
	if !record.CanAdminister(tpl, actor) && !types.HasRole(actor.Roles, tpl.Permissions.Export) {
		return 0, types.PermissionDeniedf("roles cannot export records of template %s", tpl.Code)
	}

	// 1. 表头
	columns := exportColumns(tpl, actor)
	header := append([]string(nil), exportBaseHeader...)
	for _, f := range columns {
		header = append(header, f.Code)
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return 0, err
	}

	// 2. 分页写出记录
	stateNames := make(map[string]string, len(tpl.States))
	for _, st := range tpl.States {
		if st != nil {
			stateNames[st.ID] = st.Name
		}
	}
	n := 0
	for offset := 0; ; offset += utils.MaxPageSize {
		records, total, err := s.recordMgr.List(ctx, repository.RecordFilter{
			OrganizationID: actor.OrganizationID,
			TemplateID:     tpl.ID,
			SortBy:         "created_at",
			Order:          "ASC",
			Offset:         offset,
			Limit:          utils.MaxPageSize,
		})
		if err != nil {
			return n, err
		}
		for _, r := range records {
			if err := cw.Write(exportRow(r, stateNames, columns)); err != nil {
				return n, err
			}
			n++
		}
		if len(records) == 0 || int64(offset+len(records)) >= total {
			break
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return n, err
	}
	s.audit(ctx, actor, "export", tpl.ID, map[string]interface{}{"records": n})
	return n, nil
}

// exportColumns 所有状态中出现过的数据字段,按表单顺序
func exportColumns(tpl *template.Template, actor *types.Actor) []*field.Field {
	admin := record.CanAdminister(tpl, actor)
	var out []*field.Field
	seen := make(map[string]bool)
	for _, f := range tpl.AllFields() {
		if f == nil || !f.Type.IsData() || seen[f.Code] {
			continue
		}
		seen[f.Code] = true
		if !admin && !types.Permits(actor.Roles, f.ViewRoles) {
			continue
		}
		out = append(out, f)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].FormOrder < out[j].FormOrder })
	return out
}

func exportRow(r *record.Record, stateNames map[string]string, columns []*field.Field) []string {
	state := stateNames[r.StateID]
	if state == "" {
		state = r.StateID
	}
	row := []string{
		r.Code,
		state,
		fmt.Sprint(r.Locked),
		r.CreatedBy,
		r.CreatedAt.UTC().Format(time.RFC3339),
		r.UpdatedAt.UTC().Format(time.RFC3339),
	}
	for _, f := range columns {
		row = append(row, exportValue(f, r.Values[f.Code]))
	}
	return row
}

// exportValue 字段值转为单元格文本
func exportValue(f *field.Field, v interface{}) string {
	if v == nil {
		return ""
	}
	if f.Type.IsAttachment() {
		return field.AttachmentRef(v)
	}
	switch val := v.(type) {
	case string:
		return val
	case []interface{}:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, fmt.Sprint(item))
		}
		return strings.Join(parts, ";")
	case float64:
		return decimal.NewFromFloat(val).String()
	default:
		return fmt.Sprint(val)
	}
}
