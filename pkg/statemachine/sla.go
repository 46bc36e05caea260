package statemachine

import (
	"fmt"
	"time"

	"github.com/mautops/record-gin/pkg/types"
)

// SLAConfig 状态停留时限配置
type SLAConfig struct {
	MaxDays         int      `json:"max_days" yaml:"max_days"`                     // 最长停留天数,0 表示不限
	AlertDays       int      `json:"alert_days" yaml:"alert_days"`                 // 到期前多少天预警
	ExcludeWeekends bool     `json:"exclude_weekends" yaml:"exclude_weekends"`     // 只计工作日
	Holidays        []string `json:"holidays,omitempty" yaml:"holidays,omitempty"` // 额外排除的日期 YYYY-MM-DD
}

const holidayLayout = "2006-01-02"

// MaxSLADays 单个状态允许配置的最长停留天数
const MaxSLADays = 3650

func (c *SLAConfig) validate(path string) []types.Violation {
	var vs []types.Violation
	if c.MaxDays < 0 {
		vs = append(vs, types.Violation{Field: path + ".max_days", Rule: "min", Message: "max_days must not be negative"})
	}
	if c.MaxDays > MaxSLADays {
		vs = append(vs, types.Violation{Field: path + ".max_days", Rule: "max", Message: fmt.Sprintf("max_days must not exceed %d", MaxSLADays)})
	}
	if c.AlertDays < 0 {
		vs = append(vs, types.Violation{Field: path + ".alert_days", Rule: "min", Message: "alert_days must not be negative"})
	}
	if c.MaxDays > 0 && c.AlertDays > c.MaxDays {
		vs = append(vs, types.Violation{Field: path + ".alert_days", Rule: "max", Message: "alert_days must not exceed max_days"})
	}
	for _, h := range c.Holidays {
		if _, err := time.Parse(holidayLayout, h); err != nil {
			vs = append(vs, types.Violation{Field: path + ".holidays", Rule: "type", Message: "holiday " + h + " is not a YYYY-MM-DD date"})
		}
	}
	return vs
}

// Deadlines 根据进入状态的时间计算到期与预警时间
// ok 为 false 表示该状态没有时限
func (c *SLAConfig) Deadlines(entered time.Time) (due time.Time, alert time.Time, ok bool) {
	if c == nil || c.MaxDays <= 0 {
		return time.Time{}, time.Time{}, false
	}
	maxDays := c.MaxDays
	if maxDays > MaxSLADays {
		maxDays = MaxSLADays
	}
	due = c.addDays(entered, maxDays)
	if c.AlertDays > 0 && c.AlertDays <= maxDays {
		alert = c.addDays(entered, maxDays-c.AlertDays)
	}
	return due, alert, true
}

// addDays 从 start 开始累加 n 个计数日,跳过周末与节假日
func (c *SLAConfig) addDays(start time.Time, n int) time.Time {
	if !c.ExcludeWeekends && len(c.Holidays) == 0 {
		return start.AddDate(0, 0, n)
	}
	holidays := make(map[string]struct{}, len(c.Holidays))
	for _, h := range c.Holidays {
		holidays[h] = struct{}{}
	}
	t := start
	for counted := 0; counted < n; {
		t = t.AddDate(0, 0, 1)
		if c.excluded(t, holidays) {
			continue
		}
		counted++
	}
	return t
}

func (c *SLAConfig) excluded(t time.Time, holidays map[string]struct{}) bool {
	if c.ExcludeWeekends {
		if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
			return true
		}
	}
	_, ok := holidays[t.Format(holidayLayout)]
	return ok
}
