package template

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Diff 以 YAML 文本逐行比较两个模板定义,返回 +/- 前缀的变更行
// 只比较结构与配置,不包含 ID、版本与审计字段
func Diff(before, after *Template) (string, error) {
	oldText, err := diffText(before)
	if err != nil {
		return "", err
	}
	newText, err := diffText(after)
	if err != nil {
		return "", err
	}
	if oldText == newText {
		return "", nil
	}

	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(oldText, newText)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lines)

	var sb strings.Builder
	for _, d := range diffs {
		var marker string
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			marker = "+ "
		case diffmatchpatch.DiffDelete:
			marker = "- "
		default:
			continue
		}
		for _, line := range strings.Split(strings.TrimSuffix(d.Text, "\n"), "\n") {
			sb.WriteString(marker)
			sb.WriteString(line)
			sb.WriteByte('\n')
		}
	}
	return sb.String(), nil
}

func diffText(t *Template) (string, error) {
	if t == nil {
		return "", nil
	}
	c := t.Clone()
	c.ID = ""
	c.Version = 0
	data, err := MarshalYAML(c)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
