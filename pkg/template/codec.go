package template

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/mautops/record-gin/pkg/types"
	"gopkg.in/yaml.v3"
)

const (
	// DocumentAPIVersion 导出文件格式版本
	DocumentAPIVersion = "record-gin/v1"
	// DocumentKind 导出文件类型
	DocumentKind = "RecordTemplate"
)

// Document 模板导入导出的 YAML 文档
type Document struct {
	APIVersion string    `yaml:"apiVersion"`
	Kind       string    `yaml:"kind"`
	Template   *Template `yaml:"template"`
}

// MarshalYAML 将单个模板编码为 YAML 文档
func MarshalYAML(t *Template) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodeAll(&buf, []*Template{t}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalYAML 解码单个模板文档
func UnmarshalYAML(data []byte) (*Template, error) {
	list, err := DecodeAll(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if len(list) != 1 {
		return nil, types.NewValidationError([]types.Violation{{Field: "document", Rule: "required", Message: fmt.Sprintf("expected one template document, found %d", len(list))}})
	}
	return list[0], nil
}

// EncodeAll 以多文档流写出模板
func EncodeAll(w io.Writer, templates []*Template) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	for _, t := range templates {
		doc := Document{APIVersion: DocumentAPIVersion, Kind: DocumentKind, Template: t}
		if err := enc.Encode(&doc); err != nil {
			return fmt.Errorf("failed to encode template %s: %w", t.Code, err)
		}
	}
	return enc.Close()
}

// DecodeAll 读取多文档流中的全部模板
func DecodeAll(r io.Reader) ([]*Template, error) {
	dec := yaml.NewDecoder(r)
	var out []*Template
	for i := 0; ; i++ {
		var doc Document
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode template document %d: %w", i, err)
		}
		if doc.Kind != DocumentKind || doc.Template == nil {
			return nil, types.NewValidationError([]types.Violation{{
				Field:   fmt.Sprintf("documents[%d].kind", i),
				Rule:    "options",
				Message: fmt.Sprintf("expected kind %s with a template body", DocumentKind),
			}})
		}
		out = append(out, doc.Template)
	}
	return out, nil
}
