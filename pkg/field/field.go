package field

// Type 字段类型,固定枚举
type Type string

const (
	TypeText      Type = "text"
	TypeLongText  Type = "long_text"
	TypeNumber    Type = "number"
	TypeDate      Type = "date"
	TypeSelect    Type = "select"
	TypeBoolean   Type = "boolean"
	TypeUser      Type = "user"
	TypeEmail     Type = "email"
	TypePhone     Type = "phone"
	TypeURL       Type = "url"
	TypeFile      Type = "file"
	TypeImage     Type = "image"
	TypeRating    Type = "rating"
	TypeToggle    Type = "toggle"
	TypeSeparator Type = "separator"
)

var knownTypes = map[Type]bool{
	TypeText: true, TypeLongText: true, TypeNumber: true, TypeDate: true,
	TypeSelect: true, TypeBoolean: true, TypeUser: true, TypeEmail: true,
	TypePhone: true, TypeURL: true, TypeFile: true, TypeImage: true,
	TypeRating: true, TypeToggle: true, TypeSeparator: true,
}

// Valid 判断类型是否属于枚举
func (t Type) Valid() bool {
	return knownTypes[t]
}

// IsData 分隔符等非数据字段不承载值
func (t Type) IsData() bool {
	return t != TypeSeparator
}

// IsBoolean 布尔类字段缺省为 false
func (t Type) IsBoolean() bool {
	return t == TypeBoolean || t == TypeToggle
}

// IsAttachment 文件类字段,值为存储引用
func (t Type) IsAttachment() bool {
	return t == TypeFile || t == TypeImage
}

// RuleType 校验规则类型
type RuleType string

const (
	RuleMinLength RuleType = "min_length"
	RuleMaxLength RuleType = "max_length"
	RuleMin       RuleType = "min"
	RuleMax       RuleType = "max"
	RulePattern   RuleType = "pattern"
)

// Rule 字段校验规则
type Rule struct {
	Type    RuleType `json:"type" yaml:"type"`
	Value   string   `json:"value" yaml:"value"`
	Message string   `json:"message,omitempty" yaml:"message,omitempty"`
}

// Option 下拉选项
type Option struct {
	Value string `json:"value" yaml:"value"`
	Label string `json:"label,omitempty" yaml:"label,omitempty"`
	Color string `json:"color,omitempty" yaml:"color,omitempty"`
}

// Field 动态字段定义,作用域为整个模板或单个状态
type Field struct {
	ID           string      `json:"id" yaml:"id"`
	Code         string      `json:"code" yaml:"code"`
	Label        string      `json:"label" yaml:"label"`
	Description  string      `json:"description,omitempty" yaml:"description,omitempty"`
	Type         Type        `json:"type" yaml:"type"`
	Required     bool        `json:"required" yaml:"required"`
	ReadOnly     bool        `json:"read_only" yaml:"read_only"`
	ShowInCard   bool        `json:"show_in_card" yaml:"show_in_card"`
	FormOrder    int         `json:"form_order" yaml:"form_order"`
	CardOrder    int         `json:"card_order" yaml:"card_order"`
	Rules        []Rule      `json:"rules,omitempty" yaml:"rules,omitempty"`
	Options      []Option    `json:"options,omitempty" yaml:"options,omitempty"`
	ViewRoles    []string    `json:"view_roles,omitempty" yaml:"view_roles,omitempty"`
	EditRoles    []string    `json:"edit_roles,omitempty" yaml:"edit_roles,omitempty"`
	DefaultValue interface{} `json:"default_value,omitempty" yaml:"default_value,omitempty"`
	Placeholder  string      `json:"placeholder,omitempty" yaml:"placeholder,omitempty"`
	HelpText     string      `json:"help_text,omitempty" yaml:"help_text,omitempty"`
	Group        string      `json:"group,omitempty" yaml:"group,omitempty"`
}

// Clone 深拷贝字段定义
func (f *Field) Clone() *Field {
	if f == nil {
		return nil
	}
	c := *f
	c.Rules = append([]Rule(nil), f.Rules...)
	c.Options = append([]Option(nil), f.Options...)
	c.ViewRoles = append([]string(nil), f.ViewRoles...)
	c.EditRoles = append([]string(nil), f.EditRoles...)
	return &c
}

// CloneAll 深拷贝字段列表
func CloneAll(fields []*Field) []*Field {
	if fields == nil {
		return nil
	}
	out := make([]*Field, len(fields))
	for i, f := range fields {
		out[i] = f.Clone()
	}
	return out
}

// Index 按编码建立索引
func Index(fields []*Field) map[string]*Field {
	idx := make(map[string]*Field, len(fields))
	for _, f := range fields {
		if f != nil {
			idx[f.Code] = f
		}
	}
	return idx
}
