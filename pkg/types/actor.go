package types

// RoleAdmin 全局管理员角色
const RoleAdmin = "admin"

// Actor 调用者身份,由身份提供方注入,本模块只做授权
type Actor struct {
	ID             string   `json:"id"`
	OrganizationID string   `json:"organization_id"`
	Roles          []string `json:"roles"`
}

// HasRole 扁平角色判定: actorRoles 与 required 交集非空
// 所有受控操作都使用该函数,不做层级展开
func HasRole(actorRoles []string, required []string) bool {
	if len(actorRoles) == 0 || len(required) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(actorRoles))
	for _, r := range actorRoles {
		set[r] = struct{}{}
	}
	for _, r := range required {
		if _, ok := set[r]; ok {
			return true
		}
	}
	return false
}

// Permits 可选权限集判定: 未配置(空)表示不限制,否则等同 HasRole
func Permits(actorRoles []string, required []string) bool {
	if len(required) == 0 {
		return true
	}
	return HasRole(actorRoles, required)
}

// IsAdmin 判断是否持有全局管理员角色
func (a *Actor) IsAdmin() bool {
	if a == nil {
		return false
	}
	return HasRole(a.Roles, []string{RoleAdmin})
}
