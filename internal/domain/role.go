package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownRole 存储的角色字符串无法识别
var ErrUnknownRole = errors.New("unknown role")

// Role 账号角色（封闭枚举：Admin / Caretaker / Patient）
// 数据库中以字符串存储，读出时立即解析为 Role，消费方对三种取值做穷举处理
type Role int

const (
	RoleAdmin Role = iota + 1
	RoleCaretaker
	RolePatient
)

// ParseRole 解析存储的角色字符串，未知角色返回错误
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "admin":
		return RoleAdmin, nil
	case "caretaker":
		return RoleCaretaker, nil
	case "patient":
		return RolePatient, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
}

func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "admin"
	case RoleCaretaker:
		return "caretaker"
	case RolePatient:
		return "patient"
	default:
		return "unknown"
	}
}

// Valid 是否为已定义的角色
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleCaretaker || r == RolePatient
}

// HomePath 登录后的首页路由
func (r Role) HomePath() string {
	switch r {
	case RoleAdmin:
		return "/admin/accounts"
	case RoleCaretaker:
		return "/care/tasks"
	case RolePatient:
		return "/patient/tasks"
	default:
		return "/login"
	}
}

func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid role %d", int(r))
	}
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
