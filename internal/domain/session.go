package domain

import "time"

// Session 登录会话，每个操作显式携带
type Session struct {
	Token     string    `json:"token"`
	AccountID string    `json:"accountId"`
	Role      Role      `json:"role"`
	ExpiresAt time.Time `json:"expiresAt"`
}
