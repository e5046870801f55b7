package credits

import (
	"time"
)

// PlanType 订阅档位
type PlanType string

const (
	PlanFree     PlanType = "free"
	PlanStarter  PlanType = "starter"
	PlanPro      PlanType = "pro"
	PlanBusiness PlanType = "business"
)

// Valid 是否为已知档位
func (p PlanType) Valid() bool {
	switch p {
	case PlanFree, PlanStarter, PlanPro, PlanBusiness:
		return true
	}
	return false
}

// CreditBalance 用户积分余额，每个用户一行
type CreditBalance struct {
	ID                   string    `json:"id" gorm:"primaryKey;size:36"`
	UserID               string    `json:"userId" gorm:"size:64;not null;uniqueIndex:idx_credit_balance_user"`
	CreditsRemaining     int64     `json:"creditsRemaining" gorm:"not null;default:0"`
	CreditsUsedThisMonth int64     `json:"creditsUsedThisMonth" gorm:"not null;default:0"`
	PlanType             PlanType  `json:"planType" gorm:"size:20;not null;default:free"`
	PeriodStart          time.Time `json:"periodStart" gorm:"not null"` // 当前计费月起点（UTC）
	CreatedAt            time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt            time.Time `json:"updatedAt" gorm:"not null;autoUpdateTime"`
}

// TableName 表名
func (CreditBalance) TableName() string {
	return "credit_balances"
}

// monthStart 返回 t 所在月份的起点（UTC）
func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
