package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout 账目日期格式
const DateLayout = "2006-01-02"

// Recite 账目条目（对应 recites 表）
// ItemNumber 在 (PatientID, Date) 分区内分配，创建后不可变，删除后不重排
type Recite struct {
	ReciteID    string          `json:"id"`
	ItemNumber  int             `json:"itemNumber"`
	ItemName    string          `json:"itemName"`
	ItemAmount  int             `json:"itemAmount"`
	ItemPrice   decimal.Decimal `json:"itemPrice"`
	Date        string          `json:"date"` // YYYY-MM-DD
	CaretakerID string          `json:"caretakerId"`
	PatientID   string          `json:"patientId"`
	Timestamp   time.Time       `json:"timestamp"`
}

// LineTotal 数量 × 单价（2 位小数）
func (r Recite) LineTotal() decimal.Decimal {
	return r.ItemPrice.Mul(decimal.NewFromInt(int64(r.ItemAmount))).Round(2)
}

// RecitePatch 账目部分更新：不包含 ItemNumber / Date
type RecitePatch struct {
	ItemName   *string          `json:"itemName,omitempty"`
	ItemAmount *int             `json:"itemAmount,omitempty"`
	ItemPrice  *decimal.Decimal `json:"itemPrice,omitempty"`
}

// Empty 是否没有任何字段
func (p RecitePatch) Empty() bool {
	return p.ItemName == nil && p.ItemAmount == nil && p.ItemPrice == nil
}

// Apply 将补丁应用到条目副本上
func (p RecitePatch) Apply(r Recite) Recite {
	if p.ItemName != nil {
		r.ItemName = *p.ItemName
	}
	if p.ItemAmount != nil {
		r.ItemAmount = *p.ItemAmount
	}
	if p.ItemPrice != nil {
		r.ItemPrice = *p.ItemPrice
	}
	return r
}

// DayTotal 当日合计
func DayTotal(recites []Recite) decimal.Decimal {
	total := decimal.Zero
	for _, r := range recites {
		total = total.Add(r.LineTotal())
	}
	return total.Round(2)
}
