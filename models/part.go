package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/parts_backend/config"
	"bitbucket.org/mmdatafocus/parts_backend/utils"
	"github.com/shopspring/decimal"
)

// Part is master data owned by an external collaborator. The invoice core
// only reads it to snapshot the chosen price tier and description at
// creation time; prices are never re-derived afterwards.
type Part struct {
	ID          int             `gorm:"primary_key" json:"id"`
	BusinessId  string          `gorm:"index;size:64;not null;uniqueIndex:idx_part_no" json:"business_id"`
	PartNo      string          `gorm:"size:100;not null;uniqueIndex:idx_part_no" json:"part_no"`
	Description string          `gorm:"size:255" json:"description"`
	PriceA      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"price_a"`
	PriceB      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"price_b"`
	PriceM      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"price_m"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewPart struct {
	PartNo      string          `json:"part_no" binding:"required"`
	Description string          `json:"description"`
	PriceA      decimal.Decimal `json:"price_a"`
	PriceB      decimal.Decimal `json:"price_b"`
	PriceM      decimal.Decimal `json:"price_m"`
}

// Price returns the tier price snapshot used at invoice creation.
func (p *Part) Price(tier PriceTier) decimal.Decimal {
	switch tier {
	case PriceTierA:
		return p.PriceA
	case PriceTierB:
		return p.PriceB
	case PriceTierM:
		return p.PriceM
	}
	return decimal.Zero
}

func CreatePart(ctx context.Context, input *NewPart) (*Part, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if err := utils.ValidateUnique[Part](ctx, businessId, "part_no", input.PartNo); err != nil {
		return nil, err
	}

	part := Part{
		BusinessId:  businessId,
		PartNo:      input.PartNo,
		Description: input.Description,
		PriceA:      input.PriceA,
		PriceB:      input.PriceB,
		PriceM:      input.PriceM,
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&part).Error; err != nil {
		return nil, err
	}
	return &part, nil
}

func GetPart(ctx context.Context, businessId string, partId int) (*Part, error) {
	var part Part
	db := config.GetDB()
	err := db.WithContext(ctx).
		Where("business_id = ? AND id = ?", businessId, partId).
		First(&part).Error
	if err != nil {
		return nil, err
	}
	return &part, nil
}
