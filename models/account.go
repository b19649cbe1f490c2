package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/parts_backend/config"
	"bitbucket.org/mmdatafocus/parts_backend/utils"
)

// Account is a funding target owned by the chart-of-accounts collaborator.
// The invoice core only references it when allocating payment legs.
type Account struct {
	ID         int          `gorm:"primary_key" json:"id"`
	BusinessId string       `gorm:"index;size:64;not null" json:"business_id"`
	Name       string       `gorm:"size:100;not null" json:"name"`
	Class      AccountClass `gorm:"type:enum('bank','cash');not null" json:"class"`
	CreatedAt  time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewAccount struct {
	Name  string       `json:"name" binding:"required"`
	Class AccountClass `json:"class" binding:"required,oneof=bank cash"`
}

func CreateAccount(ctx context.Context, input *NewAccount) (*Account, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	account := Account{
		BusinessId: businessId,
		Name:       input.Name,
		Class:      input.Class,
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

func GetAccount(ctx context.Context, businessId string, accountId int) (*Account, error) {
	var account Account
	db := config.GetDB()
	err := db.WithContext(ctx).
		Where("business_id = ? AND id = ?", businessId, accountId).
		First(&account).Error
	if err != nil {
		return nil, err
	}
	return &account, nil
}
