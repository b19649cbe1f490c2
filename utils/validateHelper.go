package utils

import (
	"context"
	"reflect"
	"strings"

	"bitbucket.org/mmdatafocus/parts_backend/config"
)

func GetTypeName[T any]() string {
	var model T
	t := reflect.TypeOf(model)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

func ResourceCountWhere[T any](ctx context.Context, businessId string, cond string, values ...interface{}) (int64, error) {
	var model T
	var count int64
	db := config.GetDB()
	err := db.WithContext(ctx).Model(&model).
		Where("business_id = ?", businessId).
		Where(cond, values...).
		Count(&count).Error
	return count, err
}

// ValidateResourceId checks the id exists within the caller's business.
func ValidateResourceId[T any](ctx context.Context, businessId string, id interface{}) error {

	count, err := ResourceCountWhere[T](ctx, businessId, "id = ?", id)
	if err != nil {
		return err
	}
	if count <= 0 {
		return ErrorRecordNotFound
	}

	return nil
}

func ValidateUnique[T any](ctx context.Context, businessId string, column string, value interface{}) error {
	count, err := ResourceCountWhere[T](ctx, businessId, column+" = ?", value)
	if err != nil {
		return err
	}
	if count > 0 {
		return &DuplicateValueError{Column: column}
	}
	return nil
}

type DuplicateValueError struct {
	Column string
}

func (e *DuplicateValueError) Error() string {
	return strings.ReplaceAll(e.Column, "_", " ") + " already exists"
}
