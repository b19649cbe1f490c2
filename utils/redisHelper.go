package utils

import (
	"context"
	"strings"
	"sync"

	"bitbucket.org/mmdatafocus/parts_backend/config"
)

var mutex sync.Mutex

// GetSequence hands out the next per-business sequence number for model T.
// The counter lives in redis; on a cold counter it is seeded from the DB max.
// The uniqueness re-check closes the gap where redis was flushed while the
// DB kept moving.
func GetSequence[T any](ctx context.Context, businessId string) (int64, error) {
	var model T
	mutex.Lock()
	defer mutex.Unlock()
	cacheKey := businessId + "-" + strings.ToLower(GetTypeName[T]()) + "_seq"
	var seqNo int64
	var err error
	db := config.GetDB()

	for {
		seqNo, err = config.GetRedisCounter(ctx, cacheKey)
		if err != nil {
			return 0, err
		}
		// if not found in redis, seed from db
		if seqNo <= 1 {
			var dbSeq *int64
			if err := db.WithContext(ctx).Model(&model).Select("max(sequence_no)").
				Where("business_id = ?", businessId).
				Scan(&dbSeq).Error; err != nil {
				return 0, err
			}
			if dbSeq == nil {
				seqNo = 0
			} else {
				seqNo = *dbSeq
			}
			seqNo++
			if err := config.SetRedisObject(cacheKey, &seqNo, 0); err != nil {
				return 0, err
			}
		}
		err = ValidateUnique[T](ctx, businessId, "sequence_no", seqNo)
		if err == nil {
			break
		}
	}

	return seqNo, nil
}
