package common

import (
	"gorm.io/gorm"
)

// NotDeleted 过滤已软删除的记录
// 使用方法：db.Scopes(common.NotDeleted()).Find(&agents)
func NotDeleted() func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("deleted_at IS NULL")
	}
}

// ByOwner 按所属用户过滤
func ByOwner(userID string) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("user_id = ?", userID)
	}
}

// Paginate 应用分页
func Paginate(req PaginationRequest) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Offset(req.GetOffset()).Limit(req.GetPageSize())
	}
}
