package repository

import (
	"context"
	"errors"
	"fmt"

	"QueueFM/model"

	"gorm.io/gorm"
)

// SnapshotRepository 房间快照数据访问接口
type SnapshotRepository interface {
	Save(ctx context.Context, snap *model.Snapshot) error
	Load(ctx context.Context, roomID string) (*model.Snapshot, error)
	Delete(ctx context.Context, roomID string) error
	List(ctx context.Context) ([]string, error)
}

// gormSnapshotRepository GORM 实现
type gormSnapshotRepository struct {
	db *gorm.DB
}

// NewGormSnapshotRepository 创建 GORM 快照仓库
func NewGormSnapshotRepository(db *gorm.DB) SnapshotRepository {
	return &gormSnapshotRepository{db: db}
}

// Save 覆盖保存快照：旧的队列项整体替换
func (r *gormSnapshotRepository) Save(ctx context.Context, snap *model.Snapshot) error {
	row := snap.ToRecord().ToRow()
	items := row.Items
	row.Items = nil

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(row).Error; err != nil {
			return fmt.Errorf("save snapshot %s: %w", row.RoomID, err)
		}
		if err := tx.Where("room_id = ?", row.RoomID).Delete(&model.QueueSnapshotItem{}).Error; err != nil {
			return fmt.Errorf("clear snapshot items %s: %w", row.RoomID, err)
		}
		if len(items) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(items, 100).Error; err != nil {
			return fmt.Errorf("save snapshot items %s: %w", row.RoomID, err)
		}
		return nil
	})
}

// Load 读取快照，不存在时返回 nil, nil
func (r *gormSnapshotRepository) Load(ctx context.Context, roomID string) (*model.Snapshot, error) {
	var row model.QueueSnapshot
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		Where("room_id = ?", roomID).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot %s: %w", roomID, err)
	}
	return row.ToRecord().ToSnapshot(), nil
}

// Delete 删除快照及其队列项
func (r *gormSnapshotRepository) Delete(ctx context.Context, roomID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("room_id = ?", roomID).Delete(&model.QueueSnapshotItem{}).Error; err != nil {
			return err
		}
		return tx.Where("room_id = ?", roomID).Delete(&model.QueueSnapshot{}).Error
	})
}

// List 列出所有保存了快照的房间
func (r *gormSnapshotRepository) List(ctx context.Context) ([]string, error) {
	var rooms []string
	err := r.db.WithContext(ctx).
		Model(&model.QueueSnapshot{}).
		Order("room_id ASC").
		Pluck("room_id", &rooms).Error
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return rooms, nil
}
