package store

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const newestFirst = "created_at DESC, id DESC"

// owned is the repository shape shared by every per-reader table: rows carry
// user_id and are never visible across readers.
type owned[M any] struct {
	db *gorm.DB
}

func newOwned[M any](db *gorm.DB) owned[M] {
	return owned[M]{db: db}
}

// list returns the reader's rows, newest first. conds are extra "column = ?"
// filters applied only when their value is non-empty.
func (o owned[M]) list(ctx context.Context, userID int64, conds map[string]string) ([]M, error) {
	tx := o.db.WithContext(ctx).Where("user_id = ?", userID)
	for column, value := range conds {
		if value != "" {
			tx = tx.Where(column+" = ?", value)
		}
	}
	var rows []M
	if err := tx.Order(newestFirst).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (o owned[M]) get(ctx context.Context, userID, id int64) (M, error) {
	var row M
	err := o.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return row, ErrNotFound
	}
	return row, err
}

func (o owned[M]) create(ctx context.Context, row *M) error {
	return o.db.WithContext(ctx).Create(row).Error
}

// update loads the row inside a transaction, applies fn and saves it back.
func (o owned[M]) update(ctx context.Context, userID, id int64, fn func(*M)) error {
	return o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row M
		err := tx.Where("id = ? AND user_id = ?", id, userID).First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		fn(&row)
		return tx.Save(&row).Error
	})
}

func (o owned[M]) delete(ctx context.Context, userID, id int64) error {
	res := o.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(new(M))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// upsert inserts row or, when keys collide, overwrites the given columns.
func (o owned[M]) upsert(ctx context.Context, row *M, keys []string, columns []string) error {
	conflict := make([]clause.Column, 0, len(keys))
	for _, key := range keys {
		conflict = append(conflict, clause.Column{Name: key})
	}
	return o.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   conflict,
		DoUpdates: clause.AssignmentColumns(columns),
	}).Create(row).Error
}
