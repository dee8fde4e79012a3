package mysql

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// globalScope 不区分队列的开关
const globalScope = ""

// Flag 动态开关表
type Flag struct {
	Name      string    `gorm:"column:name;primaryKey;size:128"`
	Scope     string    `gorm:"column:scope;primaryKey;size:128"` // 队列名，全局开关为空
	Value     string    `gorm:"column:value;type:text"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

// TableName 表名
func (Flag) TableName() string {
	return "dpjob_flags"
}

// FlagStore 基于 MySQL 的动态开关
type FlagStore struct {
	db *gorm.DB
}

// NewFlagStore 创建 FlagStore
func NewFlagStore(dsn string) (*FlagStore, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return NewFlagStoreFromDB(db), nil
}

// NewFlagStoreFromDB 使用已有连接
func NewFlagStoreFromDB(db *gorm.DB) *FlagStore {
	return &FlagStore{db: db}
}

// GetJSONString 开关不存在时返回空字符串
func (s *FlagStore) GetJSONString(ctx context.Context, flag string) (string, error) {
	f, err := s.get(ctx, flag, globalScope)
	if err != nil || f == nil {
		return "", err
	}
	return f.Value, nil
}

// GetInt 开关不存在时返回 0
func (s *FlagStore) GetInt(ctx context.Context, flag string, queue string) (int, error) {
	f, err := s.get(ctx, flag, queue)
	if err != nil || f == nil {
		return 0, err
	}

	n, err := strconv.Atoi(strings.TrimSpace(f.Value))
	if err != nil {
		return 0, fmt.Errorf("flag %s/%s is not an integer: %q", flag, queue, f.Value)
	}
	return n, nil
}

func (s *FlagStore) get(ctx context.Context, flag string, scope string) (*Flag, error) {
	var f Flag
	err := s.db.WithContext(ctx).
		Where("name = ? AND scope = ?", flag, scope).
		Take(&f).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query flag %s: %w", flag, err)
	}
	return &f, nil
}
