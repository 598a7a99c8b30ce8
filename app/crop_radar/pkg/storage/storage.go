package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/iWorld-y/crop_radar/app/crop_radar/pkg/config"
	"github.com/iWorld-y/crop_radar/app/crop_radar/pkg/model"
)

// ErrDuplicateRecord 存储层发现同一身份的记录已存在，本次追加未写入
var ErrDuplicateRecord = errors.New("record already stored")

// Store 记录的追加式持久化，以及上次成功运行的水位线
type Store interface {
	// AppendRecord 追加一条记录；带唯一约束的实现在记录已存在时返回 ErrDuplicateRecord
	AppendRecord(ctx context.Context, rec model.ClassifiedRecord) error
	ListRecords(ctx context.Context) ([]model.ClassifiedRecord, error)
	// ReadWatermark 返回上次成功运行的结束时间；ok=false 表示从未成功运行过
	ReadWatermark(ctx context.Context) (t time.Time, ok bool, err error)
	WriteWatermark(ctx context.Context, t time.Time) error
	Close() error
}

const watermarkKey = "last_run"

// NewStore 根据配置创建存储
func NewStore(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "sheets":
		creds, err := loadCredentials(cfg.Sheets.CredentialsJSON)
		if err != nil {
			return nil, err
		}
		return NewSheetsStore(ctx, creds, cfg.Sheets)
	case "postgres", "sqlite":
		return NewSQLStore(ctx, cfg.Driver, cfg.DSN)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver: %s", cfg.Driver)
	}
}

// loadCredentials 支持直接传入 JSON 内容或 JSON 文件路径
func loadCredentials(v string) ([]byte, error) {
	v = strings.TrimSpace(v)
	if strings.HasPrefix(v, "{") {
		return []byte(v), nil
	}
	data, err := os.ReadFile(v)
	if err != nil {
		return nil, fmt.Errorf("read credentials file: %w", err)
	}
	return data, nil
}
