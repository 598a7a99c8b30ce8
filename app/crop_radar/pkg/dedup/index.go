package dedup

import (
	"context"
	"fmt"
	"sync"

	"github.com/iWorld-y/crop_radar/app/crop_radar/pkg/model"
)

// RecordLister 能列出全部已入库记录的存储
type RecordLister interface {
	ListRecords(ctx context.Context) ([]model.ClassifiedRecord, error)
}

// Index 已接收文章的身份集合。
// Insert 是 compare-and-insert 操作，插入后对同一运行内的后续 Contains 立即可见。
type Index struct {
	mu    sync.RWMutex
	items map[Identity]struct{}
}

// NewIndex 创建空索引
func NewIndex() *Index {
	return &Index{items: make(map[Identity]struct{})}
}

// Contains 判断身份是否已存在，不修改索引
func (i *Index) Contains(id Identity) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()

	_, ok := i.items[id]
	return ok
}

// Insert 记录身份；已存在时不做任何事并返回 false
func (i *Index) Insert(id Identity) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	if _, ok := i.items[id]; ok {
		return false
	}
	i.items[id] = struct{}{}
	return true
}

// Len 当前身份数量
func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.items)
}

// WarmStart 用存储中的全部记录预热索引，返回新增的身份数量。
// 进程没有其他跨运行记忆，任何读取错误都必须中止本次运行。
func (i *Index) WarmStart(ctx context.Context, lister RecordLister) (int, error) {
	records, err := lister.ListRecords(ctx)
	if err != nil {
		return 0, fmt.Errorf("list stored records: %w", err)
	}

	added := 0
	for _, rec := range records {
		if i.Insert(FromRecord(rec)) {
			added++
		}
	}
	return added, nil
}
