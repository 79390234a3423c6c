package bulk

import (
	"encoding/json"
	"fmt"
	"time"
)

// StorageItem is the persisted unit of the bulk tier, one record per key.
// Overwrites replace the whole item.
type StorageItem struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	Timestamp int64           `json:"timestamp"` // unix milliseconds of the last write
}

// NewStorageItem wraps a JSON value into an item written at t.
func NewStorageItem(key string, value []byte, t time.Time) StorageItem {
	return StorageItem{
		Key:       key,
		Value:     json.RawMessage(value),
		Timestamp: t.UnixMilli(),
	}
}

// Encode serializes the item. It fails if the value is not valid JSON.
func (i StorageItem) Encode() ([]byte, error) {
	data, err := json.Marshal(i)
	if err != nil {
		return nil, fmt.Errorf("bulk: encode item %q: %w", i.Key, err)
	}
	return data, nil
}

// DecodeStorageItem parses a record written by Encode.
func DecodeStorageItem(record []byte) (StorageItem, error) {
	var item StorageItem
	if err := json.Unmarshal(record, &item); err != nil {
		return StorageItem{}, fmt.Errorf("bulk: decode item: %w", err)
	}
	return item, nil
}

// WrittenAt returns the write time of the item.
func (i StorageItem) WrittenAt() time.Time {
	return time.UnixMilli(i.Timestamp)
}
