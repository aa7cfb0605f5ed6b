package persistence

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/erp/docsync/internal/domain/document"
)

// DocumentModel is the row backing one document. Data holds the field map
// as JSON.
type DocumentModel struct {
	CollectionPath string    `gorm:"primaryKey;size:255"`
	ID             string    `gorm:"primaryKey;size:255"`
	OwnerID        string    `gorm:"size:128;not null;index"`
	Data           string    `gorm:"type:text;not null"`
	CreatedAt      time.Time `gorm:"not null;autoCreateTime:false"`
	UpdatedAt      time.Time `gorm:"not null;autoUpdateTime:false"`
}

// TableName returns the table name for GORM
func (DocumentModel) TableName() string {
	return "documents"
}

func encodeRecord(r document.Record) (string, error) {
	if r == nil {
		r = document.Record{}
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encode document data: %w", err)
	}
	return string(raw), nil
}

func decodeRecord(data string) (document.Record, error) {
	out := document.Record{}
	if data == "" {
		return out, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode document data: %w", err)
	}
	return out, nil
}

// ToSnapshot converts the row into a snapshot
func (m *DocumentModel) ToSnapshot() (document.Snapshot, error) {
	data, err := decodeRecord(m.Data)
	if err != nil {
		return document.Snapshot{}, err
	}
	return document.Snapshot{
		ID:         m.ID,
		Path:       m.CollectionPath + "/" + m.ID,
		Data:       data,
		CreateTime: m.CreatedAt.UTC(),
		UpdateTime: m.UpdatedAt.UTC(),
	}, nil
}
