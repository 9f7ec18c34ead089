package encoding

import (
	"bytes"
	"time"

	"github.com/google/uuid"
)

type BlockMeta struct {
	Version      string    `json:"format"`
	BlockID      uuid.UUID `json:"blockID"`
	MinID        ID        `json:"minID"`
	MaxID        ID        `json:"maxID"`
	TenantID     string    `json:"tenantID"`
	StartTime    time.Time `json:"startTime"`
	EndTime      time.Time `json:"endTime"`
	TotalObjects int       `json:"totalObjects"`
	Size         uint64    `json:"size"`
	Encoding     Encoding  `json:"encoding"`
}

type CompactedBlockMeta struct {
	BlockMeta

	CompactedTime time.Time `json:"compactedTime"`
}

const currentVersion = "v1"

func NewBlockMeta(tenantID string, blockID uuid.UUID, encoding Encoding) *BlockMeta {
	now := time.Now()
	return &BlockMeta{
		Version:   currentVersion,
		BlockID:   blockID,
		MinID:     []byte{},
		MaxID:     []byte{},
		TenantID:  tenantID,
		StartTime: now,
		EndTime:   now,
		Encoding:  encoding,
	}
}

// ObjectAdded updates the meta to reflect a newly appended object.
func (b *BlockMeta) ObjectAdded(id ID, length int) {
	b.EndTime = time.Now()

	if len(b.MinID) == 0 || bytes.Compare(id, b.MinID) == -1 {
		b.MinID = append([]byte(nil), id...)
	}

	if len(b.MaxID) == 0 || bytes.Compare(id, b.MaxID) == 1 {
		b.MaxID = append([]byte(nil), id...)
	}

	b.TotalObjects++
	b.Size += uint64(length)
}
