package models

type BlockType string

const (
	BlockFlagged BlockType = "flagged"
	BlockContext BlockType = "context"
)

type CodeBlock struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	SessionID string    `gorm:"size:36;not null;index:idx_block_session_index,unique" json:"session_id"`
	Index     int       `gorm:"column:block_index;not null;index:idx_block_session_index,unique" json:"index"`
	RawCode   string    `gorm:"type:text;not null" json:"raw_code"`
	LineStart int       `json:"line_start"`
	LineEnd   int       `json:"line_end"`
	BlockType BlockType `gorm:"size:16;not null" json:"block_type"`

	Analysis *Analysis `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}
