package sqlmodel

import (
	"time"
)

// KeyMaterial 定义了数据库表 key_materials，用于读写 API 密钥的加密密钥材料。
// 对称密钥与会话编码的尾部永远不会存入此表。
type KeyMaterial struct {
	ID         int64     `gorm:"primaryKey;autoIncrement:false"`
	OwnerDID   string    `gorm:"type:VARCHAR(255) NOT NULL;index"`
	Ciphertext string    `gorm:"type:TEXT NOT NULL"`
	CreatedAt  time.Time `gorm:"not null"`
}

// 自定义 KeyMaterial 的表名。
func (KeyMaterial) TableName() string {
	return "key_materials"
}

// GetIDString returns the snowflake ID of the record as a string.
func (k *KeyMaterial) GetIDString() string {
	return parseInt64ToSnowflakeString(k.ID)
}

// NewKeyMaterial creates a `KeyMaterial` record from its snowflake ID string.
func NewKeyMaterial(id string, ownerDID string, ciphertext string) (*KeyMaterial, error) {
	idInt64, err := parseSnowflakeStringToInt64(id)
	if err != nil {
		return nil, err
	}

	return &KeyMaterial{
		ID:         idInt64,
		OwnerDID:   ownerDID,
		Ciphertext: ciphertext,
	}, nil
}

// ParseKeyMaterialID parses a snowflake ID string into the primary key of a `KeyMaterial`.
func ParseKeyMaterialID(id string) (int64, error) {
	return parseSnowflakeStringToInt64(id)
}
