package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"jeesi/internal/logger"
	"jeesi/internal/worker/tasks"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// KeyPrefix 明文密钥前缀
const KeyPrefix = "jsk_"

var (
	ErrAPIKeyNotFound = errors.New("API Key 不存在")
	ErrAPIKeyInvalid  = errors.New("无效的 API Key")
	ErrAPIKeyMissing  = errors.New("缺少 API Key")
)

// APIKey API 密钥模型，只保存哈希
type APIKey struct {
	ID     string `json:"id" gorm:"primaryKey;size:36"`
	UserID string `json:"userId" gorm:"size:64;not null;index"`

	Name      string `json:"name" gorm:"size:100;not null"`
	KeyPrefix string `json:"keyPrefix" gorm:"size:16;not null"`     // 显示用前缀
	KeyHash   string `json:"-" gorm:"size:64;not null;uniqueIndex"` // SHA256 哈希

	IsActive   bool       `json:"isActive" gorm:"not null;default:true"`
	LastUsedAt *time.Time `json:"lastUsedAt"`

	CreatedAt time.Time  `json:"createdAt" gorm:"autoCreateTime"`
	RevokedAt *time.Time `json:"revokedAt"`
}

func (APIKey) TableName() string {
	return "api_keys"
}

// IssuedAPIKey 签发结果，Key 只在这里出现一次
type IssuedAPIKey struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	Name      string    `json:"name"`
	KeyPrefix string    `json:"keyPrefix"`
	CreatedAt time.Time `json:"createdAt"`
}

// KeyToucher 异步更新 last_used_at
type KeyToucher interface {
	TouchAPIKey(ctx context.Context, payload tasks.TouchAPIKeyPayload)
}

// APIKeyService API Key 服务
type APIKeyService struct {
	db      *gorm.DB
	toucher KeyToucher
}

// NewAPIKeyService 创建服务
func NewAPIKeyService(db *gorm.DB) *APIKeyService {
	return &APIKeyService{db: db}
}

// SetToucher 注入旁路任务分发器（分发器本身依赖本服务，只能在构造后注入）
func (s *APIKeyService) SetToucher(t KeyToucher) {
	s.toucher = t
}

// HashKey 计算明文密钥的哈希
func HashKey(rawKey string) string {
	hash := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(hash[:])
}

// IssueAPIKey 生成新密钥，明文只在返回值中出现一次
func (s *APIKeyService) IssueAPIKey(ctx context.Context, userID, name string) (*IssuedAPIKey, error) {
	name = strings.TrimSpace(name)
	if userID == "" || name == "" {
		return nil, fmt.Errorf("用户和名称不能为空")
	}

	keyBytes := make([]byte, 32)
	if _, err := rand.Read(keyBytes); err != nil {
		return nil, fmt.Errorf("生成密钥失败: %w", err)
	}

	rawKey := KeyPrefix + hex.EncodeToString(keyBytes)
	apiKey := &APIKey{
		ID:        uuid.New().String(),
		UserID:    userID,
		Name:      name,
		KeyPrefix: rawKey[:12],
		KeyHash:   HashKey(rawKey),
		IsActive:  true,
	}
	if err := s.db.WithContext(ctx).Create(apiKey).Error; err != nil {
		return nil, fmt.Errorf("保存 API Key 失败: %w", err)
	}

	logger.WithContext(ctx).Info("签发 API Key",
		zap.String("user_id", userID),
		zap.String("key_id", apiKey.ID),
		zap.String("key_prefix", apiKey.KeyPrefix),
	)

	return &IssuedAPIKey{
		ID:        apiKey.ID,
		Key:       rawKey,
		Name:      apiKey.Name,
		KeyPrefix: apiKey.KeyPrefix,
		CreatedAt: apiKey.CreatedAt,
	}, nil
}

// ValidateAPIKey 按哈希查找启用中的密钥
// 已撤销的密钥与不存在的密钥返回同一个错误
func (s *APIKeyService) ValidateAPIKey(ctx context.Context, rawKey string) (*APIKey, error) {
	rawKey = strings.TrimSpace(rawKey)
	if rawKey == "" {
		return nil, ErrAPIKeyMissing
	}

	var apiKey APIKey
	err := s.db.WithContext(ctx).
		Where("key_hash = ? AND is_active = ?", HashKey(rawKey), true).
		First(&apiKey).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAPIKeyInvalid
		}
		return nil, fmt.Errorf("查询 API Key 失败: %w", err)
	}

	if s.toucher != nil {
		s.toucher.TouchAPIKey(ctx, tasks.TouchAPIKeyPayload{KeyID: apiKey.ID, UsedAt: time.Now().UTC()})
	}
	return &apiKey, nil
}

// TouchLastUsed 更新最近使用时间，由旁路任务调用
func (s *APIKeyService) TouchLastUsed(ctx context.Context, keyID string, usedAt time.Time) error {
	return s.db.WithContext(ctx).
		Model(&APIKey{}).
		Where("id = ?", keyID).
		Update("last_used_at", usedAt).Error
}

// ListAPIKeys 列出用户的 API Key（不含哈希与明文）
func (s *APIKeyService) ListAPIKeys(ctx context.Context, userID string) ([]APIKey, error) {
	var keys []APIKey
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&keys).Error
	return keys, err
}

// RevokeAPIKey 撤销 API Key
func (s *APIKeyService) RevokeAPIKey(ctx context.Context, userID, keyID string) error {
	now := time.Now().UTC()
	result := s.db.WithContext(ctx).Model(&APIKey{}).
		Where("id = ? AND user_id = ?", keyID, userID).
		Updates(map[string]interface{}{
			"is_active":  false,
			"revoked_at": now,
		})
	if result.Error != nil {
		return fmt.Errorf("撤销 API Key 失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAPIKeyNotFound
	}
	return nil
}
