package usage

import (
	"sync"

	"jeesi/internal/logger"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// fallbackEncoding 非 OpenAI 模型统一使用 cl100k_base 估算
const fallbackEncoding = "cl100k_base"

// perMessageOverhead 每条消息角色等额外开销的估算值
const perMessageOverhead = 4

// Encoder 分词器
type Encoder interface {
	Encode(text string, allowedSpecial []string, disallowedSpecial []string) []int
}

// TokenEstimator 提示词 Token 估算，仅用于用量元数据，不参与计费
type TokenEstimator struct {
	once    sync.Once
	encoder Encoder
	load    func() (Encoder, error)
}

// NewTokenEstimator 创建估算器，编码表在首次使用时加载
func NewTokenEstimator() *TokenEstimator {
	return &TokenEstimator{
		load: func() (Encoder, error) {
			return tiktoken.GetEncoding(fallbackEncoding)
		},
	}
}

// NewTokenEstimatorWithEncoder 使用指定分词器（测试或离线编码表）
func NewTokenEstimatorWithEncoder(enc Encoder) *TokenEstimator {
	return &TokenEstimator{
		load: func() (Encoder, error) { return enc, nil },
	}
}

// Estimate 估算若干条消息的 Token 数，分词器不可用时返回 0
func (e *TokenEstimator) Estimate(texts []string) int {
	if e == nil || len(texts) == 0 {
		return 0
	}
	e.once.Do(func() {
		enc, err := e.load()
		if err != nil {
			logger.Warn("加载 tiktoken 编码表失败，跳过 Token 估算", zap.Error(err))
			return
		}
		e.encoder = enc
	})
	if e.encoder == nil {
		return 0
	}

	total := 0
	for _, text := range texts {
		total += len(e.encoder.Encode(text, nil, nil)) + perMessageOverhead
	}
	return total
}
