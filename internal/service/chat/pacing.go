package chat

import (
	"strings"
	"time"
)

// PacingConfig 打字节奏参数
type PacingConfig struct {
	DefaultWPM     int
	MaxChunkLength int
	MinDelay       time.Duration
	MaxDelay       time.Duration
	ChunkGap       time.Duration // 两段之间的停顿
	JitterRatio    float64       // 0.1 即 ±10%
}

func DefaultPacingConfig() PacingConfig {
	return PacingConfig{
		DefaultWPM:     60,
		MaxChunkLength: DefaultMaxChunkLength,
		MinDelay:       800 * time.Millisecond,
		MaxDelay:       5000 * time.Millisecond,
		ChunkGap:       500 * time.Millisecond,
		JitterRatio:    0.1,
	}
}

// TypingDelay words/wpm 分钟，未加抖动和上下限
func TypingDelay(words, wpm int) time.Duration {
	if wpm <= 0 || words <= 0 {
		return 0
	}
	return time.Duration(words) * time.Minute / time.Duration(wpm)
}

// ClampDelay 限制在 [min, max]
func ClampDelay(d, min, max time.Duration) time.Duration {
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}

// applyJitter factor 取值 [-1, 1]
func applyJitter(d time.Duration, ratio, factor float64) time.Duration {
	return time.Duration(float64(d) * (1 + ratio*factor))
}

func wordCount(text string) int {
	return len(strings.Fields(text))
}
