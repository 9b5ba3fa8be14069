package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"promptforge-server/modules/common/config"
)

// Connect - Redis 연결 생성
func Connect(cfg *config.Config) (*redis.Client, error) {
	log.Printf("🔌 Connecting to Redis: %s", cfg.GetRedisAddr())

	var tlsConfig *tls.Config
	if cfg.RedisUseTLS {
		tlsConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.GetRedisAddr(),
		Username:     cfg.RedisUsername,
		Password:     cfg.RedisPassword,
		TLSConfig:    tlsConfig,
		DB:           0,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	// 연결 테스트
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	log.Printf("🔍 Testing Redis connection...")
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	log.Println("✅ Redis connected successfully")
	return rdb, nil
}

// activeKey - 세션별 활성 요청 키
func activeKey(sessionID string) string {
	return fmt.Sprintf("promptforge:session:%s:active", sessionID)
}

// 요청 ID가 일치할 때만 삭제
var clearIfMatch = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// ActiveMarker - 세션의 "현재 활성 요청" 표시를 Redis에 저장
// 여러 인스턴스가 같은 세션 업로드를 받아도 가장 최근 요청만 결과를 반영한다.
type ActiveMarker struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewActiveMarker - ttl은 키 보존 기간. 만료되어도 진행 중 요청은 유효하다
func NewActiveMarker(rdb *redis.Client, ttl time.Duration) *ActiveMarker {
	return &ActiveMarker{rdb: rdb, ttl: ttl}
}

// Mark - requestID를 활성 요청으로 설정 (이전 요청은 자동으로 superseded)
func (m *ActiveMarker) Mark(ctx context.Context, sessionID, requestID string) error {
	if err := m.rdb.Set(ctx, activeKey(sessionID), requestID, m.ttl).Err(); err != nil {
		return fmt.Errorf("failed to mark active request: %w", err)
	}
	return nil
}

// Superseded - 다른 requestID가 기록되어 있을 때만 true
// 키가 없으면 (만료/정리) 더 새로운 요청이 없는 것으로 본다.
func (m *ActiveMarker) Superseded(ctx context.Context, sessionID, requestID string) (bool, error) {
	current, err := m.rdb.Get(ctx, activeKey(sessionID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read active request: %w", err)
	}
	return current != requestID, nil
}

// Clear - requestID가 활성 상태일 때만 표시 제거 (빈 requestID면 무조건 제거)
func (m *ActiveMarker) Clear(ctx context.Context, sessionID, requestID string) error {
	var err error
	if requestID == "" {
		err = m.rdb.Del(ctx, activeKey(sessionID)).Err()
	} else {
		err = clearIfMatch.Run(ctx, m.rdb, []string{activeKey(sessionID)}, requestID).Err()
	}
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to clear active request: %w", err)
	}
	return nil
}
