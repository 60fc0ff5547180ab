package storage

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"PPSignal/tools/errs"

	"github.com/redis/go-redis/v9"
)

// presence key: im:presence:<user>
// Value: <node>|<conn>, TTL controls the online validity period
func presenceKey(user int64) string { return "im:presence:" + strconv.FormatInt(user, 10) }

// 节点在线集合，便于按节点统计
func nodeKey(node string) string { return "im:online:" + node }

// 原子上线：写会话键并加入节点集合
// KEYS[1] = presence key, KEYS[2] = node set
// ARGV[1] = value, ARGV[2] = ttlSeconds, ARGV[3] = user
const luaOnline = `
redis.call("SET", KEYS[1], ARGV[1], "EX", tonumber(ARGV[2]))
redis.call("SADD", KEYS[2], ARGV[3])
return 1
`

// 原子下线：删会话键并移出节点集合
// KEYS[1] = presence key, KEYS[2] = node set
// ARGV[1] = user
const luaOffline = `
local n = redis.call("DEL", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[1])
return n
`

type PresenceConfig struct {
	NodeID string        `mapstructure:"node_id"`
	TTL    time.Duration `mapstructure:"ttl"`
}

// RedisPresence 在线状态镜像，TTL 由巡检续期
type RedisPresence struct {
	rdb     redis.UniversalClient
	node    string
	ttl     time.Duration
	online  *redis.Script
	offline *redis.Script
}

func NewRedisPresence(rdb redis.UniversalClient, conf PresenceConfig) *RedisPresence {
	if conf.TTL <= 0 {
		conf.TTL = 90 * time.Second
	}
	if conf.NodeID == "" {
		conf.NodeID = "node-1"
	}
	return &RedisPresence{
		rdb:     rdb,
		node:    conf.NodeID,
		ttl:     conf.TTL,
		online:  redis.NewScript(luaOnline),
		offline: redis.NewScript(luaOffline),
	}
}

// Online sets the user as online and renews the TTL
func (p *RedisPresence) Online(ctx context.Context, user int64, connID string) error {
	value := p.node + "|" + connID
	err := p.online.Run(ctx, p.rdb,
		[]string{presenceKey(user), nodeKey(p.node)},
		value, int64(p.ttl/time.Second), user).Err()
	if err != nil {
		return errs.WrapMsg(err, "presence online", "user", user)
	}
	return nil
}

// Offline actively sets the user offline (deletes the key)
func (p *RedisPresence) Offline(ctx context.Context, user int64) error {
	err := p.offline.Run(ctx, p.rdb, []string{presenceKey(user), nodeKey(p.node)}, user).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return errs.WrapMsg(err, "presence offline", "user", user)
	}
	return nil
}

// Touch 续期；键已过期时重新写入需等下次上线
func (p *RedisPresence) Touch(ctx context.Context, user int64) error {
	if err := p.rdb.Expire(ctx, presenceKey(user), p.ttl).Err(); err != nil {
		return errs.WrapMsg(err, "presence touch", "user", user)
	}
	return nil
}

// Lookup checks whether the user is online
func (p *RedisPresence) Lookup(ctx context.Context, user int64) (node, connID string, online bool, err error) {
	val, err := p.rdb.Get(ctx, presenceKey(user)).Result()
	if errors.Is(err, redis.Nil) {
		return "", "", false, nil
	}
	if err != nil {
		return "", "", false, errs.WrapMsg(err, "presence lookup", "user", user)
	}
	node, connID, _ = strings.Cut(val, "|")
	return node, connID, true, nil
}

// NodeCount 本节点登记的在线人数
func (p *RedisPresence) NodeCount(ctx context.Context) (int64, error) {
	n, err := p.rdb.SCard(ctx, nodeKey(p.node)).Result()
	if err != nil {
		return 0, errs.WrapMsg(err, "presence count")
	}
	return n, nil
}
