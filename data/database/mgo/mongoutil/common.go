package mongoutil

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/mongo"
)

const (
	defaultMaxPoolSize = 100
	defaultMaxRetry    = 3
)

// 认证失败重试也没用：13 Unauthorized，18 AuthenticationFailed
var fatalCodes = map[int32]struct{}{13: {}, 18: {}}

// mongoURI 用户名密码经过转义，可以含 @ : /
func mongoURI(c *Config, authSource string) string {
	u := url.URL{
		Scheme: "mongodb",
		Host:   strings.Join(c.Address, ","),
		Path:   "/" + c.Database,
	}
	if c.Username != "" {
		u.User = url.UserPassword(c.Username, c.Password)
	}
	q := url.Values{}
	q.Set("authSource", authSource)
	q.Set("maxPoolSize", strconv.Itoa(c.MaxPoolSize))
	u.RawQuery = q.Encode()
	return u.String()
}

func shouldRetry(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		_, fatal := fatalCodes[cmdErr.Code]
		return !fatal
	}
	return true
}
