package mongoutil

import (
	"PPSignal/tools/errs"
)

// ValidateAndSetDefaults 补齐连接池与重试次数；没给 uri 时由地址列表拼出
func (c *Config) ValidateAndSetDefaults() error {
	switch {
	case !c.Enabled():
		return errs.ErrInvalidArgument.WrapMsg("mongo needs uri or address")
	case c.Database == "":
		return errs.ErrInvalidArgument.WrapMsg("mongo database is required")
	}
	c.MaxPoolSize = orDefault(c.MaxPoolSize, defaultMaxPoolSize)
	c.MaxRetry = orDefault(c.MaxRetry, defaultMaxRetry)
	if c.Uri != "" {
		return nil
	}
	authSource := c.AuthSource
	if authSource == "" {
		authSource = c.Database
	}
	c.Uri = mongoURI(c, authSource)
	return nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
