package mongoutil

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
)

func TestValidateAndSetDefaults(t *testing.T) {
	c := &Config{Address: []string{"10.0.0.1:27017", "10.0.0.2:27017"}, Database: "im", Username: "u", Password: "p"}
	require.NoError(t, c.ValidateAndSetDefaults())
	assert.Equal(t, defaultMaxPoolSize, c.MaxPoolSize)
	assert.Equal(t, defaultMaxRetry, c.MaxRetry)
	assert.Equal(t, "mongodb://u:p@10.0.0.1:27017,10.0.0.2:27017/im?authSource=im&maxPoolSize=100", c.Uri)

	c = &Config{Address: []string{"h:1"}, Database: "im", AuthSource: "admin", MaxPoolSize: 5}
	require.NoError(t, c.ValidateAndSetDefaults())
	assert.Equal(t, "mongodb://h:1/im?authSource=admin&maxPoolSize=5", c.Uri)

	c = &Config{Uri: "mongodb://x/im", Database: "im"}
	require.NoError(t, c.ValidateAndSetDefaults())
	assert.Equal(t, "mongodb://x/im", c.Uri)
}

func TestValidateRejects(t *testing.T) {
	assert.Error(t, (&Config{Database: "im"}).ValidateAndSetDefaults())
	assert.Error(t, (&Config{Uri: "mongodb://x"}).ValidateAndSetDefaults())
	assert.False(t, (&Config{}).Enabled())
	assert.True(t, (&Config{Uri: "mongodb://x"}).Enabled())
}

func TestShouldRetry(t *testing.T) {
	ctx := context.Background()
	assert.True(t, shouldRetry(ctx, errors.New("dial tcp: refused")))
	assert.False(t, shouldRetry(ctx, mongo.CommandError{Code: 18}))
	assert.True(t, shouldRetry(ctx, mongo.CommandError{Code: 91}))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.False(t, shouldRetry(cancelled, errors.New("x")))
}

func TestURIEscapesCredentials(t *testing.T) {
	c := &Config{Address: []string{"h:27017"}, Database: "im", Username: "ops", Password: "p@ss:w/d"}
	require.NoError(t, c.ValidateAndSetDefaults())
	assert.Equal(t, "mongodb://ops:p%40ss%3Aw%2Fd@h:27017/im?authSource=im&maxPoolSize=100", c.Uri)
}
