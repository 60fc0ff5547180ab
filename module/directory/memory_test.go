package directory

import (
	"context"
	"testing"
	"time"

	"PPSignal/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryContactsAndGroups(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryStore()
	d.Befriend(1, 3)
	d.Befriend(1, 2)
	d.AddContact(4, 1)

	c, err := d.Contacts(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3}, c)

	c, _ = d.Contacts(ctx, 4)
	assert.Equal(t, []int64{1}, c)
	c, _ = d.Contacts(ctx, 99)
	assert.Empty(t, c)

	d.AddMember(10, 2)
	d.AddMember(10, 1)
	ok, err := d.IsMember(ctx, 10, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = d.IsMember(ctx, 10, 3)
	assert.False(t, ok)
	m, _ := d.GroupMembers(ctx, 10)
	assert.Equal(t, []int64{1, 2}, m)
}

func TestMemoryPresence(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryStore()
	_, err := d.Presence(ctx, 1)
	assert.True(t, errs.ErrNotFound.Is(err))

	require.NoError(t, d.SetPresence(ctx, 1, "online", nil))
	p, err := d.Presence(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "online", p.Status)
	assert.Nil(t, p.LastSeen)

	now := time.Now()
	require.NoError(t, d.SetPresence(ctx, 1, "offline", &now))
	p, _ = d.Presence(ctx, 1)
	require.NotNil(t, p.LastSeen)
	assert.True(t, now.Equal(*p.LastSeen))
}
