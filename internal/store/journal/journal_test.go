package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournal_AppendRecent(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer j.Close()

	base := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	step := 0
	j.now = func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Second)
	}

	ctx := context.Background()
	require.NoError(t, j.Append(ctx, TypeCommand, map[string]string{"cmd": "pause"}))
	require.NoError(t, j.Append(ctx, TypeGuard, map[string]string{"reason": "spread"}))
	require.NoError(t, j.Append(ctx, TypeCommand, map[string]string{"cmd": "resume"}))

	all, err := j.Recent(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, TypeCommand, all[0].Type)
	assert.JSONEq(t, `{"cmd":"resume"}`, string(all[0].Payload))

	cmds, err := j.Recent(ctx, TypeCommand, 1)
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.JSONEq(t, `{"cmd":"resume"}`, string(cmds[0].Payload))
	assert.True(t, cmds[0].CreatedAt.Equal(base.Add(3*time.Second)))
}

func TestJournal_NilSafe(t *testing.T) {
	var j *Journal
	assert.NoError(t, j.Append(context.Background(), TypeStatus, nil))
	ev, err := j.Recent(context.Background(), "", 5)
	assert.NoError(t, err)
	assert.Nil(t, ev)
	assert.NoError(t, j.Close())
}
