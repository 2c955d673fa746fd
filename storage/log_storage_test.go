package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantrisk/logger"
)

func TestLogStorageWriteAndQuery(t *testing.T) {
	ls, err := NewLogStorage(filepath.Join(t.TempDir(), "logs.db"), logger.WARN)
	require.NoError(t, err)
	defer ls.Close()

	ls.WriteLog("INFO", "✅ 风险快照服务已启动")
	ls.WriteLog("WARN", "🚨 [风险] 1 个持仓接近强平")
	ls.WriteLog("ERROR", "❌ 保存风险快照失败: disk full")

	require.Eventually(t, func() bool {
		_, total, err := ls.GetLogs(LogQueryParams{})
		return err == nil && total == 2
	}, 3*time.Second, 50*time.Millisecond)

	logs, total, err := ls.GetLogs(LogQueryParams{Level: "error"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, logs, 1)
	assert.Contains(t, logs[0].Message, "disk full")

	logs, _, err = ls.GetLogs(LogQueryParams{Keyword: "强平"})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "WARN", logs[0].Level)

	stats, err := ls.GetLogStats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats["WARN"])
	assert.Zero(t, stats["INFO"])

	deleted, err := ls.CleanOldLogs(1)
	require.NoError(t, err)
	assert.Zero(t, deleted)
	t.Logf("日志统计: %v", stats)
}

func TestLogStorageCloseFlushes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs.db")
	ls, err := NewLogStorage(path, logger.DEBUG)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		ls.WriteLog("DEBUG", "tick")
	}
	require.NoError(t, ls.Close())
	require.NoError(t, ls.Close())
	assert.NotPanics(t, func() { ls.WriteLog("ERROR", "after close") })

	reopened, err := NewLogStorage(path, logger.DEBUG)
	require.NoError(t, err)
	defer reopened.Close()
	_, total, err := reopened.GetLogs(LogQueryParams{})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
}
