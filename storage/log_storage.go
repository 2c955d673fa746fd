// Package storage 日志持久化：将运行日志异步批量写入 SQLite，供 Web 查询
package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"quantrisk/logger"
)

const (
	batchSize     = 100
	flushInterval = time.Second
)

// LogStorage 日志存储
type LogStorage struct {
	db       *sql.DB
	mu       sync.RWMutex
	logCh    chan *logEntry
	done     chan struct{}
	closed   bool
	minLevel logger.LogLevel
}

type logEntry struct {
	level     string
	message   string
	timestamp time.Time
}

// LogQueryParams 日志查询参数
type LogQueryParams struct {
	StartTime time.Time
	EndTime   time.Time
	Level     string
	Keyword   string
	Limit     int
	Offset    int
}

// LogRecord 日志记录
type LogRecord struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// NewLogStorage 创建日志存储，低于 minLevel 的日志不落库
func NewLogStorage(path string, minLevel logger.LogLevel) (*LogStorage, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("打开日志数据库失败: %w", err)
	}
	// SQLite 单写者
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ls := &LogStorage{
		db:       db,
		logCh:    make(chan *logEntry, 500),
		done:     make(chan struct{}),
		minLevel: minLevel,
	}

	if err := ls.createTable(); err != nil {
		db.Close()
		return nil, fmt.Errorf("创建日志表失败: %w", err)
	}

	go ls.processLogs()
	return ls, nil
}

func (ls *LogStorage) createTable() error {
	_, err := ls.db.Exec(`
	CREATE TABLE IF NOT EXISTS logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		level TEXT NOT NULL,
		message TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_logs_timestamp ON logs(timestamp);
	CREATE INDEX IF NOT EXISTS idx_logs_level ON logs(level);
	`)
	return err
}

// WriteLog 写入日志（异步，不阻塞），队列满时丢弃
func (ls *LogStorage) WriteLog(level, message string) {
	if logger.ParseLogLevel(level) < ls.minLevel {
		return
	}

	ls.mu.RLock()
	defer ls.mu.RUnlock()
	if ls.closed {
		return
	}

	select {
	case ls.logCh <- &logEntry{level: level, message: message, timestamp: time.Now().UTC()}:
	default:
	}
}

// processLogs 满 batchSize 条或每秒批量写入一次
func (ls *LogStorage) processLogs() {
	defer close(ls.done)

	buffer := make([]*logEntry, 0, batchSize)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(buffer) == 0 {
			return
		}
		// 写入失败不影响主程序，也不能再走 logger 以免递归
		_ = ls.batchInsert(buffer)
		buffer = buffer[:0]
	}

	for {
		select {
		case entry, ok := <-ls.logCh:
			if !ok {
				flush()
				return
			}
			buffer = append(buffer, entry)
			if len(buffer) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (ls *LogStorage) batchInsert(entries []*logEntry) error {
	tx, err := ls.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO logs (timestamp, level, message) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, entry := range entries {
		if _, err := stmt.Exec(entry.timestamp, entry.level, entry.message); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetLogs 查询日志，返回本页记录与总数
func (ls *LogStorage) GetLogs(params LogQueryParams) ([]*LogRecord, int, error) {
	where := []string{"1=1"}
	args := []interface{}{}

	if !params.StartTime.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, params.StartTime.UTC())
	}
	if !params.EndTime.IsZero() {
		where = append(where, "timestamp <= ?")
		args = append(args, params.EndTime.UTC())
	}
	if params.Level != "" {
		where = append(where, "level = ?")
		args = append(args, strings.ToUpper(params.Level))
	}
	if params.Keyword != "" {
		where = append(where, "message LIKE ?")
		args = append(args, "%"+params.Keyword+"%")
	}
	whereClause := strings.Join(where, " AND ")

	var total int
	if err := ls.db.QueryRow("SELECT COUNT(*) FROM logs WHERE "+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("查询日志总数失败: %w", err)
	}

	if params.Limit <= 0 {
		params.Limit = 100
	}
	if params.Limit > 1000 {
		params.Limit = 1000
	}
	args = append(args, params.Limit, params.Offset)

	rows, err := ls.db.Query(`
		SELECT id, timestamp, level, message
		FROM logs
		WHERE `+whereClause+`
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("查询日志失败: %w", err)
	}
	defer rows.Close()

	logs := make([]*LogRecord, 0)
	for rows.Next() {
		var rec LogRecord
		if err := rows.Scan(&rec.ID, &rec.Timestamp, &rec.Level, &rec.Message); err != nil {
			continue
		}
		logs = append(logs, &rec)
	}
	return logs, total, rows.Err()
}

// CleanOldLogs 清理超过指定天数的日志，返回删除条数
func (ls *LogStorage) CleanOldLogs(days int) (int64, error) {
	if days <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	res, err := ls.db.Exec(`DELETE FROM logs WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetLogStats 按级别统计日志条数
func (ls *LogStorage) GetLogStats() (map[string]int64, error) {
	rows, err := ls.db.Query(`SELECT level, COUNT(*) FROM logs GROUP BY level`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := make(map[string]int64)
	for rows.Next() {
		var level string
		var count int64
		if err := rows.Scan(&level, &count); err != nil {
			continue
		}
		stats[level] = count
	}
	return stats, rows.Err()
}

// Close 刷新剩余日志并关闭
func (ls *LogStorage) Close() error {
	ls.mu.Lock()
	if ls.closed {
		ls.mu.Unlock()
		return nil
	}
	ls.closed = true
	close(ls.logCh)
	ls.mu.Unlock()

	<-ls.done
	return ls.db.Close()
}
