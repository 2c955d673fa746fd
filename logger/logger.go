package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel 日志级别
type LogLevel int

const (
	DEBUG LogLevel = iota // 调试信息（最详细）
	INFO                  // 一般信息（正常运行信息）
	WARN                  // 警告信息（需要注意但不影响运行）
	ERROR                 // 错误信息（需要关注的问题）
	FATAL                 // 致命错误（程序无法继续）
)

var (
	globalLevel LogLevel = INFO
	mu          sync.RWMutex

	atomicLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	sugar       *zap.SugaredLogger

	// 文件日志（仅 DEBUG 级别启用）
	logFile     *os.File
	currentDate string
	fileMu      sync.Mutex
	logDir      = "logs"

	// 外部日志存储（通过函数指针避免循环依赖）
	logStorageWriter func(level, message string)
	logStorageMu     sync.RWMutex
)

func init() {
	sugar = build(nil)
}

// String 返回日志级别的字符串表示
func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case DEBUG:
		return zapcore.DebugLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	case FATAL:
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// ParseLogLevel 解析日志级别字符串
func ParseLogLevel(level string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	case "FATAL":
		return FATAL
	default:
		return INFO // 默认INFO级别
	}
}

// build 构建 zap 日志器：控制台输出，可选 JSON 文件输出
func build(file *os.File) *zap.SugaredLogger {
	consoleCfg := zap.NewDevelopmentEncoderConfig()
	consoleCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006/01/02 15:04:05")
	consoleCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), zapcore.Lock(os.Stderr), atomicLevel),
	}
	if file != nil {
		fileCfg := zap.NewProductionEncoderConfig()
		fileCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileCfg), zapcore.AddSync(file), atomicLevel))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(2)).Sugar()
}

// SetLevel 设置全局日志级别
func SetLevel(level LogLevel) {
	mu.Lock()
	globalLevel = level
	atomicLevel.SetLevel(level.zapLevel())
	mu.Unlock()

	// DEBUG 级别同时写入文件
	if level == DEBUG {
		initFileLogger()
	} else {
		closeFileLogger()
	}
}

// GetLevel 获取全局日志级别
func GetLevel() LogLevel {
	mu.RLock()
	defer mu.RUnlock()
	return globalLevel
}

// SetLogDir 设置日志文件夹
func SetLogDir(dir string) {
	fileMu.Lock()
	defer fileMu.Unlock()
	if dir != "" {
		logDir = dir
	}
}

// initFileLogger 初始化文件日志（当日志级别为DEBUG时）
func initFileLogger() {
	fileMu.Lock()
	defer fileMu.Unlock()

	today := time.Now().Format("2006-01-02")
	if logFile != nil && currentDate == today {
		return
	}

	if err := os.MkdirAll(logDir, 0755); err != nil {
		sugar.Warnf("[WARN] 创建日志文件夹失败: %v，将只输出到控制台", err)
		return
	}

	name := filepath.Join(logDir, fmt.Sprintf("app-quantrisk-%s.log", today))
	file, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		sugar.Warnf("[WARN] 打开日志文件失败: %v，将只输出到控制台", err)
		return
	}

	old := logFile
	logFile = file
	currentDate = today
	swap(build(file))
	if old != nil {
		old.Close()
	}
}

// closeFileLogger 关闭文件日志
func closeFileLogger() {
	fileMu.Lock()
	defer fileMu.Unlock()

	if logFile == nil {
		return
	}
	swap(build(nil))
	logFile.Close()
	logFile = nil
	currentDate = ""
}

func swap(next *zap.SugaredLogger) {
	mu.Lock()
	prev := sugar
	sugar = next
	mu.Unlock()
	_ = prev.Sync()
}

// InitLogStorage 初始化日志存储（通过函数指针避免循环依赖）
func InitLogStorage(writer func(level, message string)) {
	logStorageMu.Lock()
	defer logStorageMu.Unlock()
	logStorageWriter = writer
}

// Close 关闭文件日志（程序退出时调用）
func Close() {
	mu.RLock()
	s := sugar
	mu.RUnlock()
	_ = s.Sync()

	closeFileLogger()

	logStorageMu.Lock()
	logStorageWriter = nil
	logStorageMu.Unlock()
}

// logf 内部日志输出函数
func logf(level LogLevel, format string, args ...interface{}) {
	mu.RLock()
	s := sugar
	enabled := level >= globalLevel
	mu.RUnlock()

	if !enabled {
		return
	}

	switch level {
	case DEBUG:
		s.Debugf(format, args...)
	case INFO:
		s.Infof(format, args...)
	case WARN:
		s.Warnf(format, args...)
	case ERROR:
		s.Errorf(format, args...)
	case FATAL:
		// zap 的 Fatal 会直接退出，这里降级输出后由调用方退出
		s.Errorf(format, args...)
	}

	logStorageMu.RLock()
	writer := logStorageWriter
	logStorageMu.RUnlock()

	if writer != nil {
		message := fmt.Sprintf(format, args...)
		go func() {
			defer func() {
				// 恢复 panic，确保不影响主程序
				_ = recover()
			}()
			writer(level.String(), message)
		}()
	}
}

// Debug 输出调试日志
func Debug(format string, args ...interface{}) {
	logf(DEBUG, format, args...)
}

// Info 输出一般信息日志
func Info(format string, args ...interface{}) {
	logf(INFO, format, args...)
}

// Warn 输出警告日志
func Warn(format string, args ...interface{}) {
	logf(WARN, format, args...)
}

// Error 输出错误日志
func Error(format string, args ...interface{}) {
	logf(ERROR, format, args...)
}

// Fatal 输出致命错误日志并退出程序
func Fatal(format string, args ...interface{}) {
	logf(FATAL, format, args...)
	Close()
	os.Exit(1)
}
