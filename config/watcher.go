// 流水线定义目录的变更监听器。
//
// 轮询目录中的 *.yaml / *.yml 文件，去抖后触发重载回调。
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// --- 文件监听器类型定义 ---

// FileWatcher 监听一个目录下的 YAML 定义文件
type FileWatcher struct {
	mu sync.RWMutex

	// 配置
	dir           string
	pollInterval  time.Duration
	debounceDelay time.Duration

	// 状态
	running   bool
	stopChan  chan struct{}
	eventChan chan FileEvent

	// 回调
	callbacks []func(events []FileEvent)

	logger *zap.Logger

	// 轮询比较用的最后修改时间
	lastModTimes map[string]time.Time
}

// FileEvent 是一次文件变更
type FileEvent struct {
	Path      string    `json:"path"`
	Op        FileOp    `json:"op"`
	Timestamp time.Time `json:"timestamp"`
}

// FileOp 文件操作类型
type FileOp int

const (
	// FileOpCreate 表示文件已创建
	FileOpCreate FileOp = iota
	// FileOpWrite 指示文件已被修改
	FileOpWrite
	// FileOpRemove 表示文件已被删除
	FileOpRemove
)

// String returns the string representation of FileOp
func (op FileOp) String() string {
	switch op {
	case FileOpCreate:
		return "CREATE"
	case FileOpWrite:
		return "WRITE"
	case FileOpRemove:
		return "REMOVE"
	default:
		return "UNKNOWN"
	}
}

// --- 文件监听器选项 ---

// WatcherOption configures the FileWatcher
type WatcherOption func(*FileWatcher)

// WithDebounceDelay sets the debounce delay for file events
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		w.debounceDelay = d
	}
}

// WithPollInterval sets how often the directory is scanned
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		w.pollInterval = d
	}
}

// WithWatcherLogger sets the logger for the watcher
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *FileWatcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// --- 文件监听器实现 ---

// NewFileWatcher 创建目录监听器，目录必须存在
func NewFileWatcher(dir string, opts ...WatcherOption) (*FileWatcher, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to stat definitions dir %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("definitions path %s is not a directory", dir)
	}

	w := &FileWatcher{
		dir:           dir,
		pollInterval:  time.Second,
		debounceDelay: 100 * time.Millisecond,
		stopChan:      make(chan struct{}),
		eventChan:     make(chan FileEvent, 100),
		lastModTimes:  make(map[string]time.Time),
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(zap.String("component", "definitions_watcher"))
	return w, nil
}

// OnChange 注册回调；一次去抖窗口内的事件按路径排序后一起交付
func (w *FileWatcher) OnChange(callback func([]FileEvent)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start 开始监听，ctx 取消或 Stop 后退出
func (w *FileWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher already running")
	}
	w.running = true
	// 启动时的现有文件作为基线，不产生事件
	for path, mod := range w.scan() {
		w.lastModTimes[path] = mod
	}
	w.mu.Unlock()

	go w.pollLoop(ctx)
	go w.dispatchLoop(ctx)

	w.logger.Info("definitions watcher started",
		zap.String("dir", w.dir),
		zap.Duration("poll_interval", w.pollInterval))
	return nil
}

// Stop stops the file watcher
func (w *FileWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}
	close(w.stopChan)
	w.running = false

	w.logger.Info("definitions watcher stopped")
	return nil
}

// IsRunning returns whether the watcher is running
func (w *FileWatcher) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// Dir 返回被监听的目录
func (w *FileWatcher) Dir() string { return w.dir }

func (w *FileWatcher) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.checkFiles()
		}
	}
}

// scan 返回目录中所有定义文件的修改时间
func (w *FileWatcher) scan() map[string]time.Time {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Warn("failed to read definitions dir", zap.Error(err))
		return nil
	}
	found := make(map[string]time.Time, len(entries))
	for _, e := range entries {
		if e.IsDir() || !IsDefinitionFile(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		found[filepath.Join(w.dir, e.Name())] = info.ModTime()
	}
	return found
}

func (w *FileWatcher) checkFiles() {
	current := w.scan()
	if current == nil {
		return
	}
	now := time.Now()

	w.mu.Lock()
	defer w.mu.Unlock()

	for path := range w.lastModTimes {
		if _, ok := current[path]; !ok {
			delete(w.lastModTimes, path)
			w.eventChan <- FileEvent{Path: path, Op: FileOpRemove, Timestamp: now}
		}
	}
	for path, mod := range current {
		last, existed := w.lastModTimes[path]
		switch {
		case !existed:
			w.lastModTimes[path] = mod
			w.eventChan <- FileEvent{Path: path, Op: FileOpCreate, Timestamp: now}
		case mod.After(last):
			w.lastModTimes[path] = mod
			w.eventChan <- FileEvent{Path: path, Op: FileOpWrite, Timestamp: now}
		}
	}
}

// dispatchLoop 去抖后分发事件
func (w *FileWatcher) dispatchLoop(ctx context.Context) {
	var (
		pending = make(map[string]FileEvent)
		timer   *time.Timer
		fire    <-chan time.Time
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case event := <-w.eventChan:
			// 同一路径只保留最后一次事件
			pending[event.Path] = event
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounceDelay)
			fire = timer.C
		case <-fire:
			fire = nil
			events := make([]FileEvent, 0, len(pending))
			for _, evt := range pending {
				events = append(events, evt)
			}
			sort.Slice(events, func(i, j int) bool { return events[i].Path < events[j].Path })
			pending = make(map[string]FileEvent)

			w.mu.RLock()
			callbacks := make([]func([]FileEvent), len(w.callbacks))
			copy(callbacks, w.callbacks)
			w.mu.RUnlock()

			w.logger.Debug("dispatching definition changes", zap.Int("events", len(events)))
			for _, cb := range callbacks {
				cb(events)
			}
		}
	}
}

// IsDefinitionFile 报告文件名是否为 YAML 定义
func IsDefinitionFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
