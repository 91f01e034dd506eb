package wal

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// rw-r--r-- (擁有者讀寫，其他人唯讀)
const FileMode fs.FileMode = 0644

// WAL 以 JSON Lines 格式追加寫入的日誌檔
type WAL struct {
	file *os.File
	mu   sync.Mutex
	// 每次寫入後是否 fsync
	syncOnWrite bool
	log         zerolog.Logger
}

// Option 設定 WAL
type Option func(*WAL)

// WithoutSync 關閉每次寫入後的 fsync (測試或可接受遺失最後幾筆的場景)
func WithoutSync() Option {
	return func(w *WAL) {
		w.syncOnWrite = false
	}
}

// WithLogger 設定 logger (記錄回復時截斷的殘缺紀錄)
func WithLogger(log zerolog.Logger) Option {
	return func(w *WAL) {
		w.log = log
	}
}

// Open 開啟或建立一個 WAL 檔案
// O_RDWR 讀寫模式
// O_APPEND 每次寫入時自動跳到文件末尾
// O_CREATE 如果文件不存在則建立
func Open(path string, opts ...Option) (*WAL, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, FileMode)
	if err != nil {
		return nil, fmt.Errorf("open wal %s: %w", path, err)
	}
	w := &WAL{file: file, syncOnWrite: true, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Append 寫入一筆資料，回傳前確保已刷入硬碟 (除非 WithoutSync)
func (w *WAL) Append(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := json.NewEncoder(w.file).Encode(v); err != nil {
		return err
	}
	if w.syncOnWrite {
		return w.file.Sync()
	}
	return nil
}

// Sync 強制刷入硬碟
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Sync()
}

// Close 關閉檔案
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// ReadAll 由頭逐行讀取所有紀錄，逐筆交給 callback
//
// 最後一行沒有換行且無法解析時視為寫入途中當機留下的殘缺紀錄：
// 截斷檔案到上一筆完整紀錄的結尾後正常結束。其他位置的損毀回傳錯誤。
func (w *WAL) ReadAll(callback func(raw json.RawMessage) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return err
	}

	reader := bufio.NewReader(w.file)
	var offset int64
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read wal: %w", err)
		}
		complete := err == nil

		if record := bytes.TrimSpace(line); len(record) > 0 {
			if !json.Valid(record) {
				if complete {
					return fmt.Errorf("decode wal record at offset %d: invalid json", offset)
				}
				return w.truncateTail(offset, len(line))
			}
			if cbErr := callback(json.RawMessage(record)); cbErr != nil {
				return cbErr
			}
		}
		if !complete {
			if len(bytes.TrimSpace(line)) > 0 {
				// 補上換行，之後的紀錄才不會接在同一行
				if _, err := w.file.Write([]byte{'\n'}); err != nil {
					return fmt.Errorf("terminate wal record: %w", err)
				}
			}
			return nil
		}
		offset += int64(len(line))
	}
}

// truncateTail 丟棄 offset 之後的殘缺紀錄 (檔案以 O_APPEND 開啟，之後的寫入接在截斷點)
func (w *WAL) truncateTail(offset int64, size int) error {
	w.log.Warn().
		Int64("offset", offset).
		Int("bytes", size).
		Msg("wal: discarding torn record at end of log")
	if err := w.file.Truncate(offset); err != nil {
		return fmt.Errorf("truncate wal: %w", err)
	}
	return w.file.Sync()
}
