// internal/storage/file_storage.go
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileStorage 提供基于本地文件系统的持久化
// 所有写入都先写临时文件再原子重命名，避免进程中断留下半个文件
type FileStorage struct {
	BaseDir string

	// 按文件路径划分的读写锁，串行化同一文件的并发读写
	fileLocks sync.Map

	// 读缓存，减少热点文件（积分、统计）的重复读取
	cache      map[string]*cacheEntry
	cacheMutex sync.RWMutex
	cacheTTL   time.Duration
}

type cacheEntry struct {
	data      []byte
	timestamp time.Time
}

// NewFileStorage 创建文件存储服务
func NewFileStorage(baseDir string) (*FileStorage, error) {
	if baseDir == "" {
		baseDir = "data"
	}

	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}

	return &FileStorage{
		BaseDir:  baseDir,
		cache:    make(map[string]*cacheEntry),
		cacheTTL: 5 * time.Minute,
	}, nil
}

// getFileLock 获取指定路径的锁
func (fs *FileStorage) getFileLock(fullPath string) *sync.RWMutex {
	lock, _ := fs.fileLocks.LoadOrStore(fullPath, &sync.RWMutex{})
	return lock.(*sync.RWMutex)
}

// SaveFile 原子地保存二进制内容
func (fs *FileStorage) SaveFile(dirPath, filename string, content []byte) error {
	fullDirPath := filepath.Join(fs.BaseDir, dirPath)
	if err := os.MkdirAll(fullDirPath, 0755); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}

	fullPath := filepath.Join(fullDirPath, filename)

	lock := fs.getFileLock(fullPath)
	lock.Lock()
	defer lock.Unlock()

	// 先写临时文件，再原子重命名
	tempPath := fullPath + ".tmp"
	if err := os.WriteFile(tempPath, content, 0644); err != nil {
		return fmt.Errorf("写入临时文件失败: %w", err)
	}

	if err := os.Rename(tempPath, fullPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("替换文件失败: %w", err)
	}

	fs.updateCache(fullPath, content)
	return nil
}

// SaveJSONFile 将对象序列化为 JSON 后保存
func (fs *FileStorage) SaveJSONFile(dirPath, filename string, data interface{}) error {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("JSON 序列化失败: %w", err)
	}

	return fs.SaveFile(dirPath, filename, jsonData)
}

// LoadFile 读取文件内容，优先命中缓存
func (fs *FileStorage) LoadFile(dirPath, filename string) ([]byte, error) {
	fullPath := filepath.Join(fs.BaseDir, dirPath, filename)

	lock := fs.getFileLock(fullPath)
	lock.RLock()
	defer lock.RUnlock()

	fs.cacheMutex.RLock()
	if entry, ok := fs.cache[fullPath]; ok && time.Since(entry.timestamp) < fs.cacheTTL {
		data := make([]byte, len(entry.data))
		copy(data, entry.data)
		fs.cacheMutex.RUnlock()
		return data, nil
	}
	fs.cacheMutex.RUnlock()

	data, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, fmt.Errorf("读取文件失败: %w", err)
	}

	fs.updateCache(fullPath, data)
	return data, nil
}

// LoadJSONFile 读取并反序列化 JSON 文件
func (fs *FileStorage) LoadJSONFile(dirPath, filename string, v interface{}) error {
	data, err := fs.LoadFile(dirPath, filename)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("JSON 解析失败: %w", err)
	}

	return nil
}

// FileExists 检查文件是否存在
func (fs *FileStorage) FileExists(dirPath, filename string) bool {
	fullPath := filepath.Join(fs.BaseDir, dirPath, filename)
	info, err := os.Stat(fullPath)
	return err == nil && !info.IsDir()
}

// DirExists 检查目录是否存在
func (fs *FileStorage) DirExists(dirPath string) bool {
	fullPath := filepath.Join(fs.BaseDir, dirPath)
	info, err := os.Stat(fullPath)
	return err == nil && info.IsDir()
}

// DeleteFile 删除文件并使缓存失效
func (fs *FileStorage) DeleteFile(dirPath, filename string) error {
	fullPath := filepath.Join(fs.BaseDir, dirPath, filename)

	lock := fs.getFileLock(fullPath)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(fullPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("删除文件失败: %w", err)
	}

	fs.invalidateCache(fullPath)
	return nil
}

// ListFiles 列出目录下的普通文件名
func (fs *FileStorage) ListFiles(dirPath string) ([]string, error) {
	fullPath := filepath.Join(fs.BaseDir, dirPath)

	entries, err := os.ReadDir(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("读取目录失败: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() {
			files = append(files, entry.Name())
		}
	}

	return files, nil
}

// updateCache 更新读缓存
func (fs *FileStorage) updateCache(path string, data []byte) {
	fs.cacheMutex.Lock()
	defer fs.cacheMutex.Unlock()

	cached := make([]byte, len(data))
	copy(cached, data)

	fs.cache[path] = &cacheEntry{
		data:      cached,
		timestamp: time.Now(),
	}
}

// invalidateCache 移除指定路径的缓存
func (fs *FileStorage) invalidateCache(path string) {
	fs.cacheMutex.Lock()
	defer fs.cacheMutex.Unlock()
	delete(fs.cache, path)
}
