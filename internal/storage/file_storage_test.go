package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestStorage(t *testing.T) *FileStorage {
	t.Helper()
	fs, err := NewFileStorage(t.TempDir())
	if err != nil {
		t.Fatalf("创建存储失败: %v", err)
	}
	return fs
}

func TestSaveAndLoadFile(t *testing.T) {
	fs := newTestStorage(t)

	content := []byte("storyboard archive payload")
	if err := fs.SaveFile("exports", "board.zip", content); err != nil {
		t.Fatalf("保存文件失败: %v", err)
	}

	loaded, err := fs.LoadFile("exports", "board.zip")
	if err != nil {
		t.Fatalf("读取文件失败: %v", err)
	}
	if string(loaded) != string(content) {
		t.Errorf("读取内容不匹配: %q", string(loaded))
	}
}

func TestSaveJSONFileRoundtrip(t *testing.T) {
	fs := newTestStorage(t)

	type record struct {
		Remaining int  `json:"remaining"`
		Infinite  bool `json:"infinite"`
	}

	if err := fs.SaveJSONFile("", "credits.json", record{Remaining: 120, Infinite: false}); err != nil {
		t.Fatalf("保存 JSON 失败: %v", err)
	}

	var loaded record
	if err := fs.LoadJSONFile("", "credits.json", &loaded); err != nil {
		t.Fatalf("读取 JSON 失败: %v", err)
	}
	if loaded.Remaining != 120 || loaded.Infinite {
		t.Errorf("JSON 内容不匹配: %+v", loaded)
	}
}

func TestOverwriteInvalidatesCache(t *testing.T) {
	fs := newTestStorage(t)

	if err := fs.SaveFile("", "state.json", []byte("v1")); err != nil {
		t.Fatalf("保存文件失败: %v", err)
	}
	if _, err := fs.LoadFile("", "state.json"); err != nil {
		t.Fatalf("读取文件失败: %v", err)
	}

	// 覆盖写入后不应再读到旧缓存
	if err := fs.SaveFile("", "state.json", []byte("v2")); err != nil {
		t.Fatalf("覆盖文件失败: %v", err)
	}
	loaded, err := fs.LoadFile("", "state.json")
	if err != nil {
		t.Fatalf("读取文件失败: %v", err)
	}
	if string(loaded) != "v2" {
		t.Errorf("应读取到覆盖后的内容，实际为 %q", string(loaded))
	}
}

func TestLoadMissingFile(t *testing.T) {
	fs := newTestStorage(t)

	if _, err := fs.LoadFile("", "missing.json"); err == nil {
		t.Error("读取不存在的文件应返回错误")
	}
}

func TestFileExists(t *testing.T) {
	fs := newTestStorage(t)

	if fs.FileExists("exports", "a.zip") {
		t.Error("文件尚未创建时 FileExists 应返回 false")
	}

	if err := fs.SaveFile("exports", "a.zip", []byte("x")); err != nil {
		t.Fatalf("保存文件失败: %v", err)
	}
	if !fs.FileExists("exports", "a.zip") {
		t.Error("文件创建后 FileExists 应返回 true")
	}
	if !fs.DirExists("exports") {
		t.Error("目录创建后 DirExists 应返回 true")
	}
}

func TestDeleteFile(t *testing.T) {
	fs := newTestStorage(t)

	if err := fs.SaveFile("", "temp.bin", []byte("x")); err != nil {
		t.Fatalf("保存文件失败: %v", err)
	}
	if err := fs.DeleteFile("", "temp.bin"); err != nil {
		t.Fatalf("删除文件失败: %v", err)
	}
	if fs.FileExists("", "temp.bin") {
		t.Error("删除后文件不应存在")
	}
}

func TestListFiles(t *testing.T) {
	fs := newTestStorage(t)

	for _, name := range []string{"b.zip", "a.zip"} {
		if err := fs.SaveFile("exports", name, []byte("x")); err != nil {
			t.Fatalf("保存文件失败: %v", err)
		}
	}
	// 子目录不应出现在列表中
	if err := os.MkdirAll(filepath.Join(fs.BaseDir, "exports", "nested"), 0755); err != nil {
		t.Fatalf("创建子目录失败: %v", err)
	}

	files, err := fs.ListFiles("exports")
	if err != nil {
		t.Fatalf("列出文件失败: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("应列出 2 个文件，实际为 %v", files)
	}
	seen := map[string]bool{}
	for _, f := range files {
		seen[f] = true
	}
	if !seen["a.zip"] || !seen["b.zip"] {
		t.Errorf("文件列表不完整: %v", files)
	}
}

func TestAtomicWriteLeavesNoTempFiles(t *testing.T) {
	fs := newTestStorage(t)

	if err := fs.SaveFile("", "data.json", []byte("content")); err != nil {
		t.Fatalf("保存文件失败: %v", err)
	}

	entries, err := os.ReadDir(fs.BaseDir)
	if err != nil {
		t.Fatalf("读取目录失败: %v", err)
	}
	for _, entry := range entries {
		if entry.Name() != "data.json" {
			t.Errorf("不应残留临时文件: %s", entry.Name())
		}
	}
}
