package service

import (
	"context"
	"fmt"
	"image"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/brauliopf/brain-tumor-classification/utils"
)

// OriginalPrefix 原图副本的文件名前缀
const OriginalPrefix = "original_"

var overlayExts = map[string]gocv.FileExt{
	".png":  gocv.PNGFileExt,
	".jpg":  gocv.JPEGFileExt,
	".jpeg": ".jpeg",
	".bmp":  ".bmp",
}

// Mirror 叠加图的远端副本
type Mirror interface {
	Put(ctx context.Context, name string, data []byte, contentType string) error
}

// OverlayStore 把叠加图写入输出目录，同名覆盖
type OverlayStore struct {
	dir       string
	urlPrefix string
	mirror    Mirror
	locks     *keyedMutex
}

// NewOverlayStore 输出目录需在启动时创建
func NewOverlayStore(dir, urlPrefix string, mirror Mirror) (*OverlayStore, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("output dir unavailable: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("output dir %s is not a directory", dir)
	}
	return &OverlayStore{
		dir:       dir,
		urlPrefix: urlPrefix,
		mirror:    mirror,
		locks:     newKeyedMutex(),
	}, nil
}

func (s *OverlayStore) Dir() string {
	return s.dir
}

// OverlayName 取上传文件的 base name，未知扩展名改为 .png
func OverlayName(filename string) string {
	name := baseName(filename)
	ext := strings.ToLower(filepath.Ext(name))
	if _, ok := overlayExts[ext]; !ok {
		name = strings.TrimSuffix(name, filepath.Ext(name)) + ".png"
	}
	return name
}

func baseName(filename string) string {
	name := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" || name == "" || strings.HasPrefix(name, "..") {
		return "overlay"
	}
	return name
}

// URL 叠加图的访问路径
func (s *OverlayStore) URL(name string) string {
	return path.Join(s.urlPrefix, name)
}

// Save 编码并原子写入叠加图，返回文件路径和内容 md5
func (s *OverlayStore) Save(ctx context.Context, filename string, img *image.RGBA) (string, string, error) {
	name := OverlayName(filename)
	ext := overlayExts[strings.ToLower(filepath.Ext(name))]

	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return "", "", fmt.Errorf("convert overlay: %w", err)
	}
	defer mat.Close()

	buf, err := gocv.IMEncode(ext, mat)
	if err != nil {
		return "", "", fmt.Errorf("encode overlay: %w", err)
	}
	defer buf.Close()

	data := buf.GetBytes()
	dst := filepath.Join(s.dir, name)
	if err := s.write(dst, data); err != nil {
		return "", "", err
	}
	s.mirrorPut(ctx, name, data, contentType(ext))
	return dst, utils.BytesMD5(data), nil
}

// Checksum 当前磁盘上叠加图的 md5
func (s *OverlayStore) Checksum(name string) (string, error) {
	dst := filepath.Join(s.dir, OverlayName(name))
	unlock := s.locks.Lock(dst)
	defer unlock()
	return utils.FileMD5(dst)
}

// SaveOriginal 保存上传的原图副本
func (s *OverlayStore) SaveOriginal(ctx context.Context, filename string, data []byte) (string, error) {
	name := OriginalPrefix + baseName(filename)
	dst := filepath.Join(s.dir, name)
	if err := s.write(dst, data); err != nil {
		return "", err
	}
	return dst, nil
}

// write 同一路径互斥，临时文件写完后 rename
func (s *OverlayStore) write(dst string, data []byte) error {
	unlock := s.locks.Lock(dst)
	defer unlock()

	tmp, err := os.CreateTemp(s.dir, "."+filepath.Base(dst)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write overlay: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write overlay: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to commit overlay: %w", err)
	}
	return nil
}

func (s *OverlayStore) mirrorPut(ctx context.Context, name string, data []byte, ct string) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.Put(ctx, name, data, ct); err != nil {
		utils.L(ctx).Warn("failed to mirror overlay",
			zap.String("name", name),
			zap.Error(err))
	}
}

func contentType(ext gocv.FileExt) string {
	switch ext {
	case gocv.PNGFileExt:
		return "image/png"
	case ".bmp":
		return "image/bmp"
	default:
		return "image/jpeg"
	}
}

// keyedMutex 按 key 加锁，无人持有时回收
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
