package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/brauliopf/brain-tumor-classification/classifier"
	"github.com/brauliopf/brain-tumor-classification/config"
	"github.com/brauliopf/brain-tumor-classification/model"
	"github.com/brauliopf/brain-tumor-classification/service"
	"github.com/brauliopf/brain-tumor-classification/utils"
)

// Pipeline 分类流水线
type Pipeline interface {
	Process(ctx context.Context, req service.Request) (*model.ClassifyResult, error)
}

// ResultCache 分类结果缓存，filename 非空时只命中同名叠加图
type ResultCache interface {
	GetResult(ctx context.Context, md5, modelKey, filename string) (*model.ClassifyResult, error)
	SetResult(ctx context.Context, result *model.ClassifyResult) error
}

// Catalog 可选模型列表
type Catalog interface {
	Specs() []classifier.Spec
}

type ClassifyHandler struct {
	cfg      *config.Config
	cache    ResultCache
	pipeline Pipeline
	catalog  Catalog
}

// NewClassifyHandler cache 为 nil 时不使用缓存
func NewClassifyHandler(cfg *config.Config, cache ResultCache, pipeline Pipeline, catalog Catalog) *ClassifyHandler {
	return &ClassifyHandler{
		cfg:      cfg,
		cache:    cache,
		pipeline: pipeline,
		catalog:  catalog,
	}
}

// Classify 处理 MRI 图片上传并分类
func (h *ClassifyHandler) Classify(c *gin.Context) {
	ctx := c.Request.Context()
	log := utils.L(ctx)

	file, err := c.FormFile("image")
	if err != nil {
		log.Error("failed to get uploaded file", zap.Error(err))
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "please upload an MRI image",
			Error:   err.Error(),
		})
		return
	}

	// 验证文件大小
	if file.Size > h.cfg.Upload.MaxSize {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: fmt.Sprintf("file exceeds size limit (%d MB)", h.cfg.Upload.MaxSize/(1024*1024)),
		})
		return
	}

	// 验证文件类型
	contentType := file.Header.Get("Content-Type")
	if !h.isAllowedType(contentType) {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "unsupported file type, only JPEG/PNG are accepted",
		})
		return
	}

	arch, err := classifier.ParseArchitecture(c.DefaultPostForm("model", h.cfg.Pipeline.DefaultModel))
	if err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "unknown model",
			Error:   err.Error(),
		})
		return
	}

	// 生成文件名
	ext := filepath.Ext(file.Filename)
	savePath := filepath.Join(h.cfg.Upload.UploadDir, utils.GenerateID()+ext)

	// 保存文件
	if err := c.SaveUploadedFile(file, savePath); err != nil {
		log.Error("failed to save file", zap.Error(err))
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Success: false,
			Message: "failed to save upload",
			Error:   err.Error(),
		})
		return
	}

	// 处理完成后删除临时文件（如果配置启用）
	if h.cfg.Pipeline.CleanupTempFiles {
		defer func() {
			if err := os.Remove(savePath); err != nil {
				log.Warn("failed to delete temp file",
					zap.String("file", savePath),
					zap.Error(err))
			} else {
				log.Debug("temp file deleted",
					zap.String("file", savePath))
			}
		}()
	}

	// 计算MD5
	md5, err := utils.FileMD5(savePath)
	if err != nil {
		log.Error("failed to calculate md5", zap.Error(err))
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Success: false,
			Message: "failed to hash upload",
			Error:   err.Error(),
		})
		return
	}

	log.Info("file uploaded",
		zap.String("filename", file.Filename),
		zap.String("md5", md5),
		zap.Int64("size", file.Size),
		zap.String("model", arch.String()))

	// 检查缓存（按模型和叠加图文件名区分）
	if h.cache != nil {
		cached, err := h.cache.GetResult(ctx, md5, arch.String(), file.Filename)
		if err != nil {
			log.Warn("failed to get cache", zap.Error(err))
		}
		if cached != nil {
			log.Info("cache hit", zap.String("md5", md5), zap.String("model", arch.String()))
			c.JSON(http.StatusOK, model.ClassifyResponse{
				Success: true,
				Message: "classified (from cache)",
				Data:    cached,
			})
			return
		}
	}

	result, err := h.pipeline.Process(ctx, service.Request{
		ImagePath:    savePath,
		Filename:     file.Filename,
		MD5:          md5,
		Architecture: arch,
	})
	if err != nil {
		log.Error("failed to classify image", zap.Error(err))
		status, message := statusFor(err)
		c.JSON(status, model.ErrorResponse{
			Success: false,
			Message: message,
			Error:   err.Error(),
		})
		return
	}

	// 保存到缓存
	if h.cache != nil {
		if err := h.cache.SetResult(ctx, result); err != nil {
			log.Warn("failed to set cache", zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, model.ClassifyResponse{
		Success: true,
		Message: "classified",
		Data:    result,
	})
}

// GetByMD5 根据 MD5 和模型获取缓存的结果
func (h *ClassifyHandler) GetByMD5(c *gin.Context) {
	md5 := c.Param("md5")
	if md5 == "" {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "missing md5 parameter",
		})
		return
	}

	arch, err := classifier.ParseArchitecture(c.DefaultQuery("model", h.cfg.Pipeline.DefaultModel))
	if err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "unknown model",
			Error:   err.Error(),
		})
		return
	}

	if h.cache == nil {
		c.JSON(http.StatusNotFound, model.ErrorResponse{
			Success: false,
			Message: "result cache is disabled",
		})
		return
	}

	result, err := h.cache.GetResult(c.Request.Context(), md5, arch.String(), "")
	if err != nil {
		utils.L(c.Request.Context()).Error("failed to get classify result", zap.Error(err))
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Success: false,
			Message: "lookup failed",
			Error:   err.Error(),
		})
		return
	}

	if result == nil {
		c.JSON(http.StatusNotFound, model.ErrorResponse{
			Success: false,
			Message: "no result for this image and model",
		})
		return
	}

	c.JSON(http.StatusOK, model.ClassifyResponse{
		Success: true,
		Message: "found",
		Data:    result,
	})
}

// Models 列出部署表中的模型
func (h *ClassifyHandler) Models(c *gin.Context) {
	specs := h.catalog.Specs()
	infos := make([]model.ModelInfo, 0, len(specs))
	for _, s := range specs {
		infos = append(infos, model.ModelInfo{
			Key:         s.Key,
			DisplayName: s.DisplayName,
			InputSize:   s.InputSize,
			Default:     strings.EqualFold(s.Key, h.cfg.Pipeline.DefaultModel),
		})
	}
	c.JSON(http.StatusOK, model.ModelsResponse{Success: true, Data: infos})
}

func (h *ClassifyHandler) isAllowedType(contentType string) bool {
	for _, allowed := range h.cfg.Upload.AllowedTypes {
		if strings.EqualFold(contentType, allowed) {
			return true
		}
	}
	return false
}

// statusFor 错误到 HTTP 状态码的映射
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrQueueFull):
		return http.StatusServiceUnavailable, "processing queue is full, please retry later"
	case errors.Is(err, classifier.ErrShapeMismatch):
		return http.StatusBadRequest, "image does not match the model input"
	case errors.Is(err, service.ErrUnreadableImage):
		return http.StatusBadRequest, "image could not be decoded"
	case errors.Is(err, classifier.ErrModelLoad):
		return http.StatusInternalServerError, "model unavailable"
	default:
		return http.StatusInternalServerError, "classification failed"
	}
}
