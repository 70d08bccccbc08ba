package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/brauliopf/brain-tumor-classification/classifier"
	"github.com/brauliopf/brain-tumor-classification/config"
	"github.com/brauliopf/brain-tumor-classification/model"
	"github.com/brauliopf/brain-tumor-classification/utils"
)

// ErrQueueFull 等待处理槽位超时
var ErrQueueFull = errors.New("processing queue is full, please retry later")

// ModelProvider 按架构获取已加载的模型
type ModelProvider interface {
	Get(ctx context.Context, arch classifier.Architecture) (classifier.Handle, error)
}

// Request 一次分类请求
type Request struct {
	ImagePath    string
	Filename     string
	MD5          string
	Architecture classifier.Architecture
}

// ClassifyService 预处理 → 推理 → 梯度 → 显著图 → 保存 → 解释
type ClassifyService struct {
	models       ModelProvider
	preprocessor *Preprocessor
	extractor    *GradientExtractor
	compositor   *SaliencyCompositor
	store        *OverlayStore
	explainer    Explainer
	placeholder  string
	saveOriginal bool
	semaphore    chan struct{}
	queueTimeout time.Duration
	tracer       trace.Tracer
}

func NewClassifyService(cfg *config.PipelineConfig, models ModelProvider, compositor *SaliencyCompositor,
	store *OverlayStore, explainer Explainer, placeholder string) *ClassifyService {
	if explainer == nil {
		explainer = NoopExplainer{Text: placeholder}
	}
	return &ClassifyService{
		models:       models,
		preprocessor: NewPreprocessor(),
		extractor:    NewGradientExtractor(),
		compositor:   compositor,
		store:        store,
		explainer:    explainer,
		placeholder:  placeholder,
		saveOriginal: cfg.SaveOriginal,
		semaphore:    make(chan struct{}, max(1, cfg.MaxConcurrent)),
		queueTimeout: time.Duration(cfg.QueueTimeout) * time.Second,
		tracer:       otel.Tracer("tumorscan/service"),
	}
}

// Process 处理单张图片并返回完整结果
func (s *ClassifyService) Process(ctx context.Context, req Request) (*model.ClassifyResult, error) {
	// 并发控制
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer func() { <-s.semaphore }()

	ctx, span := s.tracer.Start(ctx, "classify", trace.WithAttributes(
		attribute.String("md5", req.MD5),
		attribute.String("model", req.Architecture.String())))
	defer span.End()

	result, err := s.process(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

func (s *ClassifyService) acquire(ctx context.Context) error {
	select {
	case s.semaphore <- struct{}{}:
		return nil
	default:
	}

	waitCtx := ctx
	if s.queueTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, s.queueTimeout)
		defer cancel()
	}
	select {
	case s.semaphore <- struct{}{}:
		return nil
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrQueueFull
	}
}

func (s *ClassifyService) process(ctx context.Context, req Request) (*model.ClassifyResult, error) {
	startTime := time.Now()
	log := utils.L(ctx).With(zap.String("md5", req.MD5), zap.String("model", req.Architecture.String()))

	handle, err := s.models.Get(ctx, req.Architecture)
	if err != nil {
		return nil, err
	}
	size := handle.InputSize()

	// 读取图片
	raw, err := os.ReadFile(req.ImagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	img, format, err := s.preprocessor.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	log.Info("processing image",
		zap.String("format", format),
		zap.Int("width", img.Bounds().Dx()),
		zap.Int("height", img.Bounds().Dy()),
		zap.Int("input_size", size))

	_, span := s.tracer.Start(ctx, "preprocess")
	x, resized, err := s.preprocessor.Prepare(img, size)
	span.End()
	if err != nil {
		return nil, err
	}

	predictCtx, span := s.tracer.Start(ctx, "predict")
	probs, err := handle.Predict(predictCtx, x)
	span.End()
	if err != nil {
		return nil, err
	}
	pred, err := classifier.Argmax(probs)
	if err != nil {
		return nil, err
	}

	gradCtx, span := s.tracer.Start(ctx, "gradient", trace.WithAttributes(attribute.Int("class_index", pred.ClassIndex)))
	grad, err := s.extractor.Compute(gradCtx, handle, x, pred.ClassIndex)
	span.End()
	if err != nil {
		return nil, err
	}

	_, span = s.tracer.Start(ctx, "saliency")
	overlay, stats, err := s.compositor.Compose(grad, resized, image.Point{X: size, Y: size})
	span.End()
	if err != nil {
		return nil, err
	}
	if stats.Degenerate {
		log.Warn("degenerate gradient map, skipping normalization",
			zap.Float64("value", stats.Min),
			zap.Int("mask_pixels", stats.MaskPixels))
	}

	persistCtx, span := s.tracer.Start(ctx, "persist")
	overlayPath, overlayMD5, err := s.store.Save(persistCtx, req.Filename, overlay)
	if err == nil && s.saveOriginal {
		if _, oerr := s.store.SaveOriginal(persistCtx, req.Filename, raw); oerr != nil {
			log.Warn("failed to save original image", zap.Error(oerr))
		}
	}
	span.End()
	if err != nil {
		return nil, err
	}

	result := &model.ClassifyResult{
		MD5:           req.MD5,
		Filename:      req.Filename,
		Model:         req.Architecture.String(),
		InputSize:     size,
		Prediction:    pred,
		Probabilities: sortedProbabilities(probs),
		SaliencyPath:  overlayPath,
		SaliencyURL:   s.store.URL(OverlayName(req.Filename)),
		OverlayMD5:    overlayMD5,
		Saliency:      stats,
	}

	// 解释失败不影响分类和显著图结果
	explainCtx, span := s.tracer.Start(ctx, "explain")
	text, err := s.explainer.Explain(explainCtx, overlayPath, pred.Label, pred.Confidence)
	if err != nil {
		span.RecordError(err)
		log.Warn("explanation failed", zap.Error(err))
		result.Explanation = s.placeholder
		result.ExplanationError = err.Error()
	} else {
		result.Explanation = text
	}
	span.End()

	result.Timestamp = time.Now().Unix()
	result.DurationMS = time.Since(startTime).Milliseconds()

	log.Info("image classified successfully",
		zap.String("label", pred.Label),
		zap.Float64("confidence", pred.Confidence),
		zap.Bool("degenerate_gradient", stats.Degenerate),
		zap.Duration("duration", time.Since(startTime)))

	return result, nil
}

// sortedProbabilities 按概率降序
func sortedProbabilities(probs []float32) []model.ClassProbability {
	out := make([]model.ClassProbability, 0, len(probs))
	for i, p := range probs {
		label := fmt.Sprintf("class_%d", i)
		if i < len(classifier.Labels) {
			label = classifier.Labels[i]
		}
		out = append(out, model.ClassProbability{Label: label, Probability: float64(p)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Probability > out[j].Probability
	})
	return out
}
