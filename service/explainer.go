package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/brauliopf/brain-tumor-classification/config"
)

// ErrEmptyExplanation 模型返回空文本
var ErrEmptyExplanation = errors.New("explainer returned empty text")

// Explainer 根据叠加图与预测结果生成文字解释
type Explainer interface {
	Explain(ctx context.Context, imagePath, label string, confidence float64) (string, error)
}

// NewExplainer 按 provider 构造解释客户端
func NewExplainer(cfg *config.ExplainerConfig) (Explainer, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "none", "noop":
		return NoopExplainer{Text: cfg.Placeholder}, nil
	case "ollama":
		return NewOllamaExplainer(cfg)
	default:
		return nil, fmt.Errorf("unknown explainer provider %q", cfg.Provider)
	}
}

// OllamaExplainer 通过 ollama 多模态模型生成解释
type OllamaExplainer struct {
	client       *api.Client
	model        string
	timeout      time.Duration
	maxSentences int
}

func NewOllamaExplainer(cfg *config.ExplainerConfig) (*OllamaExplainer, error) {
	var client *api.Client
	if cfg.Host == "" {
		c, err := api.ClientFromEnvironment()
		if err != nil {
			return nil, err
		}
		client = c
	} else {
		base, err := url.Parse(cfg.Host)
		if err != nil {
			return nil, fmt.Errorf("invalid explainer host: %w", err)
		}
		client = api.NewClient(base, http.DefaultClient)
	}
	return &OllamaExplainer{
		client:       client,
		model:        cfg.Model,
		timeout:      cfg.Timeout,
		maxSentences: cfg.MaxSentences,
	}, nil
}

// Explain 附带叠加图调用 /api/generate（非流式）
func (e *OllamaExplainer) Explain(ctx context.Context, imagePath, label string, confidence float64) (string, error) {
	img, err := os.ReadFile(imagePath)
	if err != nil {
		return "", fmt.Errorf("read overlay: %w", err)
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	stream := false
	req := &api.GenerateRequest{
		Model:  e.model,
		Prompt: ExplanationPrompt(label, confidence, e.maxSentences),
		Images: []api.ImageData{img},
		Stream: &stream,
	}

	var sb strings.Builder
	err = e.client.Generate(ctx, req, func(resp api.GenerateResponse) error {
		sb.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("generate explanation: %w", err)
	}

	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", ErrEmptyExplanation
	}
	return text, nil
}

// ExplanationPrompt 神经科专家角色的提示词
func ExplanationPrompt(label string, confidence float64, maxSentences int) string {
	if maxSentences <= 0 {
		maxSentences = 4
	}
	return fmt.Sprintf(`You are an expert neurologist. You are tasked with explaining a saliency map of a brain tumor MRI scan.
The saliency map was generated by a deep learning model that was trained to classify brain tumors
as either glioma, meningioma, pituitary, or no tumor.

The saliency map highlights the regions of the image that the machine learning model is focusing on to make the prediction.

The deep learning model predicted the image to be of class '%s' with a confidence of %.2f%%.

In your response:
- Explain what regions of the brain the model is focusing on, based on the saliency map. Refer to the regions highlighted
in light cyan, those are the regions where the model is focusing on.
- Explain possible reasons why the model made the prediction it did.
- Don't mention anything like 'The saliency map highlights the regions the model is focusing on, which are in light cyan'
in your explanation.
- Keep your explanation to %d sentences max.
`, label, confidence*100, maxSentences)
}

// NoopExplainer 不调用外部服务
type NoopExplainer struct {
	Text string
}

func (n NoopExplainer) Explain(context.Context, string, string, float64) (string, error) {
	if n.Text == "" {
		return "Explanation disabled.", nil
	}
	return n.Text, nil
}
