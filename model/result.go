package model

// Prediction 单次推理的预测结果
type Prediction struct {
	ClassIndex int     `json:"class_index"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// ClassProbability 单个类别的概率
type ClassProbability struct {
	Label       string  `json:"label"`
	Probability float64 `json:"probability"`
}

// SaliencyStats 显著图处理过程中的统计信息
type SaliencyStats struct {
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
	Mean        float64 `json:"mean"`
	Threshold   float64 `json:"threshold"`
	Degenerate  bool    `json:"degenerate"`
	MaskRadius  float64 `json:"mask_radius"`
	MaskPixels  int     `json:"mask_pixels"`
	KeptPixels  int     `json:"kept_pixels"`
	KeptPercent float64 `json:"kept_percent"`
}

// ClassifyResult 分类 + 显著图 + 解释的完整结果
type ClassifyResult struct {
	MD5              string             `json:"md5"`
	Filename         string             `json:"filename"`
	Model            string             `json:"model"`
	InputSize        int                `json:"input_size"`
	Prediction       Prediction         `json:"prediction"`
	Probabilities    []ClassProbability `json:"probabilities"`
	SaliencyPath     string             `json:"saliency_path"`
	SaliencyURL      string             `json:"saliency_url"`
	// OverlayMD5 写入时叠加图文件的 md5，同名覆盖后缓存随之失效
	OverlayMD5       string             `json:"overlay_md5"`
	Saliency         SaliencyStats      `json:"saliency"`
	Explanation      string             `json:"explanation"`
	ExplanationError string             `json:"explanation_error,omitempty"`
	Timestamp        int64              `json:"timestamp"`
	DurationMS       int64              `json:"duration_ms"`
}

// ModelInfo 可选模型信息
type ModelInfo struct {
	Key         string `json:"key"`
	DisplayName string `json:"display_name"`
	InputSize   int    `json:"input_size"`
	Default     bool   `json:"default"`
}

// ClassifyResponse 分类接口响应
type ClassifyResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    *ClassifyResult `json:"data,omitempty"`
}

// ModelsResponse 模型列表响应
type ModelsResponse struct {
	Success bool        `json:"success"`
	Data    []ModelInfo `json:"data"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}
