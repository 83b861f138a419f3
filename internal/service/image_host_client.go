package service

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/Gil-rei/Senzen/internal/config"
	"github.com/Gil-rei/Senzen/internal/metrics"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// ImageUploader 上传图片并返回公开 URL
type ImageUploader interface {
	Upload(ctx context.Context, filename string, data []byte) (string, error)
}

// imageHostResponse 图片托管 API 响应（成功带 secure_url，失败带 error.message）
type imageHostResponse struct {
	SecureURL string `json:"secure_url"`
	Error     *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// ImageHostClient 图片托管 API 客户端
type ImageHostClient struct {
	httpClient   *resty.Client
	cloud        string
	uploadPreset string
	logger       *zap.Logger
}

// NewImageHostClient 创建图片托管客户端
func NewImageHostClient(cfg config.ImageHostConfig, logger *zap.Logger) *ImageHostClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	// multipart body 为一次性 reader，不做自动重试
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	return &ImageHostClient{
		httpClient:   client,
		cloud:        cfg.Cloud,
		uploadPreset: cfg.UploadPreset,
		logger:       logger,
	}
}

var _ ImageUploader = (*ImageHostClient)(nil)

// Upload 以 JPEG 上传，返回 secure_url
func (c *ImageHostClient) Upload(ctx context.Context, filename string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", validationf("empty image")
	}
	start := time.Now()

	var out imageHostResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetPathParam("cloud", c.cloud).
		SetMultipartField("file", filename, "image/jpeg", bytes.NewReader(data)).
		SetFormData(map[string]string{"upload_preset": c.uploadPreset}).
		SetResult(&out).
		SetError(&out).
		Post("/v1_1/{cloud}/image/upload")
	if err != nil {
		metrics.ImageUploadDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		c.logger.Error("Image host upload failed", zap.String("filename", filename), zap.Error(err))
		return "", fmt.Errorf("%w: image host: %v", ErrUpstream, err)
	}

	if out.SecureURL == "" {
		msg := resp.Status()
		if out.Error != nil && out.Error.Message != "" {
			msg = out.Error.Message
		}
		metrics.ImageUploadDuration.WithLabelValues("rejected").Observe(time.Since(start).Seconds())
		c.logger.Warn("Image host rejected upload",
			zap.String("filename", filename),
			zap.Int("status_code", resp.StatusCode()),
			zap.String("msg", msg),
		)
		return "", fmt.Errorf("%w: image host: %s", ErrUpstream, msg)
	}

	metrics.ImageUploadDuration.WithLabelValues("success").Observe(time.Since(start).Seconds())
	c.logger.Info("Image uploaded",
		zap.String("filename", filename),
		zap.Int("bytes", len(data)),
	)
	return out.SecureURL, nil
}
