package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
)

// SignatureHeader 是 GitHub 携带 HMAC-SHA256 签名的请求头。
const SignatureHeader = "X-Hub-Signature-256"

// 验签模式
const (
	SignatureModeSigned   = "signed"
	SignatureModeUnsigned = "unsigned"
	SignatureModeRefuse   = "refuse"
)

// SignatureVerifier 校验 webhook 原始请求体的 HMAC 签名。
type SignatureVerifier struct {
	secret        []byte
	allowUnsigned bool
	logger        *slog.Logger
}

// NewSignatureVerifier 构造校验器。secret 为空且未显式允许无签名模式时拒绝所有请求；
// 显式允许时每次放行都会输出 WARN 日志。
func NewSignatureVerifier(secret string, allowUnsigned bool, logger *slog.Logger) *SignatureVerifier {
	if logger == nil {
		logger = slog.Default()
	}
	v := &SignatureVerifier{
		secret:        []byte(strings.TrimSpace(secret)),
		allowUnsigned: allowUnsigned,
		logger:        logger,
	}
	switch v.Mode() {
	case SignatureModeUnsigned:
		logger.Warn("webhook signature verification is DISABLED: unsigned payloads will be accepted")
	case SignatureModeRefuse:
		logger.Error("webhook secret is not configured: all webhook deliveries will be rejected")
	}
	return v
}

// Mode 返回当前验签模式。
func (v *SignatureVerifier) Mode() string {
	switch {
	case len(v.secret) > 0:
		return SignatureModeSigned
	case v.allowUnsigned:
		return SignatureModeUnsigned
	default:
		return SignatureModeRefuse
	}
}

// Verify 对 body 计算 HMAC-SHA256 并以常量时间与 header 比较。
// header 形如 "sha256=<hex>"；缺失或格式错误一律视为拒绝。
func (v *SignatureVerifier) Verify(body []byte, header string) bool {
	switch v.Mode() {
	case SignatureModeRefuse:
		return false
	case SignatureModeUnsigned:
		v.logger.Warn("accepting webhook without signature verification")
		return true
	}
	return VerifySignature(v.secret, body, header)
}

// VerifySignature 是无状态的签名校验，secret 为空时总是返回 false。
func VerifySignature(secret, body []byte, header string) bool {
	if len(secret) == 0 {
		return false
	}

	header = strings.TrimSpace(header)
	hexSignature, found := strings.CutPrefix(header, "sha256=")
	if !found || hexSignature == "" {
		return false
	}

	claimed, err := hex.DecodeString(hexSignature)
	if err != nil || len(claimed) != sha256.Size {
		return false
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), claimed)
}

// SignBody 生成 GitHub 格式的签名头，供测试与示例脚本使用。
func SignBody(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
