package utils

import (
	"errors"
	"io"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/sirupsen/logrus"
)

// MaxBodyBytes 请求体大小上限，足够容纳 base64 编码的图片附件。
const MaxBodyBytes = 8 << 20

// RespondJSON 以指定状态码返回 JSON 响应。
func RespondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := sonic.ConfigDefault.NewEncoder(w).Encode(payload); err != nil {
		logrus.WithError(err).Warn("failed to encode response")
	}
}

// RespondError 返回 {"error": message}。
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, map[string]string{"error": message})
}

// DecodeJSON 读取受大小限制的 JSON 请求体；空请求体不修改 v。
// 超出上限时返回 *http.MaxBytesError。
func DecodeJSON(r *http.Request, v interface{}) error {
	body, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, MaxBodyBytes))
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	return sonic.Unmarshal(body, v)
}

// RespondDecodeError 将 DecodeJSON 的错误映射为 413 或 400。
func RespondDecodeError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		RespondError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	RespondError(w, http.StatusBadRequest, "invalid request body")
}
