package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
)

const (
	maxBodyBytes  = 1 << 16
	maxQueryLimit = 1000
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeFail 统一的失败响应 {success:false, message}
func writeFail(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"message": message,
	})
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	i, err := strconv.Atoi(s)
	if err != nil || i <= 0 {
		return def
	}
	return i
}

// parseLimit 解析 limit 参数，非法时取默认值，上限 maxQueryLimit
func parseLimit(s string, def int) int {
	return min(parseInt(s, def), maxQueryLimit)
}

func readBodyJSON(r *http.Request, maxBytes int64, out any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBytes))
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}
