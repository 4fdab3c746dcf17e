package response

import (
	"encoding/json"
	"net/http"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// SuccessResponse 发送成功的 JSON 响应
func SuccessResponse(w http.ResponseWriter, data interface{}, status int) {
	writeJSON(w, status, map[string]interface{}{
		"success": true,
		"data":    data,
	})
}

// PaginatedResponse 发送带分页信息的列表响应
func PaginatedResponse(w http.ResponseWriter, data interface{}, pagination interface{}) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"data":       data,
		"pagination": pagination,
	})
}

// ErrorResponse 发送错误 JSON 响应
func ErrorResponse(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

// ValidationErrorResponse 发送带有字段详情的验证错误
func ValidationErrorResponse(w http.ResponseWriter, errors map[string]string) {
	writeJSON(w, http.StatusBadRequest, map[string]interface{}{
		"success": false,
		"error":   "验证失败",
		"fields":  errors,
	})
}

// ConflictResponse 409：客户端需先解决冲突
func ConflictResponse(w http.ResponseWriter, message string, conflict interface{}) {
	writeJSON(w, http.StatusConflict, map[string]interface{}{
		"success":  false,
		"error":    message,
		"conflict": conflict,
	})
}

// MissingFieldsResponse 422：manual_merge 缺少手动值的字段
func MissingFieldsResponse(w http.ResponseWriter, message string, fields []string) {
	writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
		"success": false,
		"error":   message,
		"fields":  fields,
	})
}
