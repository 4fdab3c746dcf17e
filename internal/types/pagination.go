package types

import (
	"net/url"
	"strconv"
	"strings"
)

// PaginationResponse 分页响应结构
type PaginationResponse struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
	Total    int `json:"total"`
	Pages    int `json:"pages"`
}

// NewPaginationResponse 根据总数计算页数
func NewPaginationResponse(pq *PaginatedQuery, total int) PaginationResponse {
	return PaginationResponse{
		Page:     pq.Page,
		PageSize: pq.PageSize,
		Total:    total,
		Pages:    (total + pq.PageSize - 1) / pq.PageSize,
	}
}

// PaginatedQuery 分页查询参数
type PaginatedQuery struct {
	Page     int               `json:"page,omitempty"`
	PageSize int               `json:"page_size,omitempty"`
	OrderBy  string            `json:"order_by,omitempty"`
	Order    string            `json:"order,omitempty"`
	Filters  map[string]string `json:"filters,omitempty"`
}

// NewPaginatedQuery 创建新的分页查询参数
func NewPaginatedQuery(page, pageSize int) *PaginatedQuery {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	return &PaginatedQuery{
		Page:     page,
		PageSize: pageSize,
		OrderBy:  "created_at",
		Order:    "DESC",
		Filters:  make(map[string]string),
	}
}

// ParsePaginatedQuery 从 URL 参数解析分页、排序和过滤条件
func ParsePaginatedQuery(values url.Values, filterKeys ...string) *PaginatedQuery {
	page, _ := strconv.Atoi(values.Get("page"))
	pageSize, _ := strconv.Atoi(values.Get("page_size"))

	pq := NewPaginatedQuery(page, pageSize)
	if v := values.Get("order_by"); v != "" {
		pq.OrderBy = v
	}
	if v := values.Get("order"); v != "" {
		pq.Order = v
	}
	for _, key := range filterKeys {
		if v := strings.TrimSpace(values.Get(key)); v != "" {
			pq.SetFilter(key, v)
		}
	}
	return pq
}

// GetOffset 计算偏移量
func (pq *PaginatedQuery) GetOffset() int {
	return (pq.Page - 1) * pq.PageSize
}

// OrderColumn 返回白名单内的排序字段，否则回退到 created_at
func (pq *PaginatedQuery) OrderColumn(allowed map[string]bool) string {
	if allowed[pq.OrderBy] {
		return pq.OrderBy
	}
	return "created_at"
}

// OrderDirection 只允许 ASC / DESC
func (pq *PaginatedQuery) OrderDirection() string {
	if strings.EqualFold(pq.Order, "ASC") {
		return "ASC"
	}
	return "DESC"
}

// SetFilter 设置过滤条件
func (pq *PaginatedQuery) SetFilter(key, value string) {
	if pq.Filters == nil {
		pq.Filters = make(map[string]string)
	}
	pq.Filters[key] = value
}

// GetFilter 获取过滤条件
func (pq *PaginatedQuery) GetFilter(key string) string {
	if pq.Filters == nil {
		return ""
	}
	return pq.Filters[key]
}
