// Package utils holds CSV helpers used by note/task import and export.
package utils

import (
	"encoding/csv"
	"io"
)

// flushEvery 每写入多少行刷新一次缓冲区
const flushEvery = 100

// UTF8BOM 写在 CSV 开头，方便 Excel 识别编码
var UTF8BOM = []byte{0xEF, 0xBB, 0xBF}

// CSVStreamer 流式CSV写入器，避免一次性加载所有数据到内存
type CSVStreamer struct {
	writer      *csv.Writer
	rowsWritten int
}

// NewCSVStreamer 创建新的CSV流式写入器
func NewCSVStreamer(w io.Writer) *CSVStreamer {
	return &CSVStreamer{
		writer: csv.NewWriter(w),
	}
}

// WriteHeader 写入CSV表头
func (cs *CSVStreamer) WriteHeader(headers []string) error {
	return cs.writer.Write(headers)
}

// WriteRow 写入一行；字段的引号转义由 encoding/csv 处理
func (cs *CSVStreamer) WriteRow(row []string) error {
	if err := cs.writer.Write(row); err != nil {
		return err
	}

	cs.rowsWritten++
	if cs.rowsWritten%flushEvery == 0 {
		cs.writer.Flush()
		return cs.writer.Error()
	}
	return nil
}

// Close 刷新缓冲区并返回写入过程中的错误
func (cs *CSVStreamer) Close() error {
	cs.writer.Flush()
	return cs.writer.Error()
}

// RowsWritten 返回已写入的行数（不含表头）
func (cs *CSVStreamer) RowsWritten() int {
	return cs.rowsWritten
}
