package utils

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrEmptyCSV 输入没有表头
var ErrEmptyCSV = errors.New("csv: missing header row")

// CSVReader CSV读取器，用于数据导入
type CSVReader struct {
	reader  *csv.Reader
	maxRows int
}

// NewCSVReader 创建新的CSV读取器；maxRows <= 0 表示不限制
func NewCSVReader(r io.Reader, maxRows int) *CSVReader {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	return &CSVReader{
		reader:  reader,
		maxRows: maxRows,
	}
}

// ReadAll 读取所有记录，按表头（小写、去空白、去 BOM）转换为 map。
// 单元格原样保留，是否去空白由调用方决定。
func (cr *CSVReader) ReadAll() ([]map[string]string, error) {
	headers, err := cr.reader.Read()
	if err == io.EOF {
		return nil, ErrEmptyCSV
	}
	if err != nil {
		return nil, err
	}
	for i, h := range headers {
		if i == 0 {
			h = string(bytes.TrimPrefix([]byte(h), UTF8BOM))
		}
		headers[i] = strings.ToLower(strings.TrimSpace(h))
	}

	records := []map[string]string{}
	for {
		record, err := cr.reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if cr.maxRows > 0 && len(records) >= cr.maxRows {
			return nil, fmt.Errorf("csv: more than %d rows", cr.maxRows)
		}

		row := make(map[string]string, len(headers))
		for i, value := range record {
			if i < len(headers) {
				row[headers[i]] = value
			}
		}
		records = append(records, row)
	}

	return records, nil
}
