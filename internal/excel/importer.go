// internal/excel/importer.go
//
// Excel / CSV からの単語一括登録。
// 1列目: 日本語、2列目: 中国語訳、3列目: 例文（任意）、4列目: カテゴリパス
// （"/" 区切り、任意）。既存と内容ペアが同じ行はスキップする。
package excel

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"go_5_vocab_sync/internal/model"
	"go_5_vocab_sync/internal/store"
)

// ImportResult は一括登録の集計結果
type ImportResult struct {
	Created int      `json:"created"`
	Skipped int      `json:"skipped"`
	Errors  []string `json:"errors,omitempty"`
}

type Importer struct {
	store  store.Manager
	logger *slog.Logger
}

func NewImporter(st store.Manager, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{store: st, logger: logger}
}

// ImportFile は拡張子でフォーマットを判別してファイルを取り込みます
func (i *Importer) ImportFile(ctx context.Context, path string) (*ImportResult, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return i.importExcel(ctx, path)
	case ".csv":
		return i.importCSV(ctx, path)
	default:
		return nil, model.NewAppError("INVALID_INPUT", "対応していないファイル形式です。", "path", model.ErrInvalidInput)
	}
}

func (i *Importer) importExcel(ctx context.Context, path string) (*ImportResult, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, model.NewAppError("INVALID_INPUT", "Excelファイルを開けません。", "path", model.ErrInvalidInput)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, model.NewAppError("INVALID_INPUT", "シートを読み取れません。", "path", model.ErrInvalidInput)
	}
	i.logger.Info("Importing words from Excel",
		slog.String("path", path), slog.String("sheet", sheet), slog.Int("rows", len(rows)))
	return i.importRows(ctx, rows)
}

func (i *Importer) importCSV(ctx context.Context, path string) (*ImportResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, model.NewAppError("INVALID_INPUT", "CSVファイルを開けません。", "path", model.ErrInvalidInput)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, model.NewAppError("INVALID_INPUT", "CSVを読み取れません。", "path", model.ErrInvalidInput)
	}
	i.logger.Info("Importing words from CSV", slog.String("path", path), slog.Int("rows", len(rows)))
	return i.importRows(ctx, rows)
}

// importRows は行を順に AddWord へ流し込みます。
// 重複はスキップ、それ以外の失敗は行番号付きでエラーに積んで続行する。
func (i *Importer) importRows(ctx context.Context, rows [][]string) (*ImportResult, error) {
	result := &ImportResult{}
	for idx, row := range rows {
		if idx == 0 && isHeaderRow(row) {
			continue
		}
		req, ok := rowToRequest(row)
		if !ok {
			if !isEmptyRow(row) {
				result.Errors = append(result.Errors, fmt.Sprintf("row %d: japanese and chinese are required", idx+1))
			}
			continue
		}
		_, err := i.store.AddWord(ctx, req)
		switch {
		case err == nil:
			result.Created++
		case isDuplicate(err):
			result.Skipped++
		default:
			result.Errors = append(result.Errors, fmt.Sprintf("row %d: %v", idx+1, err))
		}
	}
	i.logger.Info("Word import finished",
		slog.Int("created", result.Created), slog.Int("skipped", result.Skipped), slog.Int("errors", len(result.Errors)))
	return result, nil
}

func rowToRequest(row []string) (*model.AddWordRequest, bool) {
	get := func(n int) string {
		if n < len(row) {
			return strings.TrimSpace(row[n])
		}
		return ""
	}
	ja, zh := get(0), get(1)
	if ja == "" || zh == "" {
		return nil, false
	}
	req := &model.AddWordRequest{Japanese: ja, Chinese: zh, Context: get(2)}
	if path := get(3); path != "" {
		req.CategoryPath = strings.Split(path, "/")
	}
	return req, true
}

func isHeaderRow(row []string) bool {
	if len(row) == 0 {
		return false
	}
	head := strings.ToLower(strings.TrimSpace(row[0]))
	return head == "japanese" || head == "日本語"
}

func isEmptyRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func isDuplicate(err error) bool {
	return errors.Is(err, model.ErrDuplicate)
}
