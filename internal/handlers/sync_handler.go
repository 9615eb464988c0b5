// internal/handlers/sync_handler.go
package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"go_5_vocab_sync/internal/excel"
	"go_5_vocab_sync/internal/middleware"
	"go_5_vocab_sync/internal/model"
	"go_5_vocab_sync/internal/store"
	"go_5_vocab_sync/internal/webutil"
)

// SyncHandler は再同期・エクスポート・インポートのエンドポイント群
type SyncHandler struct {
	store    store.Manager
	importer *excel.Importer
	logger   *slog.Logger
}

func NewSyncHandler(st store.Manager, importer *excel.Importer, logger *slog.Logger) *SyncHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SyncHandler{store: st, importer: importer, logger: logger}
}

// SyncStatusResponse は同期状態レスポンス
type SyncStatusResponse struct {
	Online          bool   `json:"online"`
	LastSync        string `json:"lastSync,omitempty"`
	CurrentLanguage string `json:"currentLanguage,omitempty"`
}

// ExcelImportRequest はファイルパス指定のインポートリクエスト
type ExcelImportRequest struct {
	Path string `json:"path" validate:"required"`
}

func (h *SyncHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := SyncStatusResponse{Online: h.store.Online()}
	if ts, ok := h.store.Engine().LastSyncTime(); ok {
		resp.LastSync = ts.UTC().Format(time.RFC3339)
	}
	if lang, ok := h.store.CurrentLanguage(); ok {
		resp.CurrentLanguage = lang.Code
	}
	webutil.RespondWithJSON(w, http.StatusOK, resp)
}

// PostResync はリモートとの再取り込みを手動で実行します
func (h *SyncHandler) PostResync(w http.ResponseWriter, r *http.Request) {
	logger := middleware.GetLogger(r.Context())

	if err := h.store.Resync(r.Context()); err != nil {
		logger.Warn("Manual resync failed", slog.Any("error", err))
		webutil.HandleError(w, logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SyncHandler) GetExport(w http.ResponseWriter, r *http.Request) {
	logger := middleware.GetLogger(r.Context())

	doc, err := h.store.Export(r.Context())
	if err != nil {
		webutil.HandleError(w, logger, err)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="vocab-export.json"`)
	webutil.RespondWithJSON(w, http.StatusOK, doc)
}

func (h *SyncHandler) PostImport(w http.ResponseWriter, r *http.Request) {
	logger := middleware.GetLogger(r.Context())

	var doc model.ExportDocument
	if err := webutil.DecodeJSONBody(r, &doc); err != nil {
		webutil.HandleError(w, logger, err)
		return
	}
	result, err := h.store.Import(r.Context(), &doc)
	if err != nil {
		webutil.HandleError(w, logger, err)
		return
	}
	logger.Info("Import completed",
		slog.Int("created", result.Created), slog.Int("skipped", result.Skipped))
	webutil.RespondWithJSON(w, http.StatusOK, result)
}

// PostExcelImport はローカルの Excel / CSV ファイルから単語を取り込みます
func (h *SyncHandler) PostExcelImport(w http.ResponseWriter, r *http.Request) {
	logger := middleware.GetLogger(r.Context())

	var req ExcelImportRequest
	if err := webutil.DecodeJSONBody(r, &req); err != nil {
		webutil.HandleError(w, logger, err)
		return
	}
	result, err := h.importer.ImportFile(r.Context(), req.Path)
	if err != nil {
		webutil.HandleError(w, logger, err)
		return
	}
	logger.Info("Excel import completed", slog.String("path", req.Path),
		slog.Int("created", result.Created), slog.Int("skipped", result.Skipped))
	webutil.RespondWithJSON(w, http.StatusOK, result)
}
