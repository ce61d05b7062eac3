package api

import (
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
)

// UploadAsset сохраняет файл в архив.
// POST /api/v1/assets/{caseType}?ext=pdf
//
// Тело — сам файл либо multipart/form-data с полем file;
// во втором случае расширение по умолчанию берётся из имени файла.
func (h *Handler) UploadAsset(w http.ResponseWriter, r *http.Request) {
	caseType := r.PathValue("caseType")
	if _, err := h.defs.Resolve(caseType); err != nil {
		HandleError(w, h.logger, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	ext := r.URL.Query().Get("ext")
	contentType := r.Header.Get("Content-Type")

	var src io.Reader = r.Body
	if mt, _, _ := mime.ParseMediaType(contentType); mt == "multipart/form-data" {
		file, fh, err := r.FormFile("file")
		if err != nil {
			BadRequest(w, "file field is required")
			return
		}
		defer file.Close()
		src = file
		contentType = fh.Header.Get("Content-Type")
		if ext == "" {
			ext = strings.TrimPrefix(filepath.Ext(fh.Filename), ".")
		}
	}
	if ext == "" {
		BadRequest(w, "ext is required")
		return
	}

	data, err := io.ReadAll(src)
	if err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	if len(data) == 0 {
		BadRequest(w, "empty asset")
		return
	}

	info, err := h.archive.SaveAsset(r.Context(), caseType, ext, contentType, data)
	if HandleError(w, h.logger, err) {
		return
	}
	h.logger.Info("asset uploaded", "case_type", caseType, "asset_id", info.ID, "size", info.Size)
	Created(w, info)
}

// DownloadAsset отдаёт файл из архива.
// GET /api/v1/assets/{caseType}/{id}
func (h *Handler) DownloadAsset(w http.ResponseWriter, r *http.Request) {
	info, data, err := h.archive.ReadAsset(r.Context(), r.PathValue("caseType"), r.PathValue("id"))
	if HandleError(w, h.logger, err) {
		return
	}
	contentType := info.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition", "attachment; filename="+strconv.Quote(info.ID+"."+info.ExtName))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
