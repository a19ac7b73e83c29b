package canhoto

import (
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// maxBatchSize bounds one multipart upload; batches of high-resolution
// phone photos add up quickly.
const maxBatchSize = int64(200 << 20) // 200MB

// manualStorePattern matches the raw store code a user may type into the
// upload form; leading zeros are stripped later during resolution.
var manualStorePattern = regexp.MustCompile(`^\d{1,4}$`)

// corsError writes an error response with CORS headers set
func corsError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	http.Error(w, message, code)
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// jsonError writes a JSON error body with CORS headers set
func jsonError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// writeJSON encodes v as the response body
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// contentTypeFor determines the media type of an uploaded file, falling
// back from the declared header to the filename extension.
func contentTypeFor(filename, declared string) string {
	contentType := strings.ToLower(strings.TrimSpace(declared))
	if contentType != "" && contentType != "application/octet-stream" {
		return contentType
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

// handleUploadBatch ingests a batch of images from a multipart form. The
// form carries repeated "files" parts plus the optional batch-level
// fields "store", "date" and "recognize".
func (s *Server) handleUploadBatch(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxBatchSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		errorMsg := "Error parsing form"
		if err.Error() == "http: request body too large" {
			errorMsg = "Upload is too large. Maximum batch size is 200MB."
		}
		jsonError(w, errorMsg, http.StatusBadRequest)
		return
	}

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		jsonError(w, "No files were selected. Please choose at least one image.", http.StatusBadRequest)
		return
	}

	manualDate := strings.TrimSpace(r.FormValue("date"))
	if manualDate != "" {
		if _, err := time.Parse("2006-01-02", manualDate); err != nil {
			jsonError(w, "Invalid date. Use YYYY-MM-DD.", http.StatusBadRequest)
			return
		}
	}

	manualStore := strings.TrimSpace(r.FormValue("store"))
	if manualStore != "" && !manualStorePattern.MatchString(manualStore) {
		jsonError(w, "Invalid store code. Use 1 to 4 digits.", http.StatusBadRequest)
		return
	}

	opts := BatchOptions{
		Manual: Manual{
			Store: manualStore,
			Date:  manualDate,
		},
		Recognize: parseBool(r.FormValue("recognize")),
	}

	items := make([]BatchItem, 0, len(files))
	for _, header := range files {
		f, err := header.Open()
		if err != nil {
			slog.Error("Error opening uploaded file", "filename", header.Filename, "error", err)
			jsonError(w, "Error reading upload. Please try again.", http.StatusInternalServerError)
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			slog.Error("Error reading file data", "filename", header.Filename, "error", err)
			jsonError(w, "Error reading upload. Please try again.", http.StatusInternalServerError)
			return
		}
		items = append(items, BatchItem{
			Filename:    header.Filename,
			Data:        data,
			ContentType: contentTypeFor(header.Filename, header.Header.Get("Content-Type")),
		})
	}

	result := s.service.ProcessBatch(r.Context(), items, opts, func(done, total int) {
		slog.Info("Batch progress", "done", done, "total", total)
	})

	failed := make([]map[string]string, 0, len(result.Failed))
	for _, f := range result.Failed {
		failed = append(failed, map[string]string{
			"filename": f.Filename,
			"error":    f.Err.Error(),
		})
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"created": result.Created,
		"failed":  failed,
	})
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}

// handleListCanhotos returns all records
func (s *Server) handleListCanhotos(w http.ResponseWriter, r *http.Request) {
	canhotos, err := s.service.ListCanhotos()
	if err != nil {
		slog.Error("Error listing canhotos", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, canhotos)
}

// handleGetCanhoto returns a single record
func (s *Server) handleGetCanhoto(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		corsError(w, "Canhoto ID required", http.StatusBadRequest)
		return
	}
	c, err := s.service.GetCanhoto(id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			corsError(w, "Canhoto not found", http.StatusNotFound)
			return
		}
		slog.Error("Error getting canhoto", "id", id, "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// handleGetImage returns the stored full-resolution image for a record
func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		corsError(w, "Canhoto ID required", http.StatusBadRequest)
		return
	}
	data, mime, err := s.service.GetImage(id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			corsError(w, "Canhoto not found", http.StatusNotFound)
			return
		}
		slog.Error("Error getting image", "id", id, "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", mime)
	w.Write(data)
}

// handleDeleteCanhoto deletes a record; deleting an absent id succeeds
func (s *Server) handleDeleteCanhoto(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		corsError(w, "Canhoto ID required", http.StatusBadRequest)
		return
	}
	if err := s.service.DeleteCanhoto(id); err != nil {
		slog.Error("Error deleting canhoto", "id", id, "error", err)
		corsError(w, "Error deleting canhoto", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSearch finds records by number and/or date
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	num := strings.TrimSpace(r.URL.Query().Get("num"))
	date := strings.TrimSpace(r.URL.Query().Get("date"))

	canhotos, err := s.service.Search(num, date)
	if err != nil {
		if errors.Is(err, ErrEmptyQuery) {
			jsonError(w, "Provide a receipt number or a date.", http.StatusBadRequest)
			return
		}
		slog.Error("Error searching canhotos", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, canhotos)
}

// handleBrowse lists records for a date, optionally narrowed to a store
func (s *Server) handleBrowse(w http.ResponseWriter, r *http.Request) {
	date := strings.TrimSpace(r.URL.Query().Get("date"))
	store := strings.TrimSpace(r.URL.Query().Get("store"))

	canhotos, err := s.service.Browse(date, store)
	if err != nil {
		if errors.Is(err, ErrDateRequired) {
			jsonError(w, "Provide a date to browse.", http.StatusBadRequest)
			return
		}
		slog.Error("Error browsing canhotos", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, canhotos)
}

// handleExportBackup streams the backup document as a download
func (s *Server) handleExportBackup(w http.ResponseWriter, r *http.Request) {
	doc, err := s.service.Export()
	if err != nil {
		slog.Error("Error exporting backup", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	filename := "backup_canhotos_" + doc.ExportedAt[:10] + ".json"
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	writeJSON(w, http.StatusOK, doc)
}

// handleImportBackup imports a backup document from the request body
func (s *Server) handleImportBackup(w http.ResponseWriter, r *http.Request) {
	var doc Backup
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		jsonError(w, "Invalid backup document", http.StatusBadRequest)
		return
	}

	n, err := s.service.Import(&doc)
	if err != nil {
		if errors.Is(err, ErrBadBackup) {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		slog.Error("Error importing backup", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"imported": n})
}

// handleSaveBackup writes a dated backup file into the backup directory
func (s *Server) handleSaveBackup(w http.ResponseWriter, r *http.Request) {
	name, err := s.service.ExportToFile()
	if err != nil {
		slog.Error("Error saving backup", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"filename": name})
}

// handleRestoreBackup imports a backup file from the backup directory
func (s *Server) handleRestoreBackup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Filename string `json:"filename"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Filename == "" {
		jsonError(w, "Provide the backup filename to restore.", http.StatusBadRequest)
		return
	}

	n, err := s.service.ImportFromFile(req.Filename)
	if err != nil {
		if errors.Is(err, ErrBadBackup) {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if errors.Is(err, fs.ErrNotExist) {
			jsonError(w, "Backup file not found.", http.StatusNotFound)
			return
		}
		slog.Error("Error restoring backup", "filename", req.Filename, "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"imported": n})
}
