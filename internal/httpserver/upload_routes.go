package httpserver

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kiananasiri/therapyconnect/internal/config"
	"github.com/kiananasiri/therapyconnect/internal/domain"
)

var allowedUploadExt = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".webp": {},
	".pdf": {}, ".txt": {}, ".doc": {}, ".docx": {},
}

// UploadRoutes returns a sub-router mounted at /api/uploads.
//   - POST /          -> store a multipart "file" and return its attachment descriptor
//   - GET /{filename} -> serve a stored file
func UploadRoutes(cfg *config.Config, log *zap.Logger) chi.Router {
	r := chi.NewRouter()
	maxBytes := int64(cfg.MaxUploadMB) << 20

	r.Post("/", func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		if err := r.ParseMultipartForm(maxBytes); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to parse multipart form"})
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing file"})
			return
		}
		defer file.Close()

		ext := strings.ToLower(filepath.Ext(header.Filename))
		if _, ok := allowedUploadExt[ext]; !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported file type"})
			return
		}

		filename := strconv.FormatInt(time.Now().UnixNano(), 10) + ext
		out, err := os.Create(filepath.Join(cfg.UploadDir, filename))
		if err != nil {
			log.Error("create upload", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not create file"})
			return
		}
		defer out.Close()

		size, err := io.Copy(out, file)
		if err != nil {
			log.Error("write upload", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not save file"})
			return
		}

		writeJSON(w, http.StatusCreated, domain.Attachment{
			URL:  "/api/uploads/" + filename,
			Name: filepath.Base(header.Filename),
			Size: size,
		})
	})

	r.Get("/{filename}", func(w http.ResponseWriter, r *http.Request) {
		filename := chi.URLParam(r, "filename")
		if filename == "" {
			http.Error(w, "missing filename", http.StatusBadRequest)
			return
		}
		// Prevent path traversal by not allowing separators.
		if filepath.Base(filename) != filename {
			http.Error(w, "invalid filename", http.StatusBadRequest)
			return
		}
		http.ServeFile(w, r, filepath.Join(cfg.UploadDir, filename))
	})

	return r
}
