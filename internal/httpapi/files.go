package httpapi

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/ckoval7/challengectl/internal/apperr"
	"github.com/ckoval7/challengectl/internal/auth"
	"github.com/ckoval7/challengectl/internal/httpserver"
	"github.com/ckoval7/challengectl/internal/store"
)

// maxFileUploadBytes is the hard cap on an uploaded artifact (spec.md §6).
const maxFileUploadBytes = 100 << 20

// allowedFileExtensions is the runner-artifact whitelist (spec.md §6): no
// executables, only the modulator inputs/outputs a challenge config refers
// to by hash.
var allowedFileExtensions = map[string]bool{
	".wav":  true,
	".bin":  true,
	".txt":  true,
	".yml":  true,
	".yaml": true,
	".py":   true,
	".grc":  true,
}

// handleDownloadFile is GET /files/{sha256}, runner-authenticated: serves a
// previously uploaded artifact by its content hash.
func (d *Dependencies) handleDownloadFile(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "sha256")

	f, err := d.Store.GetFile(r.Context(), hash)
	if err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}

	file, err := os.Open(f.Path)
	if err != nil {
		httpserver.RespondErr(w, d.Logger, apperr.Wrap(apperr.Internal, "opening stored file", err))
		return
	}
	defer file.Close()

	w.Header().Set("Content-Type", f.MimeType)
	w.Header().Set("Content-Disposition", "attachment; filename=\""+f.Filename+"\"")
	http.ServeContent(w, r, f.Filename, f.CreatedAt, file)
}

// handleUploadFile is POST /files/upload, session- or runner-authenticated:
// hashes the body as it's written to a temp file, then renames into place
// at its content address (the hash is computed server-side; there is no
// client-supplied hash to compare against, matching the original). Re-
// uploading existing content is a no-op that returns the same hash (spec.md
// §8 content-addressing law).
func (d *Dependencies) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	sessionID := auth.FromContext(r.Context())
	agentID := auth.AgentFromContext(r.Context())
	if sessionID == nil && agentID == nil {
		httpserver.RespondErr(w, d.Logger, apperr.New(apperr.AuthMissing, "authentication required"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxFileUploadBytes)
	if err := r.ParseMultipartForm(maxFileUploadBytes); err != nil {
		httpserver.RespondErr(w, d.Logger, apperr.New(apperr.PayloadTooLarge, "upload too large"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		httpserver.RespondErr(w, d.Logger, apperr.New(apperr.Validation, "no file provided"))
		return
	}
	defer file.Close()

	ext := filepath.Ext(header.Filename)
	if !allowedFileExtensions[ext] {
		httpserver.RespondErr(w, d.Logger, apperr.Newf(apperr.Validation, "file extension %q is not allowed", ext))
		return
	}

	if err := os.MkdirAll(d.Config.FilesDir, 0o755); err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}

	tmp, err := os.CreateTemp(d.Config.FilesDir, "upload-*.tmp")
	if err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	hasher := sha256.New()
	size, err := io.Copy(tmp, io.TeeReader(file, hasher))
	tmp.Close()
	if err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}
	hash := hex.EncodeToString(hasher.Sum(nil))

	finalPath := filepath.Join(d.Config.FilesDir, hash+ext)
	if _, err := os.Stat(finalPath); err == nil {
		httpserver.Respond(w, http.StatusOK, map[string]any{"file_hash": hash, "status": "exists"})
		return
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}

	mimeType := mime.TypeByExtension(ext)
	created, err := d.Store.PutFile(r.Context(), store.File{
		FileHash: hash,
		Filename: header.Filename,
		Size:     size,
		MimeType: mimeType,
		Path:     finalPath,
	})
	if err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}

	status := "stored"
	if !created {
		status = "exists"
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"file_hash": hash, "status": status})
}
