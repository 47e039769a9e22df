package httpapi

import (
	"image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ckoval7/challengectl/internal/apperr"
	"github.com/ckoval7/challengectl/internal/auth"
	"github.com/ckoval7/challengectl/internal/eventbus"
	"github.com/ckoval7/challengectl/internal/httpserver"
	"github.com/ckoval7/challengectl/internal/store"
)

// maxWaterfallUploadBytes bounds the multipart body for a waterfall PNG
// upload, well above a typical listener capture but short of an abuse
// vector (spec.md §4.G recording lifecycle).
const maxWaterfallUploadBytes = 32 << 20

type recordingStartRequest struct {
	ChallengeID       string  `json:"challenge_id" validate:"required"`
	TransmissionID    string  `json:"transmission_id" validate:"required"`
	Frequency         int64   `json:"frequency" validate:"required"`
	SampleRate        int64   `json:"sample_rate"`
	ExpectedDurationS float64 `json:"expected_duration"`
}

// handleRecordingStart is POST /agents/{id}/recording/start, listener-only:
// it opens a Recording row under the transmission ID the listener was handed
// in its recording_assignment push, so complete_task later finds it by
// correlating on that same ID.
func (d *Dependencies) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "id")
	if err := requireOwnAgent(r, agentID); err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}
	identity := auth.AgentFromContext(r.Context())
	if identity.Agent.AgentType != store.AgentTypeListener {
		httpserver.RespondErr(w, d.Logger, apperr.New(apperr.Validation, "only listener agents can start recordings"))
		return
	}

	var req recordingStartRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	sampleRate := req.SampleRate
	if sampleRate == 0 {
		sampleRate = 2_000_000
	}
	expectedDuration := req.ExpectedDurationS
	if expectedDuration == 0 {
		expectedDuration = 30.0
	}

	recordingID := uuid.NewString()
	if err := d.Store.CreateRecording(r.Context(), store.Recording{
		ID:                recordingID,
		ChallengeID:       req.ChallengeID,
		TransmissionID:    req.TransmissionID,
		ListenerID:        agentID,
		FrequencyHz:       req.Frequency,
		SampleRate:        sampleRate,
		ExpectedDurationS: expectedDuration,
	}); err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}

	d.Bus.Publish(eventbus.TopicAdmin, eventbus.EventRecordingStarted, map[string]any{
		"recording_id":    recordingID,
		"listener_id":     agentID,
		"challenge_id":    req.ChallengeID,
		"transmission_id": req.TransmissionID,
		"frequency":       req.Frequency,
	})

	httpserver.Respond(w, http.StatusOK, map[string]any{"status": "recording", "recording_id": recordingID})
}

type recordingCompleteRequest struct {
	Success      bool   `json:"success"`
	ErrorMessage string `json:"error_message"`
	ImageWidth   int    `json:"image_width"`
	ImageHeight  int    `json:"image_height"`
}

// handleRecordingComplete is POST /agents/{id}/recording/{rid}/complete: the
// image path isn't known yet if an upload follows, so it updates everything
// but the image fields, leaving handleRecordingUpload to fill those in.
func (d *Dependencies) handleRecordingComplete(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "id")
	recordingID := chi.URLParam(r, "rid")

	if err := requireOwnAgent(r, agentID); err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}

	var req recordingCompleteRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	recording, err := d.Store.GetRecording(r.Context(), recordingID)
	if err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}
	if recording.ListenerID != agentID {
		httpserver.RespondErr(w, d.Logger, apperr.New(apperr.PermissionDenied, "recording belongs to different agent"))
		return
	}

	if err := d.Store.CompleteRecording(r.Context(), recordingID, req.Success, recording.ImagePath, req.ImageWidth, req.ImageHeight, req.ErrorMessage); err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}

	status := "completed"
	if !req.Success {
		status = "failed"
	}
	d.Bus.Publish(eventbus.TopicAdmin, eventbus.EventRecordingComplete, map[string]any{
		"recording_id":  recordingID,
		"listener_id":   agentID,
		"challenge_id":  recording.ChallengeID,
		"status":        status,
		"error_message": req.ErrorMessage,
	})

	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "updated"})
}

// handleRecordingUpload is POST /agents/{id}/recording/{rid}/upload, a
// single-file "file" multipart field carrying the waterfall PNG. The image
// is stored at RecordingsDir/{recording_id}.png, named by recording rather
// than content hash since a recording has at most one image.
func (d *Dependencies) handleRecordingUpload(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "id")
	recordingID := chi.URLParam(r, "rid")

	if err := requireOwnAgent(r, agentID); err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}

	recording, err := d.Store.GetRecording(r.Context(), recordingID)
	if err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}
	if recording.ListenerID != agentID {
		httpserver.RespondErr(w, d.Logger, apperr.New(apperr.PermissionDenied, "recording belongs to different agent"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxWaterfallUploadBytes)
	if err := r.ParseMultipartForm(maxWaterfallUploadBytes); err != nil {
		httpserver.RespondErr(w, d.Logger, apperr.New(apperr.PayloadTooLarge, "upload too large"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		httpserver.RespondErr(w, d.Logger, apperr.New(apperr.Validation, "no file provided"))
		return
	}
	defer file.Close()

	if filepath.Ext(header.Filename) != ".png" {
		httpserver.RespondErr(w, d.Logger, apperr.New(apperr.Validation, "only PNG images are allowed"))
		return
	}

	if err := os.MkdirAll(d.Config.RecordingsDir, 0o755); err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}
	imagePath := filepath.Join(d.Config.RecordingsDir, recordingID+".png")

	out, err := os.Create(imagePath)
	if err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}
	defer out.Close()

	if _, err := io.Copy(out, file); err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}
	if _, err := out.Seek(0, io.SeekStart); err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}
	cfg, err := png.DecodeConfig(out)
	if err != nil {
		httpserver.RespondErr(w, d.Logger, apperr.New(apperr.Validation, "not a valid PNG"))
		return
	}

	if err := d.Store.CompleteRecording(r.Context(), recordingID, true, imagePath, cfg.Width, cfg.Height, ""); err != nil {
		httpserver.RespondErr(w, d.Logger, err)
		return
	}

	d.Logger.Info("uploaded waterfall image", "recording_id", recordingID, "width", cfg.Width, "height", cfg.Height)
	httpserver.Respond(w, http.StatusOK, map[string]any{
		"status": "uploaded",
		"width":  cfg.Width,
		"height": cfg.Height,
	})
}
