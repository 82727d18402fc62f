package httpserver

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/ratelimit"
)

const (
	recordingFormField  = "recording"
	recordingsURLPrefix = "/recordings/"
	maxRecordingExtLen  = 10
)

// errRecordingStore marks failures on the server side of an upload. Any
// other upload error is blamed on the request body.
var errRecordingStore = errors.New("store recording")

type uploadResponse struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	URL      string `json:"url"`
}

// handleUploadRecording stores the multipart "recording" part under
// UploadDir as <uuid><ext>. The body is streamed to disk; nothing is
// buffered in memory beyond the multipart reader.
func (s *Server) handleUploadRecording(w http.ResponseWriter, r *http.Request) {
	if !s.uploadLimiter.Allow(ratelimit.ClientKey(r)) {
		s.metrics.Inc(metrics.DropReasonUploadLimited)
		WriteJSON(w, http.StatusTooManyRequests, map[string]any{"error": "too many uploads"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	mr, err := r.MultipartReader()
	if err != nil {
		WriteJSON(w, http.StatusBadRequest, map[string]any{"error": "expected multipart/form-data body"})
		return
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			WriteJSON(w, http.StatusBadRequest, map[string]any{"error": "missing " + recordingFormField + " file"})
			return
		}
		if err != nil {
			s.writeUploadError(w, err)
			return
		}
		if part.FormName() != recordingFormField {
			_ = part.Close()
			continue
		}

		resp, err := s.storeRecording(part)
		_ = part.Close()
		if err != nil {
			s.writeUploadError(w, err)
			return
		}

		s.metrics.Inc(metrics.RecordingUploaded)
		s.log.Info("recording uploaded", "filename", resp.Filename, "size", resp.Size, "remote_addr", r.RemoteAddr)
		WriteJSON(w, http.StatusCreated, resp)
		return
	}
}

func (s *Server) storeRecording(part *multipart.Part) (uploadResponse, error) {
	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		return uploadResponse{}, fmt.Errorf("%w: create upload dir: %w", errRecordingStore, err)
	}

	name := uuid.NewString() + recordingExt(part.FileName())
	path := filepath.Join(s.cfg.UploadDir, name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return uploadResponse{}, fmt.Errorf("%w: create recording: %w", errRecordingStore, err)
	}

	body := &partReader{r: part}
	n, err := io.Copy(f, body)
	if err != nil && body.err == nil {
		err = fmt.Errorf("%w: write recording: %w", errRecordingStore, err)
	}
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("%w: close recording: %w", errRecordingStore, closeErr)
	}
	if err != nil {
		_ = os.Remove(path)
		return uploadResponse{}, err
	}

	return uploadResponse{Filename: name, Size: n, URL: recordingsURLPrefix + name}, nil
}

func (s *Server) writeUploadError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		s.metrics.Inc(metrics.DropReasonUploadTooLarge)
		WriteJSON(w, http.StatusRequestEntityTooLarge, map[string]any{
			"error": fmt.Sprintf("recording exceeds %d bytes", s.cfg.MaxUploadBytes),
		})
		return
	}
	if errors.Is(err, errRecordingStore) {
		s.log.Error("recording upload failed", "err", err)
		WriteJSON(w, http.StatusInternalServerError, map[string]any{"error": "upload failed"})
		return
	}
	s.log.Debug("malformed recording upload", "err", err)
	WriteJSON(w, http.StatusBadRequest, map[string]any{"error": "malformed multipart body"})
}

// partReader remembers the first non-EOF read error so a failed copy can be
// told apart from a failed disk write.
type partReader struct {
	r   io.Reader
	err error
}

func (p *partReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if err != nil && err != io.EOF && p.err == nil {
		p.err = err
	}
	return n, err
}

// recordingExt keeps a short alphanumeric extension from the client file
// name and drops anything else.
func recordingExt(filename string) string {
	ext := filepath.Ext(filepath.Base(filename))
	if len(ext) < 2 || len(ext) > maxRecordingExtLen+1 {
		return ""
	}
	for _, c := range ext[1:] {
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return ""
		}
	}
	return strings.ToLower(ext)
}

// recordingsHandler serves stored recordings. Directory listings are not
// exposed.
func (s *Server) recordingsHandler() http.Handler {
	files := http.StripPrefix(recordingsURLPrefix, http.FileServer(http.Dir(s.cfg.UploadDir)))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		files.ServeHTTP(w, r)
	})
}
