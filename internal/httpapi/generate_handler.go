package httpapi

import (
	"bytes"
	"net/http"

	"github.com/goccy/go-json"

	"ai_gateway/internal/gwerr"
	"ai_gateway/internal/models"
	"ai_gateway/internal/utils"
)

// sseDone terminates every stream, successful or not.
const sseDone = "[DONE]"

type streamStart struct {
	RequestID string `json:"request_id"`
	Route     string `json:"route"`
	Model     string `json:"model"`
}

type streamFragment struct {
	Text string `json:"text"`
}

// decodeGeneration reads the body and stamps the caller's identity onto it.
func decodeGeneration(r *http.Request) (*models.GenerationRequest, error) {
	var req models.GenerationRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		return nil, err
	}
	claims := caller(r)
	req.UserID = claims.UserID
	req.Admin = claims.IsAdmin()
	return &req, nil
}

// handleGenerate handles POST /v1/generate
func (d *Dependencies) handleGenerate(w http.ResponseWriter, r *http.Request) {
	req, err := decodeGeneration(r)
	if err != nil {
		utils.RespondWithGatewayError(w, err)
		return
	}

	reply, err := d.Gateway.Generate(r.Context(), req)
	if err != nil {
		utils.RespondWithGatewayError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, reply)
}

// handleGenerateStream handles POST /v1/generate/stream. Errors before the
// first byte are plain JSON responses; after that they arrive as an
// "error" event followed by the usual terminator.
func (d *Dependencies) handleGenerateStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondWithError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	req, err := decodeGeneration(r)
	if err != nil {
		utils.RespondWithGatewayError(w, err)
		return
	}

	stream, err := d.Gateway.Stream(r.Context(), req)
	if err != nil {
		utils.RespondWithGatewayError(w, err)
		return
	}
	// Closing early marks the request abandoned and cancels the upstream call
	defer stream.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sse := &sseWriter{w: w, flusher: flusher}
	sse.event("start", streamStart{
		RequestID: stream.RequestID(),
		Route:     stream.Route(),
		Model:     stream.Identifier(),
	})

	for sse.err == nil && r.Context().Err() == nil && stream.Next() {
		sse.event("", streamFragment{Text: stream.Fragment()})
	}
	if sse.err != nil || r.Context().Err() != nil {
		d.logger.Info("Stream client went away", "request_id", stream.RequestID())
		return
	}

	if err := stream.Err(); err != nil {
		sse.event("error", utils.NewErrorResponse(err))
		d.logger.Warn("Stream failed mid-way",
			"request_id", stream.RequestID(),
			"route", stream.Identifier(),
			"kind", gwerr.KindOf(err),
			"error", err,
		)
	}
	sse.raw("done", sseDone)
}

// sseWriter writes server-sent events and remembers the first write error,
// after which it does nothing.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	err     error
}

func (s *sseWriter) event(name string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.err = err
		return
	}
	s.raw(name, string(data))
}

func (s *sseWriter) raw(name, data string) {
	if s.err != nil {
		return
	}
	var buf bytes.Buffer
	if name != "" {
		buf.WriteString("event: ")
		buf.WriteString(name)
		buf.WriteByte('\n')
	}
	buf.WriteString("data: ")
	buf.WriteString(data)
	buf.WriteString("\n\n")

	if _, err := s.w.Write(buf.Bytes()); err != nil {
		s.err = err
		return
	}
	s.flusher.Flush()
}
