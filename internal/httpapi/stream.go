package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/openclinika/medlex/internal/engine"
	"github.com/openclinika/medlex/internal/observe"
	"github.com/openclinika/medlex/pkg/clinical"
)

// streamWriteTimeout bounds a single outbound frame write.
const streamWriteTimeout = 5 * time.Second

// segmentMessage is one inbound transcript segment on the stream. FlaggedTerms
// lists ambiguous terms the client wants resolved inline against the segment
// text.
type segmentMessage struct {
	ID            string              `json:"id"`
	Text          string              `json:"text"`
	Categories    []clinical.Category `json:"categories,omitempty"`
	FlaggedTerms  []string            `json:"flagged_terms,omitempty"`
	PrimaryDomain string              `json:"primary_domain,omitempty"`
}

// segmentResult is the outbound reply for one segment.
type segmentResult struct {
	ID              string                 `json:"id"`
	Corrected       string                 `json:"corrected"`
	Disambiguations []disambiguateResponse `json:"disambiguations,omitempty"`
	Error           string                 `json:"error,omitempty"`
}

// handleStream upgrades to a WebSocket and processes transcript segments
// until the client disconnects. Each text frame is one segment; replies
// preserve the client-assigned segment ID so the extension can match them to
// in-flight dictation.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The browser extension connects from arbitrary clinical-system
		// origins; authentication happens at the reverse proxy.
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Warn("stream: websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "session ended")

	ctx := engine.WithCaller(r.Context(), callerLabel(r))
	log := observe.Logger(ctx).With("component", "stream")

	s.metrics.StreamSessions.Add(ctx, 1)
	defer s.metrics.StreamSessions.Add(ctx, -1)
	log.Info("stream session opened")

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || ctx.Err() != nil {
				conn.Close(websocket.StatusNormalClosure, "bye")
				log.Info("stream session closed")
				return
			}
			log.Warn("stream read failed", "error", err)
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		var seg segmentMessage
		if err := json.Unmarshal(data, &seg); err != nil {
			s.writeSegment(ctx, conn, segmentResult{Error: "invalid segment: " + err.Error()})
			continue
		}

		s.writeSegment(ctx, conn, s.processSegment(ctx, seg))
	}
}

// processSegment corrects the segment text and, when the client flagged
// terms, disambiguates each against the corrected text.
func (s *Server) processSegment(ctx context.Context, seg segmentMessage) segmentResult {
	res := segmentResult{ID: seg.ID}
	if seg.Text == "" {
		res.Error = "empty segment text"
		return res
	}

	res.Corrected = s.eng.ApplyCorrections(ctx, seg.Text, seg.Categories...)

	if len(seg.FlaggedTerms) > 0 {
		opts := disambiguateRequest{PrimaryDomain: seg.PrimaryDomain}.options()
		for _, r := range s.eng.BatchDisambiguate(ctx, seg.FlaggedTerms, res.Corrected, opts) {
			res.Disambiguations = append(res.Disambiguations, toDisambiguateResponse(r))
		}
	}
	return res
}

func (s *Server) writeSegment(ctx context.Context, conn *websocket.Conn, res segmentResult) {
	data, err := json.Marshal(res)
	if err != nil {
		slog.Error("stream: marshal segment result", "error", err)
		return
	}

	wctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	if err := conn.Write(wctx, websocket.MessageText, data); err != nil {
		slog.Warn("stream: write failed", "error", err)
	}
}
