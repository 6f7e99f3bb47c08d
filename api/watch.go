package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/uptrace/bunrouter"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/xraph/ticketbooth"
	"github.com/xraph/ticketbooth/pricing"
)

// Live channel message types.
const (
	msgConnected = "connected"
	msgUnit      = "unit"
	msgFrame     = "frame"
	msgUnitAck   = "unit_ack"
	msgEnd       = "end"
	msgEndStream = "end_stream"
	msgEnded     = "ended"
	msgError     = "error"
)

// inbound is a message from the viewer.
type inbound struct {
	Type    string   `json:"type"`
	Payload string   `json:"payload,omitempty"`
	Kinds   []string `json:"kinds,omitempty"`
}

type connectedMsg struct {
	Type      string `json:"type"`
	TicketID  string `json:"ticket_id"`
	StreamURL string `json:"stream_url"`
	Message   string `json:"message"`
}

type unitAckMsg struct {
	Type           string `json:"type"`
	FrameNumber    int64  `json:"frame_number"`
	UnitCost       string `json:"unit_cost"`
	CumulativeCost string `json:"cumulative_cost"`
}

type endedMsg struct {
	Type            string `json:"type"`
	FrameCount      int64  `json:"frame_count"`
	CumulativeCost  string `json:"cumulative_cost"`
	DurationSeconds int64  `json:"duration_seconds"`
}

type errorMsg struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// watch upgrades to a WebSocket and meters the ticket's watch session.
// Tickets that cannot be watched get a policy-violation close with the
// reason. However the connection ends, the session is closed exactly once.
func (s *Server) watch(w http.ResponseWriter, req bunrouter.Request) error {
	conn, err := websocket.Accept(w, req.Request, &websocket.AcceptOptions{
		OriginPatterns: s.originPatterns,
	})
	if err != nil {
		// Accept has already written the handshake error.
		s.logger.Debug("websocket accept failed", "error", err)
		return nil
	}
	defer conn.CloseNow()

	ctx := req.Context()

	ticketID, err := ticketParam(req)
	if err != nil {
		conn.Close(websocket.StatusPolicyViolation, closeReason(ticketbooth.ErrTicketNotFound))
		return nil
	}

	session, err := s.booth.OpenSession(ctx, ticketID)
	if err != nil {
		s.logger.Debug("watch rejected", "ticket_id", ticketID.String(), "error", err)
		conn.Close(closeStatus(err), closeReason(err))
		return nil
	}
	defer session.Close(context.WithoutCancel(ctx))

	t := session.Ticket()
	if err := wsjson.Write(ctx, conn, connectedMsg{
		Type:      msgConnected,
		TicketID:  t.ID.String(),
		StreamURL: t.StreamURL,
		Message:   "Watching stream",
	}); err != nil {
		return nil
	}

	for {
		var msg inbound
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				s.logger.Debug("watch connection lost", "ticket_id", t.ID.String(), "error", err)
			}
			return nil
		}

		switch msg.Type {
		case msgUnit, msgFrame:
			unit, err := toUnit(msg)
			if err != nil {
				if err := wsjson.Write(ctx, conn, errorMsg{Type: msgError, Reason: err.Error()}); err != nil {
					return nil
				}
				continue
			}
			receipt, err := session.RecordUnit(ctx, unit)
			if err != nil {
				conn.Close(closeStatus(err), closeReason(err))
				return nil
			}
			if err := wsjson.Write(ctx, conn, unitAckMsg{
				Type:           msgUnitAck,
				FrameNumber:    receipt.FrameNumber,
				UnitCost:       receipt.UnitCost.FormatMajor(),
				CumulativeCost: receipt.CumulativeCost.FormatMajor(),
			}); err != nil {
				return nil
			}

		case msgEnd, msgEndStream:
			sum := session.Close(ctx)
			if err := wsjson.Write(ctx, conn, endedMsg{
				Type:            msgEnded,
				FrameCount:      sum.FrameCount,
				CumulativeCost:  sum.CumulativeCost.FormatMajor(),
				DurationSeconds: int64(sum.Duration.Seconds()),
			}); err != nil {
				return nil
			}
			conn.Close(websocket.StatusNormalClosure, "stream ended")
			return nil

		default:
			if err := wsjson.Write(ctx, conn, errorMsg{
				Type:   msgError,
				Reason: "unknown message type " + strconv.Quote(msg.Type),
			}); err != nil {
				return nil
			}
		}
	}
}

func toUnit(msg inbound) (ticketbooth.Unit, error) {
	u := ticketbooth.Unit{Payload: []byte(msg.Payload)}
	for _, raw := range msg.Kinds {
		k, ok := pricing.ParseKind(raw)
		if !ok {
			return ticketbooth.Unit{}, errors.New("unknown kind " + strconv.Quote(raw))
		}
		u.Kinds = append(u.Kinds, k)
	}
	return u, nil
}

// closeStatus picks the close code for a session error. A booth that is
// shutting down sends going-away so clients know to retry elsewhere.
func closeStatus(err error) websocket.StatusCode {
	if errors.Is(err, ticketbooth.ErrStoreClosed) {
		return websocket.StatusGoingAway
	}
	return websocket.StatusPolicyViolation
}

// closeReason trims err to fit a close frame, which caps the reason at
// 123 bytes.
func closeReason(err error) string {
	reason := strings.TrimPrefix(err.Error(), "ticketbooth: ")
	if len(reason) > 123 {
		reason = reason[:123]
	}
	return reason
}
