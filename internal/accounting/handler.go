package accounting

import (
	"context"

	"github.com/rs/zerolog"
	"layeh.com/radius"
	"layeh.com/radius/rfc2866"

	"github.com/nashmick001/mikrotik-portal/internal/attrs"
	"github.com/nashmick001/mikrotik-portal/internal/metrics"
	"github.com/nashmick001/mikrotik-portal/internal/session"
)

// Sessions applies accounting events to the session stores.
type Sessions interface {
	Start(ctx context.Context, r session.Report) (*session.Session, error)
	Update(ctx context.Context, r session.Report) (*session.Session, error)
	Stop(ctx context.Context, r session.Report) (*session.Session, error)
}

// Serializer runs fn with no other fn for the same key in flight.
type Serializer interface {
	Do(ctx context.Context, key string, fn func(context.Context) error) error
}

// Handler handles RADIUS accounting requests
type Handler struct {
	Sessions Sessions
	Queue    Serializer
}

// NewHandler creates a new accounting handler
func NewHandler(sessions Sessions, queue Serializer) *Handler {
	return &Handler{
		Sessions: sessions,
		Queue:    queue,
	}
}

// Handle processes accounting requests. Every Accounting-Request gets exactly
// one Accounting-Response, including ones that are ignored.
func (h *Handler) Handle(w radius.ResponseWriter, r *radius.Request) {
	log := zerolog.Ctx(r.Context()).With().Str("component", "acct").Logger()

	if r.Code != radius.CodeAccountingRequest {
		log.Warn().Str("code", r.Code.String()).Msg("unexpected packet on accounting port, dropped")
		return
	}
	defer h.ack(w, r, &log)

	set := attrs.Decode(r.Packet)
	username, okUser := set.UserName()
	sessionID, okSession := set.AcctSessionID()
	if !okUser || !okSession {
		log.Warn().Bool("has_username", okUser).Bool("has_session_id", okSession).
			Msg("Missing username or session ID in accounting request")
		return
	}

	report := session.Report{SessionID: sessionID, Username: username}
	if ip, ok := set.FramedIPAddress(); ok {
		report.IP = ip.String()
	}
	if n, ok := set.InputBytes(); ok {
		report.BytesIn = &n
	}
	if n, ok := set.OutputBytes(); ok {
		report.BytesOut = &n
	}

	log = log.With().Str("session_id", sessionID).Str("identity", username).Logger()
	for _, u := range set.Unknown() {
		log.Debug().Uint8("type", uint8(u.Code)).Int("length", len(u.Raw)).Msg("unrecognised attribute kept")
	}

	status, ok := set.AcctStatusType()
	if !ok {
		metrics.AccountingEventsTotal.WithLabelValues("missing").Inc()
		log.Warn().Msg("Accounting-Request without Acct-Status-Type ignored")
		return
	}

	var apply func(context.Context, session.Report) (*session.Session, error)
	switch status {
	case rfc2866.AcctStatusType_Value_Start:
		apply = h.Sessions.Start
	case rfc2866.AcctStatusType_Value_InterimUpdate:
		apply = h.Sessions.Update
	case rfc2866.AcctStatusType_Value_Stop:
		apply = h.Sessions.Stop
	default:
		metrics.AccountingEventsTotal.WithLabelValues("unknown").Inc()
		log.Warn().Str("status", status.String()).Msg("Unknown accounting status type")
		return
	}
	metrics.AccountingEventsTotal.WithLabelValues(status.String()).Inc()

	err := h.Queue.Do(r.Context(), sessionID, func(ctx context.Context) error {
		_, err := apply(ctx, report)
		return err
	})
	if err != nil {
		log.Error().Err(err).Str("status", status.String()).Msg("session store update incomplete")
		return
	}
	log.Info().Str("status", status.String()).Msg("accounting event applied")
}

func (h *Handler) ack(w radius.ResponseWriter, r *radius.Request, log *zerolog.Logger) {
	if err := w.Write(r.Response(radius.CodeAccountingResponse)); err != nil {
		log.Error().Err(err).Msg("failed to send Accounting-Response")
	}
}
