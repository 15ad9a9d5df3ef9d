package auth

import (
	"context"

	"github.com/rs/zerolog"
	"layeh.com/radius"
	"layeh.com/radius/rfc2865"

	"github.com/nashmick001/mikrotik-portal/internal/attrs"
	"github.com/nashmick001/mikrotik-portal/internal/metrics"
	"github.com/nashmick001/mikrotik-portal/pkg/config"
)

// CredentialValidator consumes single-use credentials.
type CredentialValidator interface {
	Validate(ctx context.Context, identity, secret string) (bool, error)
}

// Handler handles RADIUS authentication requests
type Handler struct {
	Credentials CredentialValidator
	Reply       config.ReplyPolicy
}

// NewHandler creates a new authentication handler
func NewHandler(credentials CredentialValidator, reply config.ReplyPolicy) *Handler {
	return &Handler{
		Credentials: credentials,
		Reply:       reply,
	}
}

// Handle processes authentication requests
func (h *Handler) Handle(w radius.ResponseWriter, r *radius.Request) {
	log := zerolog.Ctx(r.Context()).With().Str("component", "auth").Logger()

	if r.Code != radius.CodeAccessRequest {
		log.Warn().Str("code", r.Code.String()).Msg("unexpected packet on authentication port, dropped")
		return
	}

	set := attrs.Decode(r.Packet)
	username, okUser := set.UserName()
	password, okPass := set.UserPassword()
	if !okUser || !okPass {
		metrics.AuthDecisionsTotal.WithLabelValues("missing_attributes").Inc()
		log.Warn().Bool("has_username", okUser).Bool("has_password", okPass).Msg("Access-Request missing credentials, rejecting")
		h.reply(w, r.Response(radius.CodeAccessReject), log)
		return
	}

	log = log.With().Str("identity", username).Logger()
	if nas, ok := set.NASIdentifier(); ok {
		log = log.With().Str("nas_id", nas).Logger()
	}

	valid, err := h.Credentials.Validate(r.Context(), username, password)
	switch {
	case err != nil:
		metrics.AuthDecisionsTotal.WithLabelValues("error").Inc()
		log.Error().Err(err).Msg("credential store unavailable, rejecting")
		h.reply(w, r.Response(radius.CodeAccessReject), log)
	case !valid:
		metrics.AuthDecisionsTotal.WithLabelValues("reject").Inc()
		log.Info().Msg("access denied")
		h.reply(w, r.Response(radius.CodeAccessReject), log)
	default:
		resp, err := h.accept(r)
		if err != nil {
			// the credential is already consumed; a bare Accept still lets the client in
			log.Error().Err(err).Msg("failed to build reply attributes")
			resp = r.Response(radius.CodeAccessAccept)
		}
		metrics.AuthDecisionsTotal.WithLabelValues("accept").Inc()
		log.Info().Msg("access granted")
		h.reply(w, resp, log)
	}
}

func (h *Handler) accept(r *radius.Request) (*radius.Packet, error) {
	resp := r.Response(radius.CodeAccessAccept)
	if h.Reply.IdleTimeout > 0 {
		if err := rfc2865.IdleTimeout_Set(resp, rfc2865.IdleTimeout(h.Reply.IdleTimeout)); err != nil {
			return nil, err
		}
	}
	if h.Reply.RateLimit != "" {
		err := attrs.AddVendorAttribute(resp, h.Reply.VendorID, h.Reply.RateLimitType, []byte(h.Reply.RateLimit))
		if err != nil {
			return nil, err
		}
	}
	return resp, nil
}

func (h *Handler) reply(w radius.ResponseWriter, resp *radius.Packet, log zerolog.Logger) {
	if err := w.Write(resp); err != nil {
		log.Error().Err(err).Str("code", resp.Code.String()).Msg("failed to send response")
	}
}
