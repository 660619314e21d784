package main

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const (
	errEmptyMessage     = "Message cannot be empty."
	errPermissionDenied = "IAM Permission Denied. Please check that the service account has the 'Dialogflow API User' role in your GCP project."
	errInternalPrefix   = "An internal server error occurred: "
)

type ChatRequest struct {
	Message      string `json:"message"`
	SessionID    string `json:"sessionId"`
	LanguageCode string `json:"languageCode"`
}

type ChatResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"sessionId"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// chatFailure is a handled failure and the status it maps to.
type chatFailure struct {
	Status int
	Body   ErrorResponse
}

// parseChatRequest never fails: a missing or malformed body is an empty
// request, and a field that is not a string is treated as absent.
func parseChatRequest(body []byte) ChatRequest {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return ChatRequest{}
	}

	return ChatRequest{
		Message:      stringField(fields, "message"),
		SessionID:    stringField(fields, "sessionId"),
		LanguageCode: stringField(fields, "languageCode"),
	}
}

func stringField(fields map[string]json.RawMessage, key string) string {
	var v string
	if err := json.Unmarshal(fields[key], &v); err != nil {
		return ""
	}
	return v
}

func (s *Server) handleChat(c *fiber.Ctx) error {
	req := parseChatRequest(c.Body())

	resp, failure := s.relayChat(c.UserContext(), channelHTTP, req)
	if failure != nil {
		return c.Status(failure.Status).JSON(failure.Body)
	}

	return c.JSON(resp)
}

// relayChat validates a chat request, fills in defaults and makes a single
// DetectIntent call.
func (s *Server) relayChat(ctx context.Context, channel string, req ChatRequest) (ChatResponse, *chatFailure) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		chatRequestsTotal.WithLabelValues(channel, outcomeInvalid).Inc()
		return ChatResponse{}, &chatFailure{Status: fiber.StatusBadRequest, Body: ErrorResponse{Error: errEmptyMessage}}
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	languageCode := req.LanguageCode
	if languageCode == "" {
		languageCode = s.cfg.DefaultLanguageCode
	}

	s.log.Info().
		Str("channel", channel).
		Str("session", sessionID).
		Str("message", message).
		Msg("Received chat message")

	text, err := s.detector.DetectIntent(ctx, sessionID, message, languageCode)
	if err != nil {
		return ChatResponse{}, s.upstreamFailure(channel, sessionID, err)
	}

	chatRequestsTotal.WithLabelValues(channel, outcomeOK).Inc()
	return ChatResponse{Response: text, SessionID: sessionID}, nil
}

func (s *Server) upstreamFailure(channel, sessionID string, err error) *chatFailure {
	kind := KindUnknown
	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		kind = upstream.Kind
	}
	chatRequestsTotal.WithLabelValues(channel, kind.String()).Inc()

	switch kind {
	case KindPermissionDenied:
		s.log.Error().Err(err).Str("session", sessionID).Msg("GCP PERMISSION DENIED")
		return &chatFailure{Status: fiber.StatusInternalServerError, Body: ErrorResponse{Error: errPermissionDenied}}
	default:
		s.log.Error().Err(err).Str("session", sessionID).Str("channel", channel).
			Msg("An unexpected error occurred while detecting intent")
		return &chatFailure{Status: fiber.StatusInternalServerError, Body: ErrorResponse{Error: errInternalPrefix + err.Error()}}
	}
}
