package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"

	pkg_hash "github.com/dkoroteev/socialnet/pkg/hash"
	"github.com/dkoroteev/socialnet/pkg/logging"
	"github.com/dkoroteev/socialnet/pkg/tokens"
	"github.com/dkoroteev/socialnet/services/session/internal/models"
	"github.com/dkoroteev/socialnet/services/session/internal/repo"
	"github.com/dkoroteev/socialnet/services/session/internal/service"
)

const (
	ActionLogin    = "login"
	ActionRegister = "register"
)

// AuthRequest is an edge-originated login/register command. The edge
// correlates the eventual response by CorrelationID while it polls.
type AuthRequest struct {
	CorrelationID string `json:"correlation_id"`
	Action        string `json:"action"`
	Username      string `json:"username"`
	Password      string `json:"password"`
}

// AuthResponse is the single terminal answer published per correlation id:
// either a token pair or an error string, never both, never twice.
type AuthResponse struct {
	CorrelationID string `json:"correlation_id"`
	AccessToken   string `json:"access_token,omitempty"`
	RefreshToken  string `json:"refresh_token,omitempty"`
	Error         string `json:"error,omitempty"`
}

// messageWriter is what the consumer needs from the response topic.
// *kafka.Writer satisfies it.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer drains the auth request topic. Offsets are committed manually,
// only after the terminal response reached the response topic; together with
// the correlation registry that gives each request id exactly one terminal
// response even across redeliveries.
type Consumer struct {
	Reader      *kafka.Reader
	Writer      messageWriter
	Sessions    *service.SessionService
	Users       *repo.UserRepo
	Correlation *Registry
}

func NewConsumer(address, requestTopic, responseTopic, groupID string, sessions *service.SessionService, users *repo.UserRepo, correlation *Registry) *Consumer {
	return &Consumer{
		Reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  []string{address},
			Topic:    requestTopic,
			GroupID:  groupID,
			MinBytes: 1,
			MaxBytes: 10e6,
			MaxWait:  time.Second,
		}),
		Writer: &kafka.Writer{
			Addr:                   kafka.TCP(address),
			Topic:                  responseTopic,
			Balancer:               &kafka.LeastBytes{},
			AllowAutoTopicCreation: true,
		},
		Sessions:    sessions,
		Users:       users,
		Correlation: correlation,
	}
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) {
	l := logging.FromContext(ctx).With("svc", "session.events")
	l.Info("consumer_started")

	for {
		msg, err := c.Reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				l.Info("consumer_stopped")
				return
			}
			l.Error("kafka_fetch_failed", "error", err)
			continue
		}

		if c.processMessage(ctx, msg) {
			if err := c.Reader.CommitMessages(ctx, msg); err != nil {
				l.Error("kafka_commit_failed", "error", err)
			}
		}
	}
}

// processMessage reports whether the message offset may be committed. When
// the publish fails after retries, the correlation id is unmarked and the
// offset left alone, so the redelivered message gets another chance to
// produce the terminal response.
func (c *Consumer) processMessage(ctx context.Context, msg kafka.Message) bool {
	l := logging.FromContext(ctx).With("svc", "session.events")

	var req AuthRequest
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		l.Warn("bad_request_event", "error", err)
		return true
	}
	if req.CorrelationID == "" {
		l.Warn("bad_request_event", "error", "missing correlation id")
		return true
	}
	if !c.Correlation.MarkHandled(req.CorrelationID) {
		l.Info("duplicate_request_skipped", "correlation_id", req.CorrelationID)
		return true
	}

	resp := c.handle(ctx, &req)
	if err := c.publish(ctx, resp); err != nil {
		l.Error("response_publish_failed", "correlation_id", req.CorrelationID, "error", err)
		c.Correlation.Unmark(req.CorrelationID)
		return false
	}
	return true
}

func (c *Consumer) handle(ctx context.Context, req *AuthRequest) *AuthResponse {
	switch req.Action {
	case ActionLogin:
		return c.handleLogin(ctx, req)
	case ActionRegister:
		return c.handleRegister(ctx, req)
	default:
		return &AuthResponse{CorrelationID: req.CorrelationID, Error: "unknown action"}
	}
}

func (c *Consumer) handleLogin(ctx context.Context, req *AuthRequest) *AuthResponse {
	l := logging.FromContext(ctx).With("svc", "session.events", "action", "login")

	user, err := c.Users.FindUser(ctx, req.Username)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return &AuthResponse{CorrelationID: req.CorrelationID, Error: "invalid username or password"}
		}
		l.Error("user_lookup_failed", "error", err)
		return &AuthResponse{CorrelationID: req.CorrelationID, Error: "service unavailable"}
	}
	if !pkg_hash.CheckPassword(user.PasswordHash, req.Password) {
		return &AuthResponse{CorrelationID: req.CorrelationID, Error: "invalid username or password"}
	}

	role, err := tokens.ParseRole(user.Role)
	if err != nil {
		l.Error("bad_user_role", "username", user.Username, "error", err)
		return &AuthResponse{CorrelationID: req.CorrelationID, Error: "service unavailable"}
	}

	pair, err := c.Sessions.CreateSession(ctx, user.ID, user.Username, role)
	if err != nil {
		return &AuthResponse{CorrelationID: req.CorrelationID, Error: terminalError(err)}
	}
	return &AuthResponse{
		CorrelationID: req.CorrelationID,
		AccessToken:   pair.AccessToken,
		RefreshToken:  pair.RefreshToken,
	}
}

func (c *Consumer) handleRegister(ctx context.Context, req *AuthRequest) *AuthResponse {
	l := logging.FromContext(ctx).With("svc", "session.events", "action", "register")

	pwHash, err := pkg_hash.HashPassword(req.Password)
	if err != nil {
		l.Error("hash_failed", "error", err)
		return &AuthResponse{CorrelationID: req.CorrelationID, Error: "service unavailable"}
	}

	user := models.User{
		Username:     req.Username,
		PasswordHash: pwHash,
		Role:         string(tokens.RoleUser),
	}
	if err := c.Users.CreateIfNotExists(ctx, &user); err != nil {
		if errors.Is(err, repo.ErrUserAlreadyExist) {
			return &AuthResponse{CorrelationID: req.CorrelationID, Error: "user already exist"}
		}
		l.Error("user_create_failed", "error", err)
		return &AuthResponse{CorrelationID: req.CorrelationID, Error: "service unavailable"}
	}
	return &AuthResponse{CorrelationID: req.CorrelationID}
}

const publishAttempts = 3

// terminalError collapses session-service failures to the same stable
// strings the HTTP surface answers with; raw sentinel text never crosses the
// topic.
func terminalError(err error) string {
	switch {
	case errors.Is(err, service.ErrConcurrentSession), errors.Is(err, service.ErrSessionsBlocked):
		return "session conflict"
	case errors.Is(err, service.ErrUnavailable):
		return "service unavailable"
	default:
		return "login failed"
	}
}

func (c *Consumer) publish(ctx context.Context, resp *AuthResponse) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= publishAttempts; attempt++ {
		writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := c.Writer.WriteMessages(writeCtx, kafka.Message{
			Key:   []byte(resp.CorrelationID),
			Value: data,
		})
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt == publishAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
		}
	}
	return lastErr
}

func (c *Consumer) Close() error {
	if err := c.Reader.Close(); err != nil {
		return err
	}
	return c.Writer.Close()
}
