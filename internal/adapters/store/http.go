// Package store talks to whoever owns call state: the chat API over a
// signed internal HTTP interface, or an in-memory table for development.
package store

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceCall/internal/domain"
)

const SignatureHeader = "X-Voice-Signature"

// HTTPStore calls the chat API's internal endpoints. Every request body is
// signed with HMAC-SHA256 over the shared secret.
type HTTPStore struct {
	base   string
	secret string
	client *http.Client
}

func NewHTTPStore(base, secret string, timeout time.Duration) *HTTPStore {
	return &HTTPStore{
		base:   strings.TrimRight(base, "/"),
		secret: secret,
		client: &http.Client{Timeout: timeout},
	}
}

func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature produced by Sign in constant time.
func Verify(secret string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(signature))
}

type adminRequest struct {
	RoomID domain.RoomID `json:"room_id"`
	UserID domain.UserID `json:"user_id"`
}

type adminResponse struct {
	Admin bool `json:"admin"`
}

type deactivateRequest struct {
	RoomID domain.RoomID `json:"room_id"`
}

func (s *HTTPStore) IsRoomAdmin(ctx context.Context, roomID domain.RoomID, uid domain.UserID) (bool, error) {
	var resp adminResponse
	if err := s.post(ctx, "/rooms/is-admin", adminRequest{RoomID: roomID, UserID: uid}, &resp); err != nil {
		return false, err
	}
	return resp.Admin, nil
}

func (s *HTTPStore) DeactivateCall(ctx context.Context, roomID domain.RoomID) error {
	return s.post(ctx, "/rooms/deactivate-call", deactivateRequest{RoomID: roomID}, nil)
}

func (s *HTTPStore) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	endpoint := s.base + path

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, Sign(s.secret, body))

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 300 {
		log.Warn().Str("module", "store").Str("path", path).Int("status", resp.StatusCode).Msg("call store rejected request")
		if len(data) == 0 {
			return fmt.Errorf("%s failed with status %d", path, resp.StatusCode)
		}
		return fmt.Errorf("%s failed with status %d: %s", path, resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
