package app

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/dkeye/VoiceCall/internal/domain"
)

const DefaultTurnTTL = 24 * time.Hour

type TurnCredentials struct {
	Username   string   `json:"username"`
	Credential string   `json:"credential"`
	URLs       []string `json:"urls"`
	TTL        int64    `json:"ttl"`
}

// TurnIssuer mints TURN REST API credentials (coturn use-auth-secret).
type TurnIssuer struct {
	Secret string
	Host   string
	TTL    time.Duration
	Now    func() time.Time
}

func (t TurnIssuer) Issue(uid domain.UserID) TurnCredentials {
	ttl := t.TTL
	if ttl <= 0 {
		ttl = DefaultTurnTTL
	}
	now := time.Now
	if t.Now != nil {
		now = t.Now
	}
	expiry := now().Add(ttl).Unix()
	username := fmt.Sprintf("%d:%s", expiry, uid)

	mac := hmac.New(sha1.New, []byte(t.Secret))
	mac.Write([]byte(username))

	return TurnCredentials{
		Username:   username,
		Credential: base64.StdEncoding.EncodeToString(mac.Sum(nil)),
		URLs: []string{
			fmt.Sprintf("turn:%s:3478?transport=udp", t.Host),
			fmt.Sprintf("turn:%s:3478?transport=tcp", t.Host),
			fmt.Sprintf("turns:%s:5349?transport=tcp", t.Host),
		},
		TTL: int64(ttl.Seconds()),
	}
}
