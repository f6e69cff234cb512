package room

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type TokenFormat string

const (
	FormatLiveKit TokenFormat = "livekit"
	FormatTwilio  TokenFormat = "twilio"
)

type TokenConfig struct {
	Format    TokenFormat
	APIKey    string
	APISecret string
	// AccountSID is the token subject for Twilio access tokens.
	AccountSID string
	TTL        time.Duration
}

// VideoGrant is the LiveKit room permission set.
type VideoGrant struct {
	Room         string `json:"room"`
	RoomJoin     bool   `json:"roomJoin"`
	CanPublish   bool   `json:"canPublish"`
	CanSubscribe bool   `json:"canSubscribe"`
}

type liveKitClaims struct {
	jwt.RegisteredClaims
	Name  string     `json:"name,omitempty"`
	Video VideoGrant `json:"video"`
}

type twilioGrants struct {
	Identity string `json:"identity"`
	Video    struct {
		Room string `json:"room,omitempty"`
	} `json:"video"`
}

type twilioClaims struct {
	jwt.RegisteredClaims
	Grants twilioGrants `json:"grants"`
}

// TokenIssuer mints participant tokens for a realtime room.
type TokenIssuer struct {
	cfg TokenConfig
	now func() time.Time
}

func NewTokenIssuer(cfg TokenConfig) *TokenIssuer {
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if cfg.Format == "" {
		cfg.Format = FormatLiveKit
	}
	return &TokenIssuer{cfg: cfg, now: time.Now}
}

func (i *TokenIssuer) Format() TokenFormat { return i.cfg.Format }

// Mint returns a signed token that lets identity join room, publish and
// subscribe.
func (i *TokenIssuer) Mint(identity, name, room string) (string, error) {
	if i.cfg.APIKey == "" || i.cfg.APISecret == "" {
		return "", errors.New("room token: api key and secret are required")
	}
	if identity == "" || room == "" {
		return "", errors.New("room token: identity and room are required")
	}
	now := i.now().UTC()
	switch i.cfg.Format {
	case FormatTwilio:
		if i.cfg.AccountSID == "" {
			return "", errors.New("room token: account sid is required for twilio")
		}
		claims := twilioClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				ID:        i.cfg.APIKey + "-" + strconv.FormatInt(now.Unix(), 10),
				Issuer:    i.cfg.APIKey,
				Subject:   i.cfg.AccountSID,
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(i.cfg.TTL)),
			},
		}
		claims.Grants.Identity = identity
		claims.Grants.Video.Room = room
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
		token.Header["cty"] = "twilio-fpa;v=1"
		return token.SignedString([]byte(i.cfg.APISecret))
	default:
		claims := liveKitClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				ID:        identity,
				Issuer:    i.cfg.APIKey,
				Subject:   identity,
				NotBefore: jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(i.cfg.TTL)),
			},
			Name: name,
			Video: VideoGrant{
				Room:         room,
				RoomJoin:     true,
				CanPublish:   true,
				CanSubscribe: true,
			},
		}
		return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(i.cfg.APISecret))
	}
}
