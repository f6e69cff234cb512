package room

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/harunnryd/viva/pkg/api"
	"github.com/harunnryd/viva/pkg/errorsx"
	"github.com/twilio/twilio-go"
	video "github.com/twilio/twilio-go/rest/video/v1"
)

// Provisioner produces the descriptor needed to join a session's room.
type Provisioner interface {
	Descriptor(ctx context.Context, sessionID, userID string) (api.RoomDescriptor, error)
}

func roomName(prefix, sessionID string) string {
	if prefix == "" {
		prefix = "viva"
	}
	return prefix + "-" + sessionID
}

func participantIdentity(userID string) string {
	if userID == "" {
		userID = "candidate"
	}
	return userID + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// TokenProvisioner mints tokens for a room server that creates rooms on
// first join.
type TokenProvisioner struct {
	Issuer     *TokenIssuer
	WSURL      string
	RoomPrefix string
	Provider   string
}

func (p *TokenProvisioner) Descriptor(ctx context.Context, sessionID, userID string) (api.RoomDescriptor, error) {
	if p.WSURL == "" {
		return api.RoomDescriptor{}, errorsx.Wrap(errors.New("room ws url is required"), errorsx.ReasonRoomToken)
	}
	name := roomName(p.RoomPrefix, sessionID)
	identity := participantIdentity(userID)
	token, err := p.Issuer.Mint(identity, userID, name)
	if err != nil {
		return api.RoomDescriptor{}, errorsx.Wrap(err, errorsx.ReasonRoomToken)
	}
	return api.RoomDescriptor{
		Provider:            p.Provider,
		RoomName:            name,
		ParticipantIdentity: identity,
		ParticipantToken:    token,
		WSURL:               p.WSURL,
	}, nil
}

// SessionSource is the interview API call that hands out room descriptors.
type SessionSource interface {
	RoomSession(ctx context.Context, sessionID string) (api.RoomDescriptor, error)
}

// APIProvisioner asks the interview API for the session's room.
type APIProvisioner struct {
	Source SessionSource
}

func (p *APIProvisioner) Descriptor(ctx context.Context, sessionID, _ string) (api.RoomDescriptor, error) {
	desc, err := p.Source.RoomSession(ctx, sessionID)
	if err != nil {
		return api.RoomDescriptor{}, errorsx.Wrap(err, errorsx.ReasonRoomProvision)
	}
	if !desc.Valid() {
		return api.RoomDescriptor{}, errorsx.Wrap(errors.New("room descriptor is incomplete"), errorsx.ReasonRoomProvision)
	}
	return desc, nil
}

type roomCreator interface {
	CreateRoom(params *video.CreateRoomParams) (*video.VideoV1Room, error)
	FetchRoom(sid string) (*video.VideoV1Room, error)
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	APIKeySID  string
	APISecret  string
	RoomType   string
	RoomPrefix string
	WSURL      string
}

// TwilioProvisioner makes sure a Twilio Video room exists for the session
// and mints a Twilio access token for it.
type TwilioProvisioner struct {
	cfg    TwilioConfig
	issuer *TokenIssuer
	client roomCreator
}

func NewTwilioProvisioner(cfg TwilioConfig) *TwilioProvisioner {
	if cfg.RoomType == "" {
		cfg.RoomType = "group"
	}
	if cfg.WSURL == "" {
		cfg.WSURL = "wss://global.vss.twilio.com/signaling"
	}
	return &TwilioProvisioner{
		cfg: cfg,
		issuer: NewTokenIssuer(TokenConfig{
			Format:     FormatTwilio,
			APIKey:     cfg.APIKeySID,
			APISecret:  cfg.APISecret,
			AccountSID: cfg.AccountSID,
		}),
	}
}

func (p *TwilioProvisioner) Descriptor(ctx context.Context, sessionID, userID string) (api.RoomDescriptor, error) {
	name := roomName(p.cfg.RoomPrefix, sessionID)
	if _, err := p.EnsureRoom(ctx, name); err != nil {
		return api.RoomDescriptor{}, err
	}
	identity := participantIdentity(userID)
	token, err := p.issuer.Mint(identity, userID, name)
	if err != nil {
		return api.RoomDescriptor{}, errorsx.Wrap(err, errorsx.ReasonRoomToken)
	}
	return api.RoomDescriptor{
		Provider:            "twilio",
		RoomName:            name,
		ParticipantIdentity: identity,
		ParticipantToken:    token,
		WSURL:               p.cfg.WSURL,
	}, nil
}

// EnsureRoom creates the room, or fetches it when it already exists, and
// returns its SID.
func (p *TwilioProvisioner) EnsureRoom(ctx context.Context, name string) (string, error) {
	_ = ctx
	if p.cfg.AccountSID == "" || p.cfg.AuthToken == "" {
		return "", errorsx.Wrap(errors.New("missing twilio credentials"), errorsx.ReasonRoomProvision)
	}
	client := p.client
	if client == nil {
		rest := twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: p.cfg.AccountSID,
			Password: p.cfg.AuthToken,
		})
		client = rest.VideoV1
	}
	params := &video.CreateRoomParams{}
	params.SetUniqueName(name)
	params.SetType(p.cfg.RoomType)
	room, err := client.CreateRoom(params)
	if err != nil {
		existing, fetchErr := client.FetchRoom(name)
		if fetchErr != nil {
			return "", errorsx.Wrap(fmt.Errorf("create room %s: %w", name, err), errorsx.ReasonRoomProvision)
		}
		room = existing
	}
	if room == nil || room.Sid == nil {
		return "", errorsx.Wrap(errors.New("missing room sid"), errorsx.ReasonRoomProvision)
	}
	return *room.Sid, nil
}
