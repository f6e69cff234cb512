package avatar

import "github.com/harunnryd/viva/pkg/api"

// Outcome is what the avatar provider returned for one speak request.
type Outcome struct {
	Err           bool
	Mode          string
	HasMedia      bool
	Pollable      bool
	Room          bool
	RoomConnected bool
}

// OutcomeOf summarizes a speak response. connected reports the room state at
// the time of the response.
func OutcomeOf(resp api.SpeakResponse, err error, roomBackend, connected bool) Outcome {
	if err != nil {
		return Outcome{Err: true}
	}
	return Outcome{
		Mode:          resp.Mode,
		HasMedia:      resp.VideoURL != "" || resp.AudioURL != "",
		Pollable:      resp.RequestID != "",
		Room:          roomBackend || resp.ProviderPayload.Valid(),
		RoomConnected: connected,
	}
}

type DeliveryKind int

const (
	DeliverLocal DeliveryKind = iota
	DeliverPlay
	DeliverPoll
	DeliverRoom
	DeliverWaitRoom
)

func (k DeliveryKind) String() string {
	switch k {
	case DeliverPlay:
		return "play"
	case DeliverPoll:
		return "poll"
	case DeliverRoom:
		return "room"
	case DeliverWaitRoom:
		return "wait_room"
	default:
		return "local"
	}
}

type Delivery struct {
	Kind   DeliveryKind
	Reason string
}

type rule struct {
	match    func(Outcome) bool
	delivery Delivery
}

// Rules are checked in order; the first match wins. A browser_tts answer
// means the provider did not speak, so exactly one local voice is used.
var policy = []rule{
	{func(o Outcome) bool { return o.Err }, Delivery{DeliverLocal, "provider_error"}},
	{func(o Outcome) bool { return o.Mode == api.ModeBrowserTTS }, Delivery{DeliverLocal, "provider_browser_mode"}},
	{func(o Outcome) bool { return o.Room && o.RoomConnected }, Delivery{DeliverRoom, "room_connected"}},
	{func(o Outcome) bool { return o.Room }, Delivery{DeliverWaitRoom, "room_connecting"}},
	{func(o Outcome) bool { return o.HasMedia }, Delivery{DeliverPlay, "media_ready"}},
	{func(o Outcome) bool { return o.Pollable }, Delivery{DeliverPoll, "render_pending"}},
}

// Decide picks how one utterance is delivered.
func Decide(o Outcome) Delivery {
	for _, r := range policy {
		if r.match(o) {
			return r.delivery
		}
	}
	return Delivery{DeliverLocal, "no_media"}
}
