package room

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/harunnryd/viva/pkg/api"
	video "github.com/twilio/twilio-go/rest/video/v1"
)

func TestLiveKitTokenGrants(t *testing.T) {
	issuer := NewTokenIssuer(TokenConfig{APIKey: "key", APISecret: "secret"})
	signed, err := issuer.Mint("cand-1", "cand", "viva-s1")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	var claims liveKitClaims
	_, err = jwt.ParseWithClaims(signed, &claims, func(*jwt.Token) (any, error) { return []byte("secret"), nil })
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Issuer != "key" || claims.Subject != "cand-1" {
		t.Fatalf("unexpected registered claims %+v", claims.RegisteredClaims)
	}
	if !claims.Video.RoomJoin || !claims.Video.CanPublish || !claims.Video.CanSubscribe || claims.Video.Room != "viva-s1" {
		t.Fatalf("unexpected grants %+v", claims.Video)
	}
	if _, err := NewTokenIssuer(TokenConfig{}).Mint("a", "b", "c"); err == nil {
		t.Fatalf("expected error without credentials")
	}
}

func TestTwilioTokenShape(t *testing.T) {
	issuer := NewTokenIssuer(TokenConfig{Format: FormatTwilio, APIKey: "SK1", APISecret: "secret", AccountSID: "AC1"})
	signed, err := issuer.Mint("cand-1", "cand", "viva-s1")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	var claims twilioClaims
	token, err := jwt.ParseWithClaims(signed, &claims, func(*jwt.Token) (any, error) { return []byte("secret"), nil })
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if token.Header["cty"] != "twilio-fpa;v=1" {
		t.Fatalf("expected twilio content type header")
	}
	if claims.Subject != "AC1" || claims.Grants.Identity != "cand-1" || claims.Grants.Video.Room != "viva-s1" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if !strings.HasPrefix(claims.ID, "SK1-") {
		t.Fatalf("unexpected jti %q", claims.ID)
	}
}

type stubRooms struct {
	created *video.CreateRoomParams
	err     error
	sid     string
}

func (s *stubRooms) CreateRoom(params *video.CreateRoomParams) (*video.VideoV1Room, error) {
	s.created = params
	if s.err != nil {
		return nil, s.err
	}
	return &video.VideoV1Room{Sid: &s.sid}, nil
}

func (s *stubRooms) FetchRoom(sid string) (*video.VideoV1Room, error) {
	if sid != "viva-s1" {
		return nil, errors.New("not found")
	}
	return &video.VideoV1Room{Sid: &s.sid}, nil
}

func TestTwilioProvisionerDescriptor(t *testing.T) {
	stub := &stubRooms{sid: "RM1"}
	p := NewTwilioProvisioner(TwilioConfig{AccountSID: "AC1", AuthToken: "tok", APIKeySID: "SK1", APISecret: "secret"})
	p.client = stub

	desc, err := p.Descriptor(context.Background(), "s1", "cand")
	if err != nil {
		t.Fatalf("descriptor: %v", err)
	}
	if stub.created == nil || stub.created.UniqueName == nil || *stub.created.UniqueName != "viva-s1" {
		t.Fatalf("expected room unique name")
	}
	if stub.created.Type == nil || *stub.created.Type != "group" {
		t.Fatalf("expected default room type")
	}
	if !desc.Valid() || desc.RoomName != "viva-s1" || !strings.HasPrefix(desc.ParticipantIdentity, "cand-") {
		t.Fatalf("unexpected descriptor %+v", desc)
	}
}

type sessionSourceFunc func(ctx context.Context, sessionID string) (api.RoomDescriptor, error)

func (f sessionSourceFunc) RoomSession(ctx context.Context, sessionID string) (api.RoomDescriptor, error) {
	return f(ctx, sessionID)
}

func TestAPIProvisioner(t *testing.T) {
	p := &APIProvisioner{Source: sessionSourceFunc(func(_ context.Context, id string) (api.RoomDescriptor, error) {
		return api.RoomDescriptor{RoomName: "viva-" + id, WSURL: "wss://room", ParticipantToken: "tok"}, nil
	})}
	desc, err := p.Descriptor(context.Background(), "s1", "cand")
	if err != nil || desc.RoomName != "viva-s1" {
		t.Fatalf("unexpected descriptor %+v err=%v", desc, err)
	}

	p.Source = sessionSourceFunc(func(context.Context, string) (api.RoomDescriptor, error) {
		return api.RoomDescriptor{RoomName: "viva-s1"}, nil
	})
	if _, err := p.Descriptor(context.Background(), "s1", "cand"); err == nil {
		t.Fatalf("expected incomplete descriptor to fail")
	}
}

func TestTwilioProvisionerExistingRoom(t *testing.T) {
	stub := &stubRooms{sid: "RM1", err: errors.New("room exists")}
	p := NewTwilioProvisioner(TwilioConfig{AccountSID: "AC1", AuthToken: "tok"})
	p.client = stub
	sid, err := p.EnsureRoom(context.Background(), "viva-s1")
	if err != nil || sid != "RM1" {
		t.Fatalf("expected existing room, got %q %v", sid, err)
	}
	if _, err := NewTwilioProvisioner(TwilioConfig{}).EnsureRoom(context.Background(), "x"); err == nil {
		t.Fatalf("expected missing credentials error")
	}
}

type fakeTransport struct {
	failures *int
	events   chan Event
	mu       sync.Mutex
	publish  int
}

func (f *fakeTransport) Connect(ctx context.Context, wsURL, token string) error {
	if *f.failures > 0 {
		*f.failures--
		return errors.New("unreachable")
	}
	return nil
}
func (f *fakeTransport) Events() <-chan Event { return f.events }
func (f *fakeTransport) PublishMicrophone(ctx context.Context) error {
	f.mu.Lock()
	f.publish++
	f.mu.Unlock()
	return nil
}
func (f *fakeTransport) Close() error { return nil }

type recordingListener struct {
	mu       sync.Mutex
	statuses []Status
	messages []string
	attached []string
	speaking []bool
}

func (l *recordingListener) OnRoomStatus(s Status, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.statuses = append(l.statuses, s)
	l.messages = append(l.messages, msg)
}
func (l *recordingListener) OnTrack(t Track, attached bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if attached {
		l.attached = append(l.attached, t.SID)
	}
}
func (l *recordingListener) OnRemoteSpeaking(s bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.speaking = append(l.speaking, s)
}

func (l *recordingListener) snapshot() ([]Status, []string, []string, []bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Status(nil), l.statuses...), append([]string(nil), l.messages...),
		append([]string(nil), l.attached...), append([]bool(nil), l.speaking...)
}

var desc = api.RoomDescriptor{RoomName: "viva-s1", ParticipantIdentity: "cand-1", ParticipantToken: "t", WSURL: "wss://room"}

func TestSessionRetriesThenConnects(t *testing.T) {
	failures := 2
	events := make(chan Event, 8)
	tr := &fakeTransport{failures: &failures, events: events}
	l := &recordingListener{}
	s := NewSession(Config{RetryInterval: 5 * time.Millisecond, MaxRetries: 3}, func() Transport { return tr }, l, nil)
	s.Connect(context.Background(), desc)
	s.Connect(context.Background(), desc)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.WaitConnected(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
	statuses, messages, _, _ := l.snapshot()
	retries := 0
	for i, st := range statuses {
		if st == StatusRetrying {
			retries++
			if !strings.HasPrefix(messages[i], "Avatar room unavailable, retrying in") {
				t.Fatalf("unexpected retry message %q", messages[i])
			}
		}
	}
	if retries != 2 {
		t.Fatalf("expected 2 retries, got %d (%v)", retries, statuses)
	}

	events <- Event{Type: EventTrackSubscribed, TrackSID: "TR1", Kind: TrackVideo, Participant: "avatar"}
	events <- Event{Type: EventTrackSubscribed, TrackSID: "TR1", Kind: TrackVideo, Participant: "avatar"}
	events <- Event{Type: EventTrackSubscribed, TrackSID: "TR2", Kind: TrackAudio, Participant: "avatar"}
	events <- Event{Type: EventActiveSpeakers, Speakers: []string{"cand-1"}}
	events <- Event{Type: EventActiveSpeakers, Speakers: []string{"avatar"}}
	events <- Event{Type: EventActiveSpeakers, Speakers: []string{"avatar", "cand-1"}}
	events <- Event{Type: EventActiveSpeakers}

	deadline := time.Now().Add(2 * time.Second)
	for {
		_, _, attached, speaking := l.snapshot()
		if len(attached) == 2 && len(speaking) == 2 {
			if attached[0] != "TR1" || attached[1] != "TR2" {
				t.Fatalf("unexpected attach order %v", attached)
			}
			if !speaking[0] || speaking[1] {
				t.Fatalf("unexpected speaking transitions %v", speaking)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out: attached=%v speaking=%v", attached, speaking)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if len(s.Tracks()) != 2 {
		t.Fatalf("expected two tracks")
	}
	tr.mu.Lock()
	published := tr.publish
	tr.mu.Unlock()
	if published != 1 {
		t.Fatalf("expected microphone published once, got %d", published)
	}
}

func TestSessionGivesUpAfterMaxRetries(t *testing.T) {
	failures := 100
	tr := &fakeTransport{failures: &failures, events: make(chan Event)}
	l := &recordingListener{}
	s := NewSession(Config{RetryInterval: time.Millisecond, MaxRetries: 2}, func() Transport { return tr }, l, nil)
	s.Connect(context.Background(), desc)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := s.WaitConnected(ctx); err == nil {
		t.Fatalf("expected wait to fail")
	}
	s.Close()
	if s.Status() != StatusFailed {
		t.Fatalf("expected failed status, got %s", s.Status())
	}
	if failures != 97 {
		t.Fatalf("expected 3 attempts, got %d", 100-failures)
	}
}

func TestSessionDisconnectDetachesTracks(t *testing.T) {
	failures := 0
	events := make(chan Event, 4)
	l := &recordingListener{}
	s := NewSession(Config{}, func() Transport { return &fakeTransport{failures: &failures, events: events} }, l, nil)
	s.Connect(context.Background(), desc)
	defer s.Close()
	_ = s.WaitConnected(context.Background())

	events <- Event{Type: EventTrackSubscribed, TrackSID: "TR1", Kind: TrackAudio}
	events <- Event{Type: EventDisconnected, Reason: "server left"}
	deadline := time.Now().Add(2 * time.Second)
	for s.Status() != StatusDisconnected {
		if time.Now().After(deadline) {
			t.Fatalf("expected disconnected status")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if len(s.Tracks()) != 0 {
		t.Fatalf("expected tracks cleared")
	}
}

func TestWSTransportEvents(t *testing.T) {
	upgrader := websocket.Upgrader{}
	gotPublish := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("access_token") != "tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteJSON(Event{Type: EventTrackSubscribed, TrackSID: "TR1", Kind: TrackAudio})
		var msg map[string]string
		if err := conn.ReadJSON(&msg); err == nil {
			gotPublish <- msg["type"]
		}
	}))
	defer srv.Close()

	tr := NewWSTransport(nil)
	if err := tr.Connect(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"), "tok"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer tr.Close()
	ev := <-tr.Events()
	if ev.Type != EventTrackSubscribed || ev.TrackSID != "TR1" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if err := tr.PublishMicrophone(context.Background()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case typ := <-gotPublish:
		if typ != "publish" {
			t.Fatalf("unexpected publish message %q", typ)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("server did not receive publish")
	}
	if ev := <-tr.Events(); ev.Type != EventDisconnected {
		t.Fatalf("expected disconnected after server closed, got %+v", ev)
	}
}

func TestSessionReconnectsAfterDisconnect(t *testing.T) {
	failures := 0
	var mu sync.Mutex
	var transports []*fakeTransport
	l := &recordingListener{}
	s := NewSession(Config{RetryInterval: 20 * time.Millisecond, MaxRetries: 1}, func() Transport {
		mu.Lock()
		defer mu.Unlock()
		tr := &fakeTransport{failures: &failures, events: make(chan Event, 4)}
		transports = append(transports, tr)
		return tr
	}, l, nil)
	s.Connect(context.Background(), desc)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.WaitConnected(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
	mu.Lock()
	first := transports[0]
	mu.Unlock()
	first.events <- Event{Type: EventDisconnected, Reason: "server left"}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		dials := len(transports)
		mu.Unlock()
		if dials == 2 && s.Connected() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("room never reconnected: dials=%d status=%s", dials, s.Status())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := s.WaitConnected(ctx); err != nil {
		t.Fatalf("wait after reconnect: %v", err)
	}
	statuses, _, _, _ := l.snapshot()
	connected := 0
	for _, st := range statuses {
		if st == StatusConnected {
			connected++
		}
	}
	if connected != 2 {
		t.Fatalf("expected two connected reports, got %v", statuses)
	}
}

func TestSessionFailsWhenReconnectExhausted(t *testing.T) {
	failures := 0
	var mu sync.Mutex
	var transports []*fakeTransport
	s := NewSession(Config{RetryInterval: 5 * time.Millisecond, MaxRetries: 1}, func() Transport {
		mu.Lock()
		defer mu.Unlock()
		tr := &fakeTransport{failures: &failures, events: make(chan Event, 4)}
		transports = append(transports, tr)
		return tr
	}, &recordingListener{}, nil)
	s.Connect(context.Background(), desc)
	defer s.Close()
	_ = s.WaitConnected(context.Background())

	mu.Lock()
	failures = 100
	first := transports[0]
	mu.Unlock()
	first.events <- Event{Type: EventDisconnected, Reason: "server left"}

	deadline := time.Now().Add(2 * time.Second)
	for s.Status() != StatusFailed {
		if time.Now().After(deadline) {
			t.Fatalf("expected failed status after reconnect attempts, got %s", s.Status())
		}
		time.Sleep(5 * time.Millisecond)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := s.WaitConnected(ctx); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected not connected, got %v", err)
	}
}
