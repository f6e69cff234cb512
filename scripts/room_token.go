package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/harunnryd/viva/pkg/config"
	"github.com/harunnryd/viva/pkg/room"
)

// room_token prints the descriptor a candidate would use to join a
// session's avatar room, for checking room credentials by hand.
func main() {
	configPath := flag.String("config", "", "")
	sessionID := flag.String("session", "", "")
	userID := flag.String("user", "", "")
	flag.Parse()
	if *sessionID == "" {
		fmt.Println("usage: room_token -session=<id> [-user=<id>] [-config=...]")
		os.Exit(1)
	}
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Println("config error:", err)
		os.Exit(1)
	}
	var prov room.Provisioner
	switch cfg.Room.Provider {
	case "livekit":
		prov = &room.TokenProvisioner{
			Issuer:     room.NewTokenIssuer(cfg.RoomToken()),
			WSURL:      cfg.Room.WSURL,
			RoomPrefix: cfg.Room.RoomPrefix,
			Provider:   cfg.Room.Provider,
		}
	case "twilio":
		prov = room.NewTwilioProvisioner(cfg.TwilioRoom())
	default:
		fmt.Printf("room.provider %q has no local provisioner\n", cfg.Room.Provider)
		os.Exit(1)
	}
	user := *userID
	if user == "" {
		user = cfg.Interview.UserID
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	desc, err := prov.Descriptor(ctx, *sessionID, user)
	if err != nil {
		fmt.Println("provision error:", err)
		os.Exit(1)
	}
	out, _ := json.MarshalIndent(desc, "", "  ")
	fmt.Println(string(out))
}
