package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/Shaik-Faizan-Ahmed/CollegeBusTracker-sub000/internal/config"
	"github.com/Shaik-Faizan-Ahmed/CollegeBusTracker-sub000/internal/database"
	"github.com/Shaik-Faizan-Ahmed/CollegeBusTracker-sub000/internal/session"
	"github.com/Shaik-Faizan-Ahmed/CollegeBusTracker-sub000/internal/websocket"
)

// sessionctl is the operator tool for tracking sessions: sessions are
// minted out of band and handed to tracker devices, so issuing and
// revoking them lives here rather than on the public API.

func usage() {
	fmt.Fprintf(os.Stderr, `Usage:
  sessionctl create -bus <busId>   mint a session for a bus
  sessionctl end -session <id>     deactivate a session
`)
	os.Exit(2)
}

func main() {
	godotenv.Load()

	if len(os.Args) < 2 {
		usage()
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	redisClient, err := database.NewRedisConnection(&cfg.Redis)
	if err != nil {
		log.Fatal("Failed to connect to Redis:", err)
	}
	defer redisClient.Close()

	db, err := database.NewPostgresConnection(cfg.Database.URI)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	store := session.NewStore(redisClient, db)
	ctx := context.Background()

	switch os.Args[1] {
	case "create":
		fs := flag.NewFlagSet("create", flag.ExitOnError)
		busID := fs.String("bus", "", "bus id (1-50, A1-A20, B1-B20, C1-C10)")
		fs.Parse(os.Args[2:])

		if !websocket.ValidBusID(*busID) {
			log.Fatalf("invalid bus id %q", *busID)
		}

		sess, err := store.Create(ctx, *busID)
		if err != nil {
			log.Fatal("Failed to create session:", err)
		}
		fmt.Printf("session %s for bus %s, expires %s\n",
			sess.ID, sess.BusID, sess.ExpiresAt.Format("2006-01-02 15:04:05 MST"))

	case "end":
		fs := flag.NewFlagSet("end", flag.ExitOnError)
		sessionID := fs.String("session", "", "session id to deactivate")
		fs.Parse(os.Args[2:])

		if *sessionID == "" {
			usage()
		}
		if err := store.End(ctx, *sessionID); err != nil {
			log.Fatal("Failed to end session:", err)
		}
		fmt.Printf("session %s ended\n", *sessionID)

	default:
		usage()
	}
}
