// Headless room client: joins a room, mirrors the shared diagram in a local
// store, and forwards mutations read from stdin. One mutation per line, as
// the raw wire payload, e.g.:
//
//	{"type":"class-added","data":{"id":"c1","name":"Order","attributes":[],"position":{"x":10,"y":20}}}
//	{"type":"relation-added","data":{"id":"r1","fromClassId":"c1","toClassId":"c1","type":"association"}}
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"collaborative-diagram/internal/client"
	"collaborative-diagram/internal/domain"
	"collaborative-diagram/internal/protocol"
)

func main() {
	serverURL := flag.String("server", "ws://localhost:3001/ws", "relay WebSocket endpoint")
	roomID := flag.String("room", "default-room", "room to join")
	name := flag.String("name", "", "display name (random when empty)")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	user := domain.RandomUser()
	if *name != "" {
		user.Name = *name
	}

	store := client.NewStore()
	store.Subscribe(func(ch client.Change) {
		if ch.Source == client.SourceRemote {
			fmt.Printf("diagram now has %d classes, %d relations\n",
				len(ch.Diagram.Classes), len(ch.Diagram.Relations))
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	bridge, err := client.Dial(ctx, *serverURL, *roomID, user, store)
	cancel()
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer bridge.Close()

	fmt.Printf("joined room %q as %s (%s)\n", *roomID, user.Name, user.ID)

	go readStdin(store, log)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	snapshot := store.Snapshot()
	fmt.Printf("leaving with %d classes, %d relations\n", len(snapshot.Classes), len(snapshot.Relations))
}

func readStdin(store *client.Store, log *logrus.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var env protocol.MutationEnvelope
		if err := json.Unmarshal(line, &env); err != nil {
			log.Warnf("Not a mutation envelope: %v", err)
			continue
		}
		// The bridge fills in user and timestamp when it forwards the
		// store change.
		mut, err := protocol.DecodeMutation(env)
		if err != nil {
			log.Warnf("Invalid mutation: %v", err)
			continue
		}
		if !store.Apply(mut) {
			log.Warn("Mutation was a no-op")
		}
	}
}
