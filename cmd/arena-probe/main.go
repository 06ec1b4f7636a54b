// arena-probe checks a running arena: REST health, a bot game, and optionally
// WebSocket pairing between two synthetic players.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/park285/cheese-arena/internal/gateway"
	"github.com/park285/cheese-arena/internal/httpapi"
	"github.com/park285/cheese-arena/pkg/arenadto"
)

func main() {
	baseURL := os.Getenv("ARENA_BASE_URL")
	wsURL := os.Getenv("ARENA_WS_URL")
	if baseURL == "" {
		log.Fatal("ARENA_BASE_URL is required")
	}

	client := httpapi.NewClient(baseURL, httpapi.WithTimeout(8*time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.Health(ctx); err != nil {
		log.Fatalf("/healthz error: %v", err)
	}
	log.Println("/healthz ok")

	game, err := client.CreateGame(ctx, arenadto.CreateGameRequest{Identity: "probe", Name: "Probe", Color: "white"})
	if err != nil {
		log.Fatalf("POST /games error: %v", err)
	}
	state, err := client.Game(ctx, game.SessionID)
	if err != nil {
		log.Fatalf("GET /games/%s error: %v", game.SessionID, err)
	}
	log.Printf("bot game ok: id=%s side=%s fen=%s", game.SessionID, game.Side, state.FEN)

	if wsURL == "" {
		log.Println("ARENA_WS_URL not set; skipping WS check")
		return
	}
	if err := probePairing(wsURL); err != nil {
		log.Fatalf("WS pairing error: %v", err)
	}
}

// probePairing connects two players on a 1+0 queue and waits for both matchFound frames.
func probePairing(wsURL string) error {
	var wg sync.WaitGroup
	found := make(chan arenadto.MatchFound, 2)
	var clients []*gateway.Client

	for _, id := range []string{"probe-a", "probe-b"} {
		u, err := url.Parse(wsURL)
		if err != nil {
			return err
		}
		q := u.Query()
		q.Set("identity", id)
		q.Set("name", id)
		u.RawQuery = q.Encode()

		c := gateway.NewClient(u.String(), 0)
		c.OnStateChange(func(s gateway.State) { log.Printf("WS %s state: %s", id, s) })
		wg.Add(1)
		var once sync.Once
		c.OnFrame(func(f arenadto.Frame) {
			if f.Type != arenadto.TypeMatchFound {
				return
			}
			var m arenadto.MatchFound
			if json.Unmarshal(f.Payload, &m) == nil {
				once.Do(func() {
					found <- m
					wg.Done()
				})
			}
		})

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = c.Connect(ctx)
		if err == nil {
			err = c.Send(ctx, arenadto.Inbound{Type: arenadto.TypeFindMatch, TimeControl: "1+0"})
		}
		cancel()
		if err != nil {
			return fmt.Errorf("%s: %w", id, err)
		}
		clients = append(clients, c)
	}
	defer func() {
		for _, c := range clients {
			_ = c.Close(context.Background())
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		return fmt.Errorf("timed out waiting for matchFound")
	}
	a, b := <-found, <-found
	log.Printf("paired: session=%s sides=%s/%s", a.SessionID, a.Side, b.Side)
	return nil
}
