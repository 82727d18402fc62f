// Command room-peer-go is a headless room participant for browser E2E tests.
// It joins a room over the signaling WebSocket, answers every offer it
// receives with a pion PeerConnection and echoes DataChannel messages back.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/relay"
)

type inbound struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type peer struct {
	api    *webrtc.API
	ws     *websocket.Conn
	userID string
	pcs    map[string]*webrtc.PeerConnection
}

func main() {
	signalURL := envOrDefault("SIGNALING_URL", "ws://127.0.0.1:8080/ws")
	roomID := envOrDefault("ROOM_ID", "e2e")
	userID := envOrDefault("USER_ID", "room-peer")

	ws, _, err := websocket.DefaultDialer.Dial(signalURL, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dial %s: %v\n", signalURL, err)
		os.Exit(1)
	}

	// pion log levels follow PION_LOG_{TRACE,DEBUG,INFO,WARN,ERROR}.
	se := webrtc.SettingEngine{LoggerFactory: logging.NewDefaultLoggerFactory()}
	p := &peer{
		api:    webrtc.NewAPI(webrtc.WithSettingEngine(se)),
		ws:     ws,
		userID: userID,
		pcs:    make(map[string]*webrtc.PeerConnection),
	}
	defer p.closeAll()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = ws.Close()
	}()

	if err := p.send(relay.EventJoinRoom, map[string]any{
		"roomId":   roomID,
		"userId":   userID,
		"userData": map[string]any{"username": userID},
	}); err != nil {
		fmt.Fprintf(os.Stderr, "join: %v\n", err)
		os.Exit(1)
	}

	for {
		var msg inbound
		if err := ws.ReadJSON(&msg); err != nil {
			if ctx.Err() == nil {
				fmt.Fprintf(os.Stderr, "signaling read: %v\n", err)
				os.Exit(1)
			}
			return
		}
		if err := p.handle(msg); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", msg.Type, err)
		}
	}
}

func (p *peer) handle(msg inbound) error {
	switch msg.Type {
	case relay.EventRoomUsers:
		// Printed once the join is acknowledged so the harness can start
		// browser clients.
		fmt.Println("READY")
	case relay.EventOffer:
		var fwd relay.OfferForward
		if err := json.Unmarshal(msg.Payload, &fwd); err != nil {
			return err
		}
		return p.answer(fwd)
	case relay.EventICECandidate:
		var fwd relay.ICECandidateForward
		if err := json.Unmarshal(msg.Payload, &fwd); err != nil {
			return err
		}
		pc := p.pcs[fwd.Sender]
		if pc == nil {
			return nil
		}
		var cand webrtc.ICECandidateInit
		if err := json.Unmarshal(fwd.Candidate, &cand); err != nil {
			return err
		}
		return pc.AddICECandidate(cand)
	case relay.EventError:
		fmt.Fprintf(os.Stderr, "server error: %s\n", msg.Payload)
	}
	return nil
}

func (p *peer) answer(fwd relay.OfferForward) error {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(fwd.Offer, &offer); err != nil {
		return fmt.Errorf("decode offer: %w", err)
	}

	if old := p.pcs[fwd.Sender]; old != nil {
		_ = old.Close()
	}
	pc, err := p.api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return err
	}
	p.pcs[fwd.Sender] = pc

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		dc.OnMessage(func(m webrtc.DataChannelMessage) {
			if m.IsString {
				_ = dc.SendText(string(m.Data))
				return
			}
			_ = dc.Send(m.Data)
		})
	})

	if err := pc.SetRemoteDescription(offer); err != nil {
		return err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return err
	}

	// Answer with all candidates inline; no trickle from this side.
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return err
	}
	<-gatherComplete

	local := pc.LocalDescription()
	if local == nil {
		return fmt.Errorf("no local description")
	}
	return p.send(relay.EventAnswer, map[string]any{
		"target":   fwd.Sender,
		"answer":   local,
		"username": p.userID,
	})
}

func (p *peer) send(eventType string, payload any) error {
	return p.ws.WriteJSON(map[string]any{"type": eventType, "payload": payload})
}

func (p *peer) closeAll() {
	for id, pc := range p.pcs {
		_ = pc.Close()
		delete(p.pcs, id)
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
