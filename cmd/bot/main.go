package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"ratcellar.io/internal/protocol"
	"ratcellar.io/internal/sim/catalogs"
	"ratcellar.io/internal/sim/game"
)

func main() {
	var (
		url   = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name  = flag.String("name", "bot", "player name")
		click = flag.Duration("click", 200*time.Millisecond, "manual kill interval")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		PlayerName:      *name,
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	// Reads happen on their own goroutine; all writes stay on this one.
	msgs := make(chan []byte, 16)
	go func() {
		defer close(msgs)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				logger.Printf("read: %v", err)
				return
			}
			msgs <- msg
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	b := &bot{conn: conn, log: logger, cats: catalogs.Defaults()}
	t := time.NewTicker(*click)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			b.act(protocol.ActMsg{Op: protocol.OpManualKill})
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			b.handle(msg)
		}
	}
}

type bot struct {
	conn  *websocket.Conn
	log   *log.Logger
	cats  *catalogs.Catalogs
	next  int
	state game.State
	have  bool
}

func (b *bot) act(a protocol.ActMsg) {
	b.next++
	a.Type = protocol.TypeAct
	a.ProtocolVersion = protocol.Version
	a.ID = fmt.Sprintf("A%d", b.next)
	_ = b.conn.WriteJSON(a)
}

func (b *bot) handle(msg []byte) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return
	}
	switch base.Type {
	case protocol.TypeWelcome:
		var w protocol.WelcomeMsg
		if err := json.Unmarshal(msg, &w); err != nil {
			return
		}
		b.log.Printf("WELCOME session=%s cellars=%d quests=%d", w.SessionID, w.Catalogs.Cellars.Count, w.Catalogs.Quests.Count)

	case protocol.TypeEvents:
		var ev protocol.EventsMsg
		if err := json.Unmarshal(msg, &ev); err != nil {
			return
		}
		for _, e := range ev.Events {
			if e.Kind == game.EventLeveledUp {
				b.log.Printf("level %d", e.Level)
			}
		}

	case protocol.TypeError:
		var e protocol.ErrorMsg
		if err := json.Unmarshal(msg, &e); err == nil {
			b.log.Printf("ERROR act=%s code=%s %s", e.ActID, e.Code, e.Message)
		}

	case protocol.TypeState:
		var sm protocol.StateMsg
		if err := json.Unmarshal(msg, &sm); err != nil {
			return
		}
		var st game.State
		if err := json.Unmarshal(sm.State, &st); err != nil {
			return
		}
		b.state, b.have = st, true
		b.plan()
	}
}

// plan spends gold: open the first cellar, then keep hiring into the newest
// opened cellar while the catalog price is affordable.
func (b *bot) plan() {
	if !b.have {
		return
	}
	st := b.state
	if len(st.OpenedCellars) == 0 {
		id := 0
		b.act(protocol.ActMsg{Op: protocol.OpOpenCellar, CellarID: &id})
		b.have = false
		return
	}
	c := st.OpenedCellars[len(st.OpenedCellars)-1]
	def, ok := b.cats.Cellars.ByID[c.ID]
	if !ok || def.HireCost <= 0 || st.Gold < def.HireCost {
		return
	}
	id := c.ID
	b.act(protocol.ActMsg{Op: protocol.OpHireAdventurers, CellarID: &id, Count: 1})
	// Wait for the next STATE before spending again.
	b.have = false
}
