// Command duelctl is a terminal client for the coordinator.
//
//	duelctl -player alice                  join the next tic-tac-toe room
//	duelctl -player alice -game chess      join a chess room
//	duelctl -session <token>               reconnect to a seat
//
// Commands on stdin: a move payload (4, e2e4, Nf3), "resend", "leave",
// "ping", "quit".
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"duel-server/internal/room"
	"duel-server/internal/rules"
	"duel-server/internal/server"
)

type client struct {
	conn *websocket.Conn

	mu      sync.Mutex
	game    string
	seat    int
	seq     int64
	lastReq *server.MoveRequest
}

func main() {
	url := flag.String("url", "ws://localhost:8080/websocket", "coordinator websocket URL")
	player := flag.String("player", "", "player token to join with")
	handle := flag.String("handle", "", "display handle")
	game := flag.String("game", "", "game to play (default: server default)")
	session := flag.String("session", "", "session token to reconnect with")
	flag.Parse()

	if *player == "" && *session == "" {
		fmt.Fprintln(os.Stderr, "one of -player or -session is required")
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, _, err := websocket.Dial(dialCtx, *url, nil)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "dial %s: %v\n", *url, err)
		os.Exit(1)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	// clientSeq only has to grow, including across restarts of this client
	c := &client{conn: conn, game: *game, seq: time.Now().UnixMilli()}

	if *session != "" {
		err = c.send(ctx, server.MsgReconnect, server.ReconnectRequest{SessionToken: *session})
	} else {
		err = c.send(ctx, server.MsgJoin, server.JoinRequest{PlayerToken: *player, Handle: *handle, Game: *game})
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "send: %v\n", err)
		os.Exit(1)
	}

	go c.readLoop(ctx, stop)
	c.inputLoop(ctx)
}

func (c *client) send(ctx context.Context, msgType string, payload any) error {
	msg := server.ClientMessage{Type: msgType}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		msg.Payload = data
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *client) inputLoop(ctx context.Context) {
	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- strings.TrimSpace(sc.Text())
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok || line == "quit" {
				return
			}
			if err := c.command(ctx, line); err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
			}
		}
	}
}

func (c *client) command(ctx context.Context, line string) error {
	switch line {
	case "":
		return nil
	case "ping":
		return c.send(ctx, server.MsgPing, nil)
	case "leave":
		return c.send(ctx, server.MsgLeave, nil)
	case "resend":
		c.mu.Lock()
		req := c.lastReq
		c.mu.Unlock()
		if req == nil {
			return fmt.Errorf("nothing to resend")
		}
		return c.send(ctx, server.MsgMove, req)
	}

	c.mu.Lock()
	c.seq++
	req := &server.MoveRequest{ClientSeq: c.seq, Payload: movePayload(c.game, line)}
	c.lastReq = req
	c.mu.Unlock()
	return c.send(ctx, server.MsgMove, req)
}

// movePayload turns a typed move into the variant's payload.
func movePayload(game, line string) json.RawMessage {
	if n, err := strconv.Atoi(line); err == nil && game != "chess" {
		data, _ := json.Marshal(rules.TicTacToeMove{Index: &n})
		return data
	}
	data, _ := json.Marshal(rules.ChessMove{Move: line})
	return data
}

func (c *client) readLoop(ctx context.Context, stop context.CancelFunc) {
	defer stop()
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != -1 {
				fmt.Printf("connection closed (%d)\n", status)
			} else if ctx.Err() == nil {
				fmt.Printf("connection lost: %v\n", err)
			}
			return
		}
		var msg struct {
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			fmt.Printf("unreadable message: %s\n", data)
			continue
		}
		c.show(msg.Type, msg.Payload)
	}
}

func (c *client) show(msgType string, payload json.RawMessage) {
	switch msgType {
	case server.MsgSeated:
		var p server.SeatedResponse
		_ = json.Unmarshal(payload, &p)
		c.mu.Lock()
		c.game, c.seat = p.Game, p.Seat
		c.mu.Unlock()
		fmt.Printf("seated in room %s (%s) as seat %d\nsession token: %s\n", p.RoomID, p.Game, p.Seat, p.SessionToken)
	case room.EventResync:
		var p room.Resync
		_ = json.Unmarshal(payload, &p)
		c.mu.Lock()
		c.game, c.seat = p.Game, p.Seat
		c.mu.Unlock()
		fmt.Printf("room %s is %s, seq %d\n", p.RoomID, p.Status, p.Seq)
		c.render(p.StatePayload, p.TurnSeat)
	case room.EventStateUpdate:
		var p room.StateUpdate
		_ = json.Unmarshal(payload, &p)
		fmt.Printf("move %d\n", p.Seq)
		c.render(p.StatePayload, p.TurnSeat)
	case server.MsgMoveRejected:
		var p server.MoveRejectedResponse
		_ = json.Unmarshal(payload, &p)
		fmt.Printf("rejected: %s\n", p.Reason)
	case room.EventGameOver:
		var p room.GameOver
		_ = json.Unmarshal(payload, &p)
		fmt.Println(c.describe(p))
	case room.EventOpponentStatus:
		var p room.OpponentStatus
		_ = json.Unmarshal(payload, &p)
		if p.Connected {
			fmt.Println("opponent connected")
		} else {
			fmt.Println("opponent disconnected")
		}
	case server.MsgError:
		var p room.ErrorPayload
		_ = json.Unmarshal(payload, &p)
		fmt.Printf("error %s: %s\n", p.Code, p.Message)
	case server.MsgPong:
		fmt.Println("pong")
	default:
		fmt.Printf("%s %s\n", msgType, payload)
	}
}

func (c *client) describe(over room.GameOver) string {
	c.mu.Lock()
	seat := c.seat
	c.mu.Unlock()
	switch over.Outcome.Kind {
	case rules.OutcomeWin:
		if over.Outcome.Seat == seat {
			return "you win (" + over.Reason + ")"
		}
		return "you lose (" + over.Reason + ")"
	case rules.OutcomeDraw:
		return "draw"
	}
	return "game over (" + over.Reason + ")"
}

func (c *client) render(state json.RawMessage, turn int) {
	if len(state) == 0 {
		fmt.Println("waiting for an opponent")
		return
	}
	c.mu.Lock()
	game, seat := c.game, c.seat
	c.mu.Unlock()

	switch game {
	case "chess":
		var st rules.ChessState
		if err := json.Unmarshal(state, &st); err == nil {
			fmt.Println(st.FEN)
			if n := len(st.SAN); n > 0 {
				fmt.Println("last:", st.SAN[n-1])
			}
		}
	default:
		var st rules.TicTacToeState
		if err := json.Unmarshal(state, &st); err == nil {
			for row := 0; row < 3; row++ {
				cells := make([]string, 3)
				for col := 0; col < 3; col++ {
					i := row*3 + col
					cells[col] = st.Board[i]
					if cells[col] == "" {
						cells[col] = strconv.Itoa(i)
					}
				}
				fmt.Println(" " + strings.Join(cells, " | "))
			}
		}
	}
	if turn == seat {
		fmt.Println("your move")
	} else {
		fmt.Println("opponent to move")
	}
}
