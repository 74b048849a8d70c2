// Command client is a headless pixelsync participant. It joins a room,
// walks a circle, mirrors the other participants and logs what it sees.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/NicolasHaas/pixelsync/pkg/client"
	"github.com/NicolasHaas/pixelsync/pkg/logging"
	"github.com/NicolasHaas/pixelsync/pkg/model"
	pb "github.com/NicolasHaas/pixelsync/pkg/protocol/pb"
	"github.com/NicolasHaas/pixelsync/pkg/version"
)

func main() {
	serverArg := flag.String("server", "ws://127.0.0.1:8765/", "websocket URL or bookmark name")
	name := flag.String("name", "", "display name (overrides settings)")
	settingsPath := flag.String("settings", "pixelsync-client.yaml", "client settings file")
	bookmarksPath := flag.String("bookmarks", "servers.yaml", "server bookmarks file")
	saveAs := flag.String("save-bookmark", "", "save -server under this bookmark name")
	roomID := flag.String("room", "", "room id to join (default: first room with space, or a new one)")
	createName := flag.String("create", "", "create a room with this name")
	tick := flag.Duration("tick", 16*time.Millisecond, "render tick")
	stateEvery := flag.Duration("state-interval", 100*time.Millisecond, "interval between state updates")
	radius := flag.Float64("radius", 10, "radius of the walked circle")
	chat := flag.String("chat", "", "chat line to send after joining")
	duration := flag.Duration("duration", 0, "exit after this long (0 runs until interrupted)")
	flag.Parse()

	if err := logging.Setup(logging.FromEnv("PIXELSYNC", logging.Options{Output: os.Stdout})); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}

	settings, err := client.LoadSettings(*settingsPath)
	if err != nil {
		slog.Error("load settings", "err", err)
		os.Exit(1)
	}
	if *name != "" {
		settings.DisplayName = *name
	}

	endpoint, err := resolveEndpoint(*serverArg, *bookmarksPath, *saveAs, settings.DisplayName)
	if err != nil {
		slog.Error("resolve server", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	engine := client.NewEngine(settings)
	bot := &bot{engine: engine, roomID: *roomID, createName: *createName, chat: *chat}
	bot.wire()

	slog.Info("starting pixelsync client", append(version.LogAttrs(), "endpoint", endpoint)...)
	if err := engine.Connect(ctx, endpoint); err != nil {
		slog.Error("connect", "err", err)
		os.Exit(1)
	}
	defer engine.Disconnect()

	bot.run(ctx, *tick, *stateEvery, *radius)
}

// resolveEndpoint maps a bookmark name to its URL and optionally saves it.
func resolveEndpoint(arg, path, saveAs, displayName string) (string, error) {
	bs := client.NewBookmarkStore(path)
	if err := bs.Load(); err != nil {
		return "", fmt.Errorf("load bookmarks: %w", err)
	}

	endpoint, bookmark := arg, ""
	if !strings.Contains(arg, "://") {
		b := bs.Find(arg)
		if b == nil {
			return "", fmt.Errorf("unknown bookmark %q", arg)
		}
		endpoint, bookmark = b.Endpoint, b.Name
	}
	if saveAs != "" {
		bs.Add(client.Bookmark{Name: saveAs, Endpoint: endpoint, DisplayName: displayName})
		bookmark = saveAs
	}
	if bookmark == "" {
		return endpoint, nil
	}
	bs.Touch(bookmark, time.Now().Unix())
	if err := bs.Save(); err != nil {
		slog.Warn("save bookmarks", "err", err)
	}
	return endpoint, nil
}

type bot struct {
	engine     *client.Engine
	roomID     string
	createName string
	chat       string
}

func (b *bot) wire() {
	e := b.engine
	e.OnIdentified = func(ack pb.ConnectAck) {
		switch {
		case b.roomID != "":
			_ = e.JoinRoom(b.roomID)
		case b.createName != "":
			_ = e.CreateRoom(b.createName, ack.MaxPlayers)
		default:
			_ = e.RequestRoomList()
		}
		if b.chat != "" {
			if _, err := e.SendChat(b.chat); err != nil {
				slog.Warn("chat not sent", "err", err)
			}
		}
	}
	e.OnRoomList = func(rooms []pb.RoomSummary) {
		for _, r := range rooms {
			if r.PlayerCount < r.MaxPlayers {
				slog.Info("joining room", "room", r.ID, "name", r.Name, "players", r.PlayerCount)
				_ = e.JoinRoom(r.ID)
				return
			}
		}
		_ = e.CreateRoom(e.PlayerName()+"'s room", 0)
	}
	e.OnPeerJoined = func(p client.RemoteEntity) {
		slog.Info("peer joined", "peer", p.ID, "name", p.Name)
	}
	e.OnPeerLeft = func(id, name string) {
		slog.Info("peer left", "peer", id, "name", name)
	}
	e.OnChat = func(m pb.Chat) {
		slog.Info("chat", "from", m.PlayerName, "room", m.RoomID, "msg", m.Message)
	}
	e.OnError = func(err error) {
		slog.Warn("request failed", "err", err)
	}
	e.OnSystem = func(msg string) {
		slog.Info("server notice", "msg", msg)
	}
}

// run drives the engine until ctx ends or the connection drops.
func (b *bot) run(ctx context.Context, tick, stateEvery time.Duration, radius float64) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	status := time.NewTicker(5 * time.Second)
	defer status.Stop()

	start := time.Now()
	last := start
	var lastState time.Time
	var self model.Transform

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if b.engine.GetState() != client.StateConnected {
				slog.Info("connection closed")
				return
			}
			b.engine.Tick(now, now.Sub(last))
			last = now

			if now.Sub(lastState) >= stateEvery {
				angle := now.Sub(start).Seconds()
				self.Position = model.Vec3{X: radius * math.Cos(angle), Z: radius * math.Sin(angle)}
				self.Rotation = model.Vec3{Y: angle}
				if err := b.engine.SendState(self, "walk", model.DefaultHealth); err != nil {
					slog.Debug("state send failed", "err", err)
				}
				lastState = now
			}
		case <-status.C:
			st := b.engine.Stats()
			slog.Info("status",
				"room", b.engine.RoomID(),
				"peers", b.engine.Registry().Len(),
				"visible", len(b.engine.Visible(self.Position)),
				"rtt", st.SmoothedRTT,
				"frames_in", st.FramesIn,
				"frames_out", st.FramesOut,
				"dropped", st.DroppedFrames,
			)
		}
	}
}
