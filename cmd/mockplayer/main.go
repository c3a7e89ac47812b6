package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/quarckster/go-mpris-server/pkg/events"
	"github.com/quarckster/go-mpris-server/pkg/server"
	"go.uber.org/zap"
)

// mockplayer publishes org.mpris.MediaPlayer2.MockPlayer on the session bus
// so the tracker can be exercised without a real media player.
func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	player := newMockPlayer()
	s := server.NewServer(playerName, player, player)
	evt := events.NewEventHandler(s)
	player.onStatus = func() {
		if err := evt.Player.OnPlayPause(); err != nil {
			logger.Warn("Failed to emit PlaybackStatus change", zap.Error(err))
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	listenErr := make(chan error, 1)
	go func() {
		// Listen returns early when the bus connection fails
		listenErr <- s.Listen()
	}()

	logger.Info("Mock player published", zap.String("name", "org.mpris.MediaPlayer2."+playerName))

	select {
	case <-ctx.Done():
	case err := <-listenErr:
		if err != nil {
			logger.Fatal("Failed to publish mock player", zap.Error(err))
		}
	}

	s.Stop()
	logger.Info("Mock player stopped")
}
