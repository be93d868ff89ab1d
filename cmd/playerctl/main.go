// Package main provides the player control CLI entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	apiconnect "github.com/osa030/retune/internal/api/connect"
)

var (
	app     = kingpin.New("playerctl", "retune player control client")
	server  = app.Flag("server", "Server address").Default("http://localhost:8080").String()
	token   = app.Flag("token", "Control token (or set RETUNE_API_TOKEN env)").Envar("RETUNE_API_TOKEN").String()
	timeout = app.Flag("timeout", "Timeout of unary calls").Default("60s").Duration()

	// load command
	loadCmd      = app.Command("load", "Point the player at a resource")
	loadResource = loadCmd.Arg("resource", "File path, file:// URI, stream URL or Spotify track").Required().String()

	// play command
	playCmd = app.Command("play", "Start playback")

	// pause command
	pauseCmd = app.Command("pause", "Pause playback")

	// seek command
	seekCmd      = app.Command("seek", "Seek the current resource")
	seekPosition = seekCmd.Arg("position", "Position (e.g. 90s, 1m30s)").Required().Duration()

	// unload command
	unloadCmd = app.Command("unload", "Unload the current resource")

	// status command
	statusCmd = app.Command("status", "Show player status")

	// watch command
	watchCmd = app.Command("watch", "Stream player notifications")
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	client := apiconnect.NewPlayerClient(http.DefaultClient, *server, *token)

	if command == watchCmd.FullCommand() {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		watch(ctx, client)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var (
		status *structpb.Struct
		err    error
	)
	switch command {
	case loadCmd.FullCommand():
		status, err = client.SetResource(ctx, *loadResource)
	case playCmd.FullCommand():
		status, err = client.SetPlaying(ctx, true)
	case pauseCmd.FullCommand():
		status, err = client.SetPlaying(ctx, false)
	case seekCmd.FullCommand():
		status, err = client.Seek(ctx, seekPosition.Milliseconds())
	case unloadCmd.FullCommand():
		status, err = client.Unload(ctx)
	case statusCmd.FullCommand():
		status, err = client.GetStatus(ctx)
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	printStatus(status)
}

func printStatus(s *structpb.Struct) {
	fields := s.AsMap()

	fmt.Println("\n=== PLAYER STATUS ===")
	fmt.Printf("Queue State: %v\n", fields["queue_state"])
	fmt.Printf("Loading: %v\n", fields["is_loading"])
	fmt.Printf("Playing Intent: %v\n", fields["playing"])

	if current, ok := fields["current"]; ok {
		fmt.Printf("Current: %v\n", current)
	} else {
		fmt.Println("Current: (none)")
	}
	if pending, ok := fields["pending"]; ok {
		fmt.Printf("Pending: %v\n", pending)
	}

	if st, ok := fields["status"].(map[string]any); ok {
		fmt.Println("\nEngine Status:")
		fmt.Printf("  Loaded: %v\n", st["is_loaded"])
		fmt.Printf("  Playing: %v\n", st["is_playing"])
		fmt.Printf("  Position: %s\n", formatMillis(st["position_ms"]))
		if d, ok := st["duration_ms"]; ok {
			fmt.Printf("  Duration: %s\n", formatMillis(d))
		} else {
			fmt.Println("  Duration: unknown")
		}
		if e, ok := st["error"]; ok {
			fmt.Printf("  Error: %v\n", e)
		}
	}

	if md, ok := fields["metadata"].(map[string]any); ok && len(md) > 0 {
		fmt.Println("\nMetadata:")
		keys := make([]string, 0, len(md))
		for k := range md {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("  %s: %v\n", k, md[k])
		}
	}
	fmt.Println()
}

func formatMillis(v any) string {
	ms, ok := v.(float64)
	if !ok {
		return "unknown"
	}
	return (time.Duration(ms) * time.Millisecond).Truncate(time.Second).String()
}

func watch(ctx context.Context, client *apiconnect.PlayerClient) {
	stream, err := client.WatchStatus(ctx)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer stream.Close()

	for stream.Receive() {
		line, err := protojson.Marshal(stream.Msg())
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}
		fmt.Println(string(line))
	}
	if err := stream.Err(); err != nil && ctx.Err() == nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}
