package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"medisync/internal/agent"
	"medisync/internal/config"
	"medisync/internal/database"
)

func main() {
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	cfg := config.LoadAgent()

	db, err := database.Connect(cfg.QueuePath)
	if err != nil {
		log.Fatal(err)
	}
	queue, err := agent.NewQueue(db)
	if err != nil {
		log.Fatal(err)
	}

	switch flag.Arg(0) {
	case "enqueue":
		if flag.NArg() < 2 {
			log.Fatal("enqueue needs a file path")
		}
		metadata := ""
		if flag.NArg() >= 3 {
			metadata = flag.Arg(2)
		}
		s, err := queue.Enqueue(context.Background(), cfg.OwnerID, flag.Arg(1), "application/dicom", metadata)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("queued %s (%d bytes, checksum %s)\n", s.SessionID, s.Size, s.Checksum)

	case "run":
		transport := agent.NewHTTPTransport(cfg.ServerURL, cfg.DeviceToken, cfg.DeviceID)
		sched := agent.NewScheduler(queue, transport, agent.DefaultSchedulerConfig())

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Printf("agent started device_id=%s server=%s", cfg.DeviceID, cfg.ServerURL)
		sched.Run(ctx)
		log.Println("agent stopped")

	case "status":
		pending, err := queue.ListPending(context.Background())
		if err != nil {
			log.Fatal(err)
		}
		failed, err := queue.ListFailed(context.Background())
		if err != nil {
			log.Fatal(err)
		}
		for _, s := range pending {
			fmt.Printf("%s  %-20s  %d/%d bytes  retries=%d\n", s.SessionID, s.Status, s.BytesSent, s.Size, s.RetryCount)
		}
		for _, s := range failed {
			fmt.Printf("%s  %-20s  retries=%d  last_error=%s\n", s.SessionID, s.Status, s.RetryCount, s.LastError)
		}
		if len(pending) == 0 && len(failed) == 0 {
			fmt.Println("queue is empty")
		}

	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: agent <command>

commands:
  enqueue <file> [metadata-json]   register a captured file for sync
  run                              start the sync loop
  status                           show pending and failed sessions
`)
}
