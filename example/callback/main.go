package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/eldaeon/sensorhub/pkg/sensorhub"
)

func main() {
	flow, err := sensorhub.Conf("../../config.example.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	callback := func(_ context.Context, batches []sensorhub.Batch) error {
		for _, b := range batches {
			for _, s := range b.Samples {
				fmt.Printf("%s seq=%d %s=%g\n",
					s.Timestamp.Format(time.RFC3339Nano), b.Seq, s.Channel.Key(), s.Value)
			}
		}
		return nil
	}

	if err := flow.Run(ctx, sensorhub.StreamOutCallback("stdout", callback)); err != nil && err != context.Canceled {
		log.Fatalf("runtime error: %v", err)
	}
}
