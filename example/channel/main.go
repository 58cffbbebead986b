package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/eldaeon/sensorhub"
)

func main() {
	flow, err := sensorhub.Conf("../../config.example.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sink, batches, closeBatches := sensorhub.NewChannelSink("fanout", 32)
	defer closeBatches()

	go fanoutWorker("radiation", batches)

	if err := flow.Run(ctx, sensorhub.StreamOutSink(sink)); err != nil && err != context.Canceled {
		log.Fatalf("runtime error: %v", err)
	}
}

// fanoutWorker prints the radiation reading of each snapshot.
func fanoutWorker(name string, batches <-chan []sensorhub.Batch) {
	for group := range batches {
		for _, b := range group {
			fmt.Printf("[%s] %s seq=%d cpm_h=%g cpm_l=%g\n", name,
				time.Now().Format(time.RFC3339), b.Seq,
				b.Snapshot.Value(sensorhub.CPMHigh), b.Snapshot.Value(sensorhub.CPMLow))
		}
	}
}
