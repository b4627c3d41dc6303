package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/ghalamif/RailFlow/pkg/railflow"
)

func main() {
	flow, err := railflow.Conf("../config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	callback := func(m railflow.Message) {
		if m.Kind != "car_update" {
			return
		}
		fmt.Printf("%s event=%s car=%s wheels=%s\n",
			time.UnixMilli(m.TsMs).Format(time.RFC3339Nano),
			m.EventID,
			m.CarNo,
			m.Verdict,
		)
	}

	if err := flow.Run(ctx, railflow.StreamOutCallback("stdout", callback)); err != nil && err != context.Canceled {
		log.Fatalf("runtime error: %v", err)
	}
}
