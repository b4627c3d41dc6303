// channel runs the engine in memory and drives one wagon through it.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ghalamif/RailFlow"
)

func main() {
	cfg := railflow.DefaultConfig()
	cfg.WAL.Dir = "./data/example-wal"
	cfg.Metrics.Addr = ""
	// a single wagon never gets a zone2 peak; let the finalizer close it quickly
	cfg.Finalizer.Zone2Grace = 2 * time.Second

	feed, msgs, closeFeed := railflow.NewChannelFeed("stdout", 64)
	defer closeFeed()

	rt, err := railflow.NewRuntime(cfg, railflow.WithFeed(feed))
	if err != nil {
		log.Fatalf("build runtime: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()

	for _, d := range []railflow.Detection{
		{HasDigit: true, FrameCode: "4F1"},
		{HasDigit: true, FrameCode: "451"},
		{HasDigit: false},
		{HasDigit: false},
	} {
		if err := rt.Detect(ctx, d); err != nil {
			log.Fatalf("detect: %v", err)
		}
	}
	for _, st := range []railflow.Station{railflow.StationWS, railflow.StationDS} {
		for axle := 1; axle <= 2; axle++ {
			rt.WheelReport(railflow.WheelReport{Station: st, Axle: axle, CarNo: "451", Rotation: 1, Position: 1})
		}
	}

	for {
		select {
		case m := <-msgs:
			fmt.Printf("%-12s event=%s car=%s station=%s status=%s\n", m.Kind, m.EventID, m.CarNo, m.Station, m.Status)
			if m.Kind == "car_update" {
				cancel()
				<-done
				return
			}
		case err := <-done:
			if err != nil {
				log.Fatalf("runtime error: %v", err)
			}
			return
		}
	}
}
