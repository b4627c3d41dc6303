package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/ghalamif/RailFlow/internal/adapters/shm"
	"github.com/ghalamif/RailFlow/internal/domain"
)

var (
	shmName     string
	shmDir      string
	shmLayout   string
	shmInterval time.Duration
)

var shmCmd = &cobra.Command{
	Use:   "shm",
	Short: "Inspect the station status regions",
}

var shmDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print the mailboxes and raw bytes of a status region",
	Example: `  railflow-edge shm dump --name wheel_status_ws
  railflow-edge shm dump --name wheel_status --layout legacy --interval 500ms`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if shmDir != "" {
			shm.ShmDir = shmDir
		}
		views, err := layoutViews(shmLayout)
		if err != nil {
			return err
		}
		region, err := shm.Open(shmName, views[0].layout)
		if err != nil {
			return err
		}
		defer region.Close()

		out := cmd.OutOrStdout()
		describeRegion(out, shmName, region.Dump(), views)
		if shmInterval <= 0 {
			return nil
		}

		t := time.NewTicker(shmInterval)
		defer t.Stop()
		for {
			select {
			case <-cmd.Context().Done():
				return nil
			case <-t.C:
				fmt.Fprintln(out)
				describeRegion(out, shmName, region.Dump(), views)
			}
		}
	},
}

func init() {
	shmDumpCmd.Flags().StringVar(&shmName, "name", "wheel_status_ws", "Region name")
	shmDumpCmd.Flags().StringVar(&shmDir, "dir", "", "Directory holding the regions (default /dev/shm)")
	shmDumpCmd.Flags().StringVar(&shmLayout, "layout", "station", "Region layout: station or legacy")
	shmDumpCmd.Flags().DurationVar(&shmInterval, "interval", 0, "Repeat the dump at this interval")
	shmCmd.AddCommand(shmDumpCmd)
}

type layoutView struct {
	label  string
	layout shm.Layout
}

func layoutViews(name string) ([]layoutView, error) {
	switch name {
	case "station":
		return []layoutView{{"", shm.StationLayout()}}, nil
	case "legacy":
		return []layoutView{
			{"WS ", shm.LegacyLayout(domain.StationWS)},
			{"DS ", shm.LegacyLayout(domain.StationDS)},
		}, nil
	}
	return nil, fmt.Errorf("unknown layout %q", name)
}

func describeRegion(w io.Writer, name string, buf []byte, views []layoutView) {
	fmt.Fprintf(w, "region %s stopped=%t\n", name, buf[shm.StopOffset] != 0)

	nc := views[0].layout.NewCarNo
	fmt.Fprintf(w, "  %-10s flag=%d car_no=%s\n", nc.Name, buf[nc.Flag], shm.DecodeCarNo(buf[nc.Offset:nc.Offset+3]))
	for _, v := range views {
		for _, s := range []shm.Slot{v.layout.Axle1, v.layout.Axle2} {
			car, rot, pos := shm.DecodeAxle(buf[s.Offset : s.Offset+s.Len])
			fmt.Fprintf(w, "  %-10s flag=%d car_no=%s rotation=%s position=%s\n",
				v.label+s.Name, buf[s.Flag], car, codeName(rot), codeName(pos))
		}
	}
	fmt.Fprint(w, hex.Dump(buf))
}

func codeName(c domain.WheelCode) string {
	switch c {
	case domain.WheelNormal:
		return "normal"
	case domain.WheelAbnormal:
		return "abnormal"
	}
	return "undetected"
}
