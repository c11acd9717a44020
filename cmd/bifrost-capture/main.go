// Command bifrost-capture captures a packet stream from a UDP socket or a
// packet file into a ring and drains the committed bytes to a file.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/lwa-project/bifrost/bfstatus"
	"github.com/lwa-project/bifrost/capture"
	_ "github.com/lwa-project/bifrost/capture/simple"
	"github.com/lwa-project/bifrost/core/logging"
	"github.com/lwa-project/bifrost/memory"
	"github.com/lwa-project/bifrost/ring"
)

var logger = logging.New("main")

func main() {
	app := &cli.App{
		Name:  "bifrost-capture",
		Usage: "capture a packet stream into a ring and drain it to a file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Usage: "UDP `ADDR` to bind (host:port)"},
			&cli.StringFlag{Name: "file", Usage: "packet `FILE` to read instead of the network"},
			&cli.StringFlag{Name: "format", Value: "simple", Usage: "packet `FORMAT`"},
			&cli.IntFlag{Name: "nsrc", Value: 1, Usage: "number of source streams"},
			&cli.IntFlag{Name: "src0", Value: 0, Usage: "first source index"},
			&cli.IntFlag{Name: "buffer-ntime", Value: 256, Usage: "commit granularity in time samples"},
			&cli.IntFlag{Name: "slot-ntime", Value: 4096, Usage: "sequence granularity in time samples"},
			&cli.IntFlag{Name: "max-payload", Value: 9000, Usage: "maximum packet payload bytes"},
			&cli.IntFlag{Name: "core", Value: -1, Usage: "pin the capture thread to CPU `CORE`"},
			&cli.StringFlag{Name: "space", Value: "system", Usage: "ring memory `SPACE`"},
			&cli.StringFlag{Name: "out", Value: "-", Usage: "output `FILE`, - for stdout"},
		},
		Action: run,
	}
	if e := app.Run(os.Args); e != nil {
		logger.Fatal("capture failed", zap.Error(e))
	}
}

func run(c *cli.Context) error {
	space, e := memory.ParseSpace(c.String("space"))
	if e != nil {
		return e
	}
	r := ring.New("capture", space)
	defer r.Close()

	cfg := capture.Config{
		Format:         c.String("format"),
		Ring:           r,
		Nsrc:           c.Int("nsrc"),
		Src0:           c.Int("src0"),
		MaxPayloadSize: c.Int("max-payload"),
		BufferNtime:    c.Int("buffer-ntime"),
		SlotNtime:      c.Int("slot-ntime"),
		PinCore:        c.Int("core") >= 0,
		Core:           c.Int("core"),
	}

	var eng *capture.Engine
	switch {
	case c.String("file") != "":
		f, e := os.Open(c.String("file"))
		if e != nil {
			return e
		}
		eng, e = capture.NewDiskReader(f, cfg)
		if e != nil {
			return e
		}
	case c.String("listen") != "":
		eng, e = capture.ListenUDP(c.String("listen"), cfg)
		if e != nil {
			return e
		}
	default:
		return fmt.Errorf("one of --listen or --file is required: %w", bfstatus.ErrInvalidArgument)
	}
	defer eng.Close()

	out := io.Writer(os.Stdout)
	if name := c.String("out"); name != "-" {
		f, e := os.Create(name)
		if e != nil {
			return e
		}
		defer f.Close()
		out = f
	}

	captureDone := make(chan error, 1)
	go func() {
		captureDone <- eng.Run(nil)
		eng.Close()
	}()

	if e := drain(r, out); e != nil {
		return e
	}
	if e := <-captureDone; e != nil {
		return e
	}
	fmt.Fprintln(os.Stderr, eng.Counters().String())
	return nil
}

// drain copies every committed sequence to out until the writer closes.
func drain(r *ring.Ring, out io.Writer) error {
	rd, e := r.OpenReader(true)
	if e != nil {
		return e
	}
	defer rd.Close()

	rs, e := rd.OpenSequenceEarliest(ring.Forever)
	if e != nil {
		return e
	}
	for {
		logger.Info("draining sequence",
			zap.String("name", rs.Name()), zap.Uint64("timeTag", rs.TimeTag()))
		for {
			sp, e := rs.Acquire(int(r.ContiguousSpan()), ring.Forever)
			if e != nil {
				if bfstatus.KindOf(e) == bfstatus.KindEndOfData {
					break
				}
				return e
			}
			_, we := out.Write(sp.Data())
			sp.Release()
			if we != nil {
				return we
			}
		}
		next, e := rs.Next(ring.Forever)
		if e != nil {
			if bfstatus.KindOf(e) == bfstatus.KindEndOfData {
				return nil
			}
			return e
		}
		rs = next
	}
}
