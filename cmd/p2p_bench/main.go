// p2p_bench pairs two devices of a collective backend and runs send_v2/recv_v2 steps between them,
// checking the received contents and reporting the throughput.
//
// Example:
//
//	p2p_bench -steps=1000 -size=1048576 -dtype=float32 -use_calc_stream -devices=2,5
//
// The two devices form a 1D device mesh with the axis "pair", and ring 0 is its replica group.
//
// The backend is selected by GOMLX_COLLECTIVE if set, otherwise by the -backend flag.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/collective/backends"
	_ "github.com/gomlx/collective/backends/default"
	"github.com/gomlx/collective/pkg/collective/comm"
	"github.com/gomlx/collective/pkg/collective/group"
	"github.com/gomlx/collective/pkg/collective/ops"
	"github.com/gomlx/collective/pkg/core/distributed"
	"github.com/gomlx/collective/pkg/core/dtypes"
	"github.com/gomlx/collective/pkg/core/shapes"
	"github.com/gomlx/collective/pkg/core/tensors"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

var (
	flagBackend       = flag.String("backend", "loopback:devices=2", "Collective backend configuration, used if $GOMLX_COLLECTIVE is not set.")
	flagSteps         = flag.Int("steps", 100, "Number of send/recv steps.")
	flagSize          = flag.Int("size", 1<<16, "Number of elements of the tensor sent at each step.")
	flagDType         = flag.String("dtype", "float32", "DType of the tensor sent.")
	flagUseCalcStream = flag.Bool("use_calc_stream", false, "Enqueue transfers on the devices compute streams.")
	flagGroup         = flag.Bool("group", false, "Transfer through a communication group instead of a ring communicator.")
	flagVerify        = flag.Bool("verify", true, "Verify the received contents at every step.")
	flagDevices       = flag.String("devices", "0,1", "Comma separated sender and receiver devices.")
)

const (
	ringID   = 0
	pairAxis = "pair"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	backends.DefaultConfig = *flagBackend
	backend := must.M1(backends.TryNew())
	defer backend.Finalize()
	dtype := must.M1(dtypes.FromName(*flagDType))
	devices, err := parseDevices(*flagDevices, backend.NumDevices())
	if err != nil {
		klog.Fatalf("Invalid -devices: %v", err)
	}
	ring := must.M1(pairRing(backend, devices))

	workers := newWorkers(backend, ring)
	start := time.Now()
	if err := run(workers, ring.Devices, dtype); err != nil {
		klog.Errorf("Failed: %+v", err)
		os.Exit(1)
	}
	elapsed := time.Since(start)
	for _, rt := range workers {
		must.M(rt.Finalize())
	}
	report(backend, ring.Devices, dtype, elapsed)
}

// parseDevices parses the sender and receiver devices.
func parseDevices(spec string, numDevices int) ([]backends.DeviceNum, error) {
	parts := strings.Split(spec, ",")
	if len(parts) != 2 {
		return nil, errors.Errorf("expected 2 devices, got %q", spec)
	}
	devices := make([]backends.DeviceNum, len(parts))
	for i, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, errors.Wrapf(err, "device %q", part)
		}
		if n < 0 || n >= numDevices {
			return nil, errors.Errorf("device %d out of range, the backend has %d devices", n, numDevices)
		}
		devices[i] = backends.DeviceNum(n)
	}
	return devices, nil
}

// pairRing lays the devices on a 1D mesh and returns the ring of its only replica group.
func pairRing(backend backends.Backend, devices []backends.DeviceNum) (comm.Ring, error) {
	mesh, err := distributed.NewDeviceMesh(backend, []int{len(devices)}, []string{pairAxis})
	if err != nil {
		return comm.Ring{}, err
	}
	mesh.SetName("p2p")
	if err := mesh.SetDeviceAssignment(devices...); err != nil {
		return comm.Ring{}, err
	}
	rings, err := comm.RingsFromMesh(backend, mesh, []string{pairAxis}, ringID)
	if err != nil {
		return comm.Ring{}, err
	}
	klog.V(1).Infof("ring %d over %s: devices %v", ringID, mesh, rings[ringID].Devices)
	return rings[ringID], nil
}

// newWorkers creates one Runtime per ring rank, with ring 0 over both devices.
// With -group, a communication group with the same id is also registered, taking precedence.
func newWorkers(backend backends.Backend, ring comm.Ring) []*ops.Runtime {
	rings := map[int]comm.Ring{ringID: ring}
	groupUniqueID, status := backend.NewUniqueID()
	must.M(status.Err())
	workers := make([]*ops.Runtime, 2)
	for rank := range workers {
		workers[rank] = ops.NewRuntime(backend, comm.RingFactory(backend, rings))
		if *flagGroup {
			g := must.M1(group.New(backend, ringID, groupUniqueID, ring.Devices, rank))
			must.M(workers[rank].Groups.Insert(g))
		}
	}
	return workers
}

// synchronize waits for the transfers of a worker.
func synchronize(rt *ops.Runtime, dev backends.DeviceNum) error {
	if *flagGroup {
		g := must.M1(rt.Groups.Get(ringID))
		return g.(*group.BackendGroup).Synchronize()
	}
	if *flagUseCalcStream {
		return rt.Devices.Synchronize()
	}
	c, err := rt.Comms.Get(ringID, dev)
	if err != nil {
		return err
	}
	return c.Stream.Synchronize()
}

func run(workers []*ops.Runtime, devices []backends.DeviceNum, dtype dtypes.DType) error {
	x := tensors.FromShape(shapes.Make(dtype, *flagSize))
	bar := progressbar.NewOptions(*flagSteps,
		progressbar.OptionSetDescription("send/recv"),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("steps"),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
	)
	defer func() { _ = bar.Finish() }()

	for step := range *flagSteps {
		err := x.MutableBytes(func(data []byte) {
			for i := range data {
				data[i] = byte(i + step)
			}
		})
		if err != nil {
			return err
		}
		recvCtx := ops.NewExecutionContext(devices[1], workers[1].Devices).
			WithAttr("ring_id", ringID).
			WithAttr("peer", 0).
			WithAttr("use_calc_stream", *flagUseCalcStream).
			WithAttr("dtype", dtype).
			WithAttr("out_shape", []int{*flagSize})
		sendCtx := ops.NewExecutionContext(devices[0], workers[0].Devices).
			WithInput("X", x).
			WithAttr("ring_id", ringID).
			WithAttr("use_calc_stream", *flagUseCalcStream)

		var g errgroup.Group
		g.Go(func() error {
			if err := ops.RunStep(func() { ops.MustCompute(workers[0].Send(), sendCtx) }); err != nil {
				return err
			}
			return synchronize(workers[0], devices[0])
		})
		g.Go(func() error {
			if err := ops.RunStep(func() { ops.MustCompute(workers[1].Recv(), recvCtx) }); err != nil {
				return err
			}
			return synchronize(workers[1], devices[1])
		})
		if err := g.Wait(); err != nil {
			return errors.WithMessagef(err, "step %d", step)
		}
		if *flagVerify {
			if err := verify(x, recvCtx.Outputs["Out"]); err != nil {
				return errors.WithMessagef(err, "step %d", step)
			}
		}
		_ = bar.Add(1)
	}
	return nil
}

func verify(sent, received *tensors.Tensor) error {
	var want, got []byte
	if err := sent.ConstBytes(func(data []byte) { want = bytes.Clone(data) }); err != nil {
		return err
	}
	if err := received.ConstBytes(func(data []byte) { got = bytes.Clone(data) }); err != nil {
		return err
	}
	if !bytes.Equal(want, got) {
		return errors.Errorf("received contents differ from the sent ones")
	}
	return nil
}

func report(backend backends.Backend, devices []backends.DeviceNum, dtype dtypes.DType, elapsed time.Duration) {
	stepBytes := uint64(*flagSize * dtype.Size())
	totalBytes := stepBytes * uint64(*flagSteps)
	path := "ring communicator"
	if *flagGroup {
		path = "communication group"
	}
	stream := "communicator"
	if *flagUseCalcStream {
		stream = "compute"
	}
	rows := [][]string{
		{"Backend", backend.Description()},
		{"Devices", fmt.Sprintf("%d -> %d", devices[0], devices[1])},
		{"Path", path},
		{"Stream", stream},
		{"DType", dtype.String()},
		{"Elements per step", humanize.Comma(int64(*flagSize))},
		{"Bytes per step", humanize.Bytes(stepBytes)},
		{"Steps", humanize.Comma(int64(*flagSteps))},
		{"Elapsed", elapsed.Round(time.Millisecond).String()},
		{"Throughput", fmt.Sprintf("%s/s", humanize.Bytes(uint64(float64(totalBytes)/elapsed.Seconds())))},
	}
	table := lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == lgtable.HeaderRow:
				return headerRowStyle
			case row%2 == 0:
				return oddRowStyle
			default:
				return evenRowStyle
			}
		}).
		Headers("Metric", "Value").
		Rows(rows...)
	fmt.Println(table.Render())
}
