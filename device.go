// Package castor provides a safe, high-level scene and ray-intersection API
// on top of an in-process acceleration engine. Callers describe a scene as a
// set of geometries backed by typed buffers, commit it once to build the
// spatial index and then issue intersection queries against the committed
// index from any number of goroutines.
package castor

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/achilleasa/castor/log"
)

const Version = "0.1.0"

var deviceLog = log.New("device")

// Device owns the engine instance. Scenes, geometries and buffers are
// created through it and must be released before it is closed.
//
// Object creation and teardown follow a single-writer contract: the caller
// must serialize calls that create, mutate or close objects belonging to one
// device. Queries against committed scenes carry no such restriction.
type Device struct {
	verbosity int
	threads   int
	memBudget int

	// Commit and packet query parallelism; nil when threads == 1.
	pool worker.DynamicWorkerPool

	live     int
	sceneSeq int
	closed   bool
}

// DeviceInfo describes an initialized device.
type DeviceInfo struct {
	Engine    string
	Version   string
	Threads   int
	Verbosity int

	// Committed index budget in bytes; 0 means unbounded.
	MemoryBudget int
}

// NewDevice initializes the engine. The config string holds comma separated
// key=value pairs:
//
//	verbose=0..3   log verbosity (0 warnings only up to 3 full debug output)
//	threads=N      workers for commits and packet queries; 0 picks NumCPU
//	memory_mb=N    reject commits whose index would exceed N MiB; 0 disables
//
// An empty config selects the defaults (quiet, one worker per CPU, no
// memory budget). Unknown keys and malformed values fail with an error
// wrapping ErrInit.
func NewDevice(config string) (*Device, error) {
	dev := &Device{}

	for _, opt := range strings.Split(config, ",") {
		opt = strings.TrimSpace(opt)
		if opt == "" {
			continue
		}
		kv := strings.SplitN(opt, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("%w: malformed option %q", ErrInit, opt)
		}
		val, err := strconv.Atoi(kv[1])
		if err != nil {
			return nil, fmt.Errorf("%w: invalid value %q for option %q", ErrInit, kv[1], kv[0])
		}

		switch kv[0] {
		case "verbose":
			if val < 0 || val > 3 {
				return nil, fmt.Errorf("%w: invalid value %q for option %q", ErrInit, kv[1], kv[0])
			}
			dev.verbosity = val
			log.SetLevel(log.LevelFromVerbosity(val))
		case "threads":
			if val < 0 {
				return nil, fmt.Errorf("%w: invalid value %q for option %q", ErrInit, kv[1], kv[0])
			}
			dev.threads = val
		case "memory_mb":
			if val < 0 {
				return nil, fmt.Errorf("%w: invalid value %q for option %q", ErrInit, kv[1], kv[0])
			}
			dev.memBudget = val << 20
		default:
			return nil, fmt.Errorf("%w: unknown option %q", ErrInit, kv[0])
		}
	}

	if dev.threads == 0 {
		dev.threads = runtime.NumCPU()
	}
	if dev.threads > 1 {
		dev.pool = worker.NewDynamicWorkerPool(dev.threads, 256, 1*time.Second)
	}

	deviceLog.Noticef("initialized device: %d worker threads", dev.threads)
	return dev, nil
}

// Info reports the engine configuration backing this device.
func (d *Device) Info() DeviceInfo {
	return DeviceInfo{
		Engine:       "castor",
		Version:      Version,
		Threads:      d.threads,
		Verbosity:    d.verbosity,
		MemoryBudget: d.memBudget,
	}
}

// Close tears down the device. It fails with ErrDeviceBusy while scenes,
// geometries or buffers created through it are still alive; once it
// succeeds, further calls are no-ops.
func (d *Device) Close() error {
	if d.closed {
		return nil
	}
	if d.live > 0 {
		return fmt.Errorf("%w: %d objects still alive", ErrDeviceBusy, d.live)
	}
	d.closed = true
	return nil
}

func (d *Device) retain() {
	d.live++
}

func (d *Device) release() {
	d.live--
}
