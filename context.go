package ngstore

import (
	"os"
	"runtime"
	"strconv"

	"github.com/rcrowley/go-metrics"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"
	"github.com/sirupsen/logrus"
)

// NumThreadsEnv overrides the detected number of tiling workers.
const NumThreadsEnv = "NGS_NUM_THREADS"

// Context carries the collaborators shared by every store opened by an
// application. It is created once by the entry point and handed to Open or
// Create.
type Context struct {
	Log     *logrus.Logger
	Metrics metrics.Registry
	// Workers is the size of the tiling pool. Zero means NumberThreads().
	Workers int
	// ReadOnly stores reject every mutation.
	ReadOnly bool
}

func NewContext() *Context {
	log := logrus.New()
	log.SetLevel(logrus.InfoLevel)
	return &Context{
		Log:     log,
		Metrics: metrics.NewRegistry(),
	}
}

func (c *Context) workers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return NumberThreads()
}

func (c *Context) logger() *logrus.Logger {
	if c == nil || c.Log == nil {
		return logrus.StandardLogger()
	}
	return c.Log
}

func (c *Context) registry() metrics.Registry {
	if c == nil || c.Metrics == nil {
		return metrics.DefaultRegistry
	}
	return c.Metrics
}

// NumberThreads returns the number of logical CPUs or the value of
// NGS_NUM_THREADS, never less than one.
func NumberThreads() int {
	if v := os.Getenv(NumThreadsEnv); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	n, err := cpu.Counts(true)
	if err != nil || n < 1 {
		n = runtime.NumCPU()
	}
	if n < 1 {
		n = 1
	}
	return n
}

func (c *Context) logMemory(table string) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return
	}
	c.logger().WithFields(logrus.Fields{
		"table":     table,
		"available": v.Available,
		"used":      v.UsedPercent,
	}).Debug("memory before tiling")
}
