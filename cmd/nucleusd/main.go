// Command nucleusd is the hosted boot harness: it wires a simulated disk
// and console to kernel.Boot and keeps the process alive so a metrics
// scraper (or a future test driver feeding the console) has something to
// talk to.
//
// Grounded on talyz-systemd_exporter/systemd/systemd.go's package-level
// kingpin.Flag() variable style for its flag set.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	kingpin "gopkg.in/alecthomas/kingpin.v2"

	"hal"
	"kernel"
)

var (
	numCPU      = kingpin.Flag("cpus", "number of simulated CPUs to bring up").Default("1").Int()
	memPages    = kingpin.Flag("mem-pages", "number of page frames available to the buddy allocator").Default("16384").Uint32()
	diskPath    = kingpin.Flag("disk", "path to a disk image file; created if it doesn't exist").String()
	diskSectors = kingpin.Flag("disk-sectors", "sector count for --disk when creating a new image").Default("65536").Int()
	initramfs   = kingpin.Flag("initramfs", "path to a CPIO archive to load into the root filesystem").String()
	metricsAddr = kingpin.Flag("metrics-addr", "address to serve /metrics on, e.g. :9100; empty disables it").String()
)

func main() {
	kingpin.Parse()

	cfg := kernel.Config{
		NumCPU:   *numCPU,
		MemPages: *memPages,
		DeviceID: 1,
	}

	if *diskPath != "" {
		disk, err := hal.OpenFileDisk(*diskPath, *diskSectors)
		if err != nil {
			fmt.Fprintf(os.Stderr, "nucleusd: open disk: %v\n", err)
			os.Exit(1)
		}
		defer disk.Close()
		cfg.Disk = disk
	}

	if *initramfs != "" {
		data, err := os.ReadFile(*initramfs)
		if err != nil {
			fmt.Fprintf(os.Stderr, "nucleusd: read initramfs: %v\n", err)
			os.Exit(1)
		}
		cfg.Initramfs = data
	}

	k, err := kernel.Boot(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "nucleusd: boot failed: %v\n", err)
		os.Exit(1)
	}

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(k.Metrics, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				k.Log.Errorf("metrics listener stopped: %v", err)
			}
		}()
		k.Log.Infof("metrics listening on %s", *metricsAddr)
	}

	select {}
}
