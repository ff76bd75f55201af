// Command kernel is the microkernel process itself: it owns the C1
// virtual memory core and the C2 heap directly (both are in-process
// libraries, never separate daemons), and reaches the VFS server over
// rpcbus the same way any other userland process would, via
// vfs.FrontClient. It is a startup/diagnostic harness rather than a
// full syscall dispatch loop — spec.md's Non-goals exclude a shell or
// POSIX-complete libc, so there is no interactive surface to drive
// here beyond bringing the cores up and proving they talk to vfsd.
package main

import (
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lpae-kernel/kernel/internal/config"
	"github.com/lpae-kernel/kernel/internal/diag/fbdump"
	"github.com/lpae-kernel/kernel/internal/kheap"
	"github.com/lpae-kernel/kernel/internal/rpcbus"
	"github.com/lpae-kernel/kernel/internal/vfs"
	"github.com/lpae-kernel/kernel/internal/vmm"
)

const (
	physMemCapacity = 64 << 20 // 64MiB simulated physical pool
	heapBaseAddr    = 0x40000000
	defaultUnitSize = 4096
)

func main() {
	var (
		configDir  string
		vfsdSocket string
		verbose    bool
	)

	root := &cobra.Command{
		Use:   "kernel",
		Short: "microkernel startup harness",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			config.SetConfigDir(configDir)
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if vfsdSocket == "" {
				vfsdSocket = cfg.Socket
			}

			log := logrus.New()
			if verbose || cfg.Verbose {
				log.SetLevel(logrus.DebugLevel)
			}
			entry := log.WithField("server", "kernel")

			heap, mounts, err := bringUp(cfg, entry)
			if err != nil {
				return err
			}

			if vfsdSocket != "" {
				if err := probeVFS(vfsdSocket, mounts, entry); err != nil {
					entry.WithError(err).Warn("vfsd probe failed")
				}
			}

			return dumpDiagnostics(heap, mounts)
		},
	}
	root.Flags().StringVar(&configDir, "config", "", "kernel home directory override")
	root.Flags().StringVar(&vfsdSocket, "socket", "", "vfsd unix socket to connect to")
	root.Flags().BoolVar(&verbose, "verbose", false, "enable debug logging")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// bringUp constructs the C1/C2 cores per the config's heap sizing and
// returns the normal-state heap. mounts is returned empty: cmd/kernel
// has no local mount table of its own (that lives in vfsd), but
// fbdump.DumpMountTree takes one for a combined diagnostic image, so a
// fresh table keeps that call site uniform.
func bringUp(cfg *config.Config, log *logrus.Entry) (*kheap.Heap, *vfs.MountTable, error) {
	phys := vmm.NewPhysicalMemory(physMemCapacity)
	v := vmm.New(phys)
	ctx, err := v.CreateContext(vmm.CtxKernel)
	if err != nil {
		return nil, nil, fmt.Errorf("creating kernel context: %w", err)
	}

	arenaSize := uint32(cfg.Heap.ArenaSizeKB) * 1024
	if arenaSize == 0 {
		arenaSize = 1 << 20
	}
	maxArenas := cfg.Heap.MaxArenas
	if maxArenas == 0 {
		maxArenas = 16
	}
	maxSize := arenaSize * uint32(maxArenas)

	ext := &kheap.VMMExtender{VMM: v, Ctx: ctx, Perm: vmm.Perm{Read: true, Write: true}}
	heap, err := kheap.NewNormal(ext, heapBaseAddr, arenaSize, maxSize, defaultUnitSize)
	if err != nil {
		return nil, nil, fmt.Errorf("bringing up normal heap: %w", err)
	}
	log.WithFields(logrus.Fields{"start": heapBaseAddr, "size": arenaSize}).Info("heap online")

	return heap, vfs.NewMountTable(), nil
}

// probeVFS dials vfsd and issues a root getdents, just enough to prove
// the rpcbus wire path between the kernel process and the VFS server
// actually round-trips before anything depends on it.
func probeVFS(socket string, mounts *vfs.MountTable, log *logrus.Entry) error {
	conn, err := net.Dial("unix", socket)
	if err != nil {
		return fmt.Errorf("dialing vfsd at %s: %w", socket, err)
	}
	defer conn.Close()

	rc := rpcbus.NewConn(conn)
	srv := rpcbus.NewServer("kernel-vfsd-client", rc, func(*rpcbus.Conn, rpcbus.Message) error {
		return nil
	}, log)
	go srv.Run()

	const kernelPid vfs.PID = 1
	fc := vfs.NewFrontClient(rc, srv.Conts, 0)
	fd, info, err := fc.Open(kernelPid, "/", vfs.ODirectory, 0)
	if err != nil {
		return fmt.Errorf("opening root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("root did not report as a directory")
	}
	entries, err := fc.Getdents(kernelPid, fd)
	if err != nil {
		return fmt.Errorf("root getdents: %w", err)
	}
	log.WithField("entries", len(entries)).Info("vfsd root listing")
	return fc.Close(kernelPid, fd)
}

// dumpDiagnostics renders the heap fragmentation map (heap.png) and the
// mount table (mounts.png) to KernelHome for postmortem inspection;
// fbdump never fails the startup path, only the diagnostic write itself.
func dumpDiagnostics(heap *kheap.Heap, mounts *vfs.MountTable) error {
	if err := config.EnsureDir(); err != nil {
		return err
	}
	heapPath := filepath.Join(config.KernelHome(), "heap.png")
	if err := fbdump.DumpHeapMap(heap.Stats(), heapPath); err != nil {
		return fmt.Errorf("dumping heap map: %w", err)
	}
	mountPath := filepath.Join(config.KernelHome(), "mounts.png")
	return fbdump.DumpMountTree(mounts, mountPath)
}
