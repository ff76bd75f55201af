// Command extfsd serves a mounted ext2/3 image as a vfs.Backend over
// an rpcbus Unix-domain socket, the filesystem-plugin daemon a vfsd
// deployment dials and registers as its "ext2" mount handler.
package main

import (
	"fmt"
	"net"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lpae-kernel/kernel/internal/blockcache"
	"github.com/lpae-kernel/kernel/internal/config"
	"github.com/lpae-kernel/kernel/internal/diskimg"
	"github.com/lpae-kernel/kernel/internal/fsplugin/ext"
	"github.com/lpae-kernel/kernel/internal/rpcbus"
	"github.com/lpae-kernel/kernel/internal/vfs"
)

const defaultSectorSize = 512

func main() {
	var (
		configDir string
		socket    string
		image     string
		partition int
		verbose   bool
	)

	root := &cobra.Command{
		Use:   "extfsd",
		Short: "ext2/3 filesystem plug-in daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			config.SetConfigDir(configDir)
			log := logrus.New()
			if verbose {
				log.SetLevel(logrus.DebugLevel)
			}
			entry := log.WithField("server", "extfsd")

			if socket == "" {
				return fmt.Errorf("--socket is required")
			}
			if image == "" {
				return fmt.Errorf("--image is required")
			}

			dev, err := openDevice(image, partition)
			if err != nil {
				return err
			}

			fs, err := ext.Mount(dev)
			if err != nil {
				return fmt.Errorf("mounting ext image: %w", err)
			}
			backend := ext.NewBackend(fs)

			os.Remove(socket)
			ln, err := net.Listen("unix", socket)
			if err != nil {
				return fmt.Errorf("listening on %s: %w", socket, err)
			}
			defer ln.Close()
			entry.WithField("socket", socket).Info("extfsd listening")

			return serve(ln, backend, entry)
		},
	}
	root.Flags().StringVar(&configDir, "config", "", "kernel home directory override")
	root.Flags().StringVar(&socket, "socket", "", "unix socket to listen on")
	root.Flags().StringVar(&image, "image", "", "path to the ext2/3 disk image")
	root.Flags().IntVar(&partition, "partition", -1, "MBR partition index to mount (-1 for whole image)")
	root.Flags().BoolVar(&verbose, "verbose", false, "enable debug logging")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openDevice(image string, partition int) (blockcache.Device, error) {
	if partition < 0 {
		return diskimg.OpenImage(image, defaultSectorSize)
	}
	f, err := os.OpenFile(image, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", image, err)
	}
	parts, err := diskimg.ReadMBR(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("reading partition table: %w", err)
	}
	if partition >= len(parts) {
		f.Close()
		return nil, fmt.Errorf("partition %d not present in %s", partition, image)
	}
	return diskimg.NewPartitionDevice(f, defaultSectorSize, parts[partition]), nil
}

func serve(ln net.Listener, backend *ext.Backend, log *logrus.Entry) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go func() {
			rb := rpcbus.NewConn(conn)
			srv := rpcbus.NewServer("extfsd", rb, vfs.NewRPCRequestHandler(backend, 0), log)
			if err := srv.Run(); err != nil {
				log.WithError(err).Debug("connection closed")
			}
		}()
	}
}
