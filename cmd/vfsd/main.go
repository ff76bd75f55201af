// Command vfsd is the VFS server daemon (component C4): it holds the
// handle table and mount table, dials out to the ext2/FAT plug-in
// daemons named in its config as mount handlers, and answers
// cmd/kernel's syscall-forwarding requests over its own listen socket.
package main

import (
	"fmt"
	"net"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lpae-kernel/kernel/internal/config"
	"github.com/lpae-kernel/kernel/internal/rpcbus"
	"github.com/lpae-kernel/kernel/internal/vfs"
)

func main() {
	var (
		configDir string
		socket    string
		verbose   bool
	)

	root := &cobra.Command{
		Use:   "vfsd",
		Short: "VFS server daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			config.SetConfigDir(configDir)
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if socket == "" {
				socket = cfg.Socket
			}
			if socket == "" {
				return fmt.Errorf("--socket is required (or set socket in config.toml)")
			}

			log := logrus.New()
			if verbose || cfg.Verbose {
				log.SetLevel(logrus.DebugLevel)
			}
			entry := log.WithField("server", "vfsd")

			srv := vfs.NewServer(entry)
			if err := wireMounts(srv, cfg, entry); err != nil {
				return err
			}

			os.Remove(socket)
			ln, err := net.Listen("unix", socket)
			if err != nil {
				return fmt.Errorf("listening on %s: %w", socket, err)
			}
			defer ln.Close()
			entry.WithField("socket", socket).Info("vfsd listening")

			return serve(ln, srv, entry)
		},
	}
	root.Flags().StringVar(&configDir, "config", "", "kernel home directory override")
	root.Flags().StringVar(&socket, "socket", "", "unix socket to listen on")
	root.Flags().BoolVar(&verbose, "verbose", false, "enable debug logging")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// wireMounts dials every non-local filesystem named in cfg.Mounts,
// registers an RPCBackend for its fsType, and performs the mount.
// "ramdisk" and "dev" mounts need no dial: Server.Mount handles them
// locally.
func wireMounts(srv *vfs.Server, cfg *config.Config, log *logrus.Entry) error {
	var nextOwner rpcbus.PID = 1
	for _, m := range cfg.Mounts {
		if m.FSType == "ramdisk" || m.FSType == "dev" {
			if err := srv.Mount(m.Source, m.Target, m.FSType, 0); err != nil {
				return fmt.Errorf("mounting %s: %w", m.Target, err)
			}
			continue
		}

		conn, err := net.Dial("unix", m.Source)
		if err != nil {
			return fmt.Errorf("dialing %s daemon at %s: %w", m.FSType, m.Source, err)
		}
		rc := rpcbus.NewConn(conn)
		owner := nextOwner
		nextOwner++
		daemonServer := rpcbus.NewServer(
			fmt.Sprintf("%s-client", m.FSType),
			rc,
			func(*rpcbus.Conn, rpcbus.Message) error { return nil },
			log,
		)
		go daemonServer.Run()

		backend := vfs.NewRPCBackend(rc, daemonServer.Conts, rpcbus.PID(0))
		srv.RegisterMountHandler(m.FSType, owner, backend)
		if err := srv.Mount(m.Source, m.Target, m.FSType, 0); err != nil {
			return fmt.Errorf("mounting %s at %s: %w", m.FSType, m.Target, err)
		}
		log.WithField("target", m.Target).WithField("fsType", m.FSType).Info("mounted")
	}
	return nil
}

func serve(ln net.Listener, srv *vfs.Server, log *logrus.Entry) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go func() {
			rb := rpcbus.NewConn(conn)
			handlerServer := rpcbus.NewServer("vfsd-client", rb, vfs.NewServerRequestHandler(srv, 0), log)
			if err := handlerServer.Run(); err != nil {
				log.WithError(err).Debug("connection closed")
			}
		}()
	}
}
