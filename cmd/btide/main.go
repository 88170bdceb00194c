// Package main runs the btide peer-to-peer file distribution daemon: it
// binds the listener and drives the node from line-oriented commands on
// standard input.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/btide/btide"
	"github.com/btide/btide/internal/config"
	"github.com/sirupsen/logrus"
)

// commandTimeout bounds how long FETCH and DISCONNECT wait for resolution.
const commandTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "Path to YAML configuration file")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	log := logrus.New()
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}

	node, err := btide.New(cfg, log)
	if err != nil {
		log.Fatalf("Failed to start node: %v", err)
	}
	node.Start()

	runCommands(node, os.Stdin, os.Stdout)

	if err := node.Close(); err != nil {
		log.Fatalf("Shutdown failed: %v", err)
	}
}

// runCommands reads commands until QUIT or EOF.
func runCommands(node *btide.Node, in io.Reader, out io.Writer) {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if strings.EqualFold(fields[0], "QUIT") {
			return
		}
		if err := runCommand(node, out, fields[0], fields[1:]); err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
		}
	}
}

func runCommand(node *btide.Node, out io.Writer, cmd string, args []string) error {
	switch strings.ToUpper(cmd) {
	case "CONNECT":
		ip, port, err := parseAddr(args)
		if err != nil {
			return err
		}
		if err := node.Connect(ip, port); err != nil {
			return err
		}
		fmt.Fprintf(out, "Connection established with peer %s:%d\n", ip, port)

	case "DISCONNECT":
		ip, port, err := parseAddr(args)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		if err := node.Disconnect(ctx, ip, port); err != nil {
			return err
		}
		fmt.Fprintf(out, "Disconnected from peer %s:%d\n", ip, port)

	case "ADDPACKAGE":
		if len(args) != 1 {
			return fmt.Errorf("usage: ADDPACKAGE <manifest>")
		}
		pkg, status, err := node.AddPackage(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Added package %.8s (%s)\n", pkg.Ident, status)

	case "REMPACKAGE":
		if len(args) != 1 {
			return fmt.Errorf("usage: REMPACKAGE <ident>")
		}
		if err := node.RemovePackage(args[0]); err != nil {
			return err
		}
		fmt.Fprintln(out, "Package removed")

	case "PACKAGES":
		pkgs := node.Packages()
		if len(pkgs) == 0 {
			fmt.Fprintln(out, "No packages managed")
			return nil
		}
		for i, pkg := range pkgs {
			state := "INCOMPLETE"
			if pkg.Complete() {
				state = "COMPLETED"
			}
			fmt.Fprintf(out, "%d. %.32s, %s : %s\n", i+1, pkg.Ident, pkg.Filename, state)
		}

	case "PEERS":
		peers := node.Peers()
		if len(peers) == 0 {
			fmt.Fprintln(out, "Not connected to any peers")
			return nil
		}
		fmt.Fprintln(out, "Connected to:")
		for i, p := range peers {
			fmt.Fprintf(out, "%d. %s\n", i+1, p.Addr())
		}

	case "FETCH":
		if len(args) != 4 {
			return fmt.Errorf("usage: FETCH <ip> <port> <ident> <chunk hash>")
		}
		ip, port, err := parseAddr(args[:2])
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		status, err := node.Fetch(ctx, ip, port, args[2], args[3])
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Fetch %.16s: %s\n", args[3], status)

	default:
		return fmt.Errorf("unable to parse command %q", cmd)
	}
	return nil
}

func parseAddr(args []string) (string, uint16, error) {
	if len(args) != 2 {
		return "", 0, fmt.Errorf("expected <ip> <port>")
	}
	port, err := strconv.ParseUint(args[1], 10, 16)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port %q", args[1])
	}
	return args[0], uint16(port), nil
}
