// Command taskwardenctl is a thin client for the control-channel socket
// exposed by taskwardend (spec §6.3, NEW companion CLI).
package main

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := pflag.NewFlagSet("taskwardenctl", pflag.ContinueOnError)
	socketPath := fs.String("socket", defaultSocketPath(), "control-channel unix socket path")
	if err := fs.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	rest := fs.Args()
	if len(rest) == 0 {
		fmt.Fprintln(os.Stderr, "usage: taskwardenctl [--socket path] <command> [args...]")
		return 2
	}
	line := strings.Join(rest, " ")

	conn, err := net.Dial("unix", *socketPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "taskwardenctl: connect: %v\n", err)
		return 1
	}
	defer conn.Close()

	if _, err := fmt.Fprintln(conn, line); err != nil {
		fmt.Fprintf(os.Stderr, "taskwardenctl: send: %v\n", err)
		return 1
	}

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		return 0
	}
	response := scanner.Text()
	fmt.Println(response)
	if strings.HasPrefix(response, "ERR") {
		return 1
	}
	return 0
}

func defaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "taskwarden.sock")
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("taskwarden-%d.sock", os.Getuid()))
}
