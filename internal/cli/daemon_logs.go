package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
)

var (
	logsFollow bool
	logsLines  int
)

var daemonLogsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show the daemon's log file for --project",
	Long:  `Prints <project>/.code-indexer/daemon.log, optionally following new lines.`,
	RunE:  runDaemonLogs,
}

func init() {
	daemonCmd.AddCommand(daemonLogsCmd)
	daemonLogsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "follow the log as it grows")
	daemonLogsCmd.Flags().IntVarP(&logsLines, "lines", "n", 100, "number of trailing lines to show")
}

func runDaemonLogs(cmd *cobra.Command, args []string) error {
	dir, err := stateDir()
	if err != nil {
		return err
	}
	logPath := filepath.Join(dir, "daemon.log")

	f, err := os.Open(logPath)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("No log file yet; the daemon has not started for this project.")
			return nil
		}
		return err
	}
	defer f.Close()

	if err := printTail(f, logsLines); err != nil {
		return err
	}
	if !logsFollow {
		return nil
	}

	for {
		line, err := bufio.NewReader(f).ReadString('\n')
		if err != nil {
			if err != io.EOF {
				return err
			}
			time.Sleep(500 * time.Millisecond)
			continue
		}
		fmt.Print(line)
	}
}

// printTail prints the last n lines of f. daemon.log is a single
// project's own log, not expected to grow large enough to justify a
// seek-from-the-end scan.
func printTail(f *os.File, n int) error {
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var all []string
	for scanner.Scan() {
		all = append(all, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	start := 0
	if len(all) > n {
		start = len(all) - n
	}
	for _, line := range all[start:] {
		fmt.Println(line)
	}
	return nil
}
