package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/attendkeeper/internal/flagx"
)

var knownFlags = []string{"-a", "-f", "-l", "-b", "-d", "-r", "-m", "-i", "-w"}

// parseFlags populates Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   address and port of the backend server
//	-f string   path of the local SQLite data file
//	-l string   path of the log file
//	-b int      outbox batch size
//	-d int      retry base delay (milliseconds)
//	-r int      maximum scheduled retries
//	-m int      attempts before an outbox item is marked failed
//	-i int      online check interval (seconds)
//	-w int      guest migration conflict window (milliseconds)
//
// Only these flags are parsed; everything else in os.Args is ignored.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], knownFlags)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.ServerEndpointAddr, "a", cfg.ServerEndpointAddr, "address and port to access server")
	fs.StringVar(&cfg.DataFile, "f", cfg.DataFile, "local data file")
	fs.StringVar(&cfg.LogFile, "l", cfg.LogFile, "log file")
	fs.IntVar(&cfg.BatchSize, "b", cfg.BatchSize, "outbox batch size")
	retryDelay := fs.Int("d", int(cfg.RetryBaseDelay.Milliseconds()), "retry base delay (in milliseconds)")
	fs.IntVar(&cfg.MaxRetries, "r", cfg.MaxRetries, "maximum scheduled retries")
	fs.IntVar(&cfg.MaxAttempts, "m", cfg.MaxAttempts, "attempts before an item is marked failed")
	onlineCheckInterval := fs.Int("i", int(cfg.OnlineCheckInterval.Seconds()), "online check interval (in seconds)")
	window := fs.Int("w", int(cfg.ConflictWindow.Milliseconds()), "migration conflict window (in milliseconds)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.RetryBaseDelay = time.Duration(*retryDelay) * time.Millisecond
	cfg.OnlineCheckInterval = time.Duration(*onlineCheckInterval) * time.Second
	cfg.ConflictWindow = time.Duration(*window) * time.Millisecond
}
