package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/attendkeeper/internal/flagx"
	"github.com/dmitrijs2005/attendkeeper/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Durations use
// timex.Duration so they can be written as "3s" or integer nanoseconds.
type JsonConfig struct {
	ServerEndpointAddr  string         `json:"server_endpoint_addr"`
	DataFile            string         `json:"data_file"`
	LogFile             string         `json:"log_file"`
	BatchSize           int            `json:"batch_size"`
	RetryBaseDelay      timex.Duration `json:"retry_base_delay"`
	MaxRetries          int            `json:"max_retries"`
	MaxAttempts         int            `json:"max_attempts"`
	OnlineCheckInterval timex.Duration `json:"online_check_interval"`
	ConflictWindow      timex.Duration `json:"conflict_window"`
}

// parseJson overlays Config with the values present in the JSON file named by
// -c or -config. Keys missing from the file keep their current value. Read
// and decode errors panic.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	setString(&cfg.ServerEndpointAddr, jc.ServerEndpointAddr)
	setString(&cfg.DataFile, jc.DataFile)
	setString(&cfg.LogFile, jc.LogFile)
	setInt(&cfg.BatchSize, jc.BatchSize)
	setDuration(&cfg.RetryBaseDelay, jc.RetryBaseDelay)
	setInt(&cfg.MaxRetries, jc.MaxRetries)
	setInt(&cfg.MaxAttempts, jc.MaxAttempts)
	setDuration(&cfg.OnlineCheckInterval, jc.OnlineCheckInterval)
	setDuration(&cfg.ConflictWindow, jc.ConflictWindow)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = time.Duration(v.Duration)
	}
}
