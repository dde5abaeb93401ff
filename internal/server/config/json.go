package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/attendkeeper/internal/flagx"
	"github.com/dmitrijs2005/attendkeeper/internal/timex"
)

// JsonConfig is an intermediate DTO used only for reading JSON configuration
// files. Durations accept "1m" style strings or integer nanoseconds.
type JsonConfig struct {
	EndpointAddrGRPC             string         `json:"endpoint_addr_grpc"`
	DatabaseDSN                  string         `json:"database_dsn"`
	SecretKey                    string         `json:"secret_key"`
	AccessTokenValidityDuration  timex.Duration `json:"access_token_validity_duration"`
	RefreshTokenValidityDuration timex.Duration `json:"refresh_token_validity_duration"`
	GoogleClientID               string         `json:"google_client_id"`
	S3RootUser                   string         `json:"s3_root_user"`
	S3RootPassword               string         `json:"s3_root_password"`
	S3Bucket                     string         `json:"s3_bucket"`
	S3Region                     string         `json:"s3_region"`
	S3BaseEndpoint               string         `json:"s3_base_endpoint"`
	SnapshotURLValidity          timex.Duration `json:"snapshot_url_validity"`
}

// parseJson loads configuration values from the JSON file named by the -c or
// -config flag. Without the flag nothing is loaded. Read or decode errors
// panic.
func parseJson(config *Config) {

	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	config.EndpointAddrGRPC = c.EndpointAddrGRPC
	config.DatabaseDSN = c.DatabaseDSN
	config.SecretKey = c.SecretKey
	config.AccessTokenValidityDuration = c.AccessTokenValidityDuration.Duration
	config.RefreshTokenValidityDuration = c.RefreshTokenValidityDuration.Duration
	config.GoogleClientID = c.GoogleClientID
	config.S3RootUser = c.S3RootUser
	config.S3RootPassword = c.S3RootPassword
	config.S3Bucket = c.S3Bucket
	config.S3Region = c.S3Region
	config.S3BaseEndpoint = c.S3BaseEndpoint
	if c.SnapshotURLValidity.Duration > 0 {
		config.SnapshotURLValidity = c.SnapshotURLValidity.Duration
	}
}
