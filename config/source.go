package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// PropertiesFile is the name of the properties store inside the
// configuration directory.
const PropertiesFile = "server.properties"

// Setting keys understood by the resolver. The same names are used for
// environment variables (as-is or upper-cased) and for properties keys.
const (
	KeyHTTPPort         = "http_port"
	KeyHTTPSPort        = "https_port"
	KeySSHPort          = "ssh_port"
	KeyGRPCPort         = "grpc_port"
	KeyTrustCerts       = "trust_certs"
	KeyKeystoreFile     = "keystore_file"
	KeyKeystorePassword = "keystore_password"
	KeyClusterIP        = "cluster_ip"
	KeyClusterPort      = "cluster_port"
	KeyClusterBootstrap = "cluster_bootstrap"
	KeyDataDir          = "data_dir"
	KeyDatabaseURL      = "database_url"
	KeyLogLevel         = "log_level"
	KeyLogFormat        = "log_format"
)

var keys = []string{
	KeyHTTPPort, KeyHTTPSPort, KeySSHPort, KeyGRPCPort,
	KeyTrustCerts, KeyKeystoreFile, KeyKeystorePassword,
	KeyClusterIP, KeyClusterPort, KeyClusterBootstrap,
	KeyDataDir, KeyDatabaseURL, KeyLogLevel, KeyLogFormat,
}

// Source is the raw key/value layer the resolver reads from.
//
// Lookups consult the environment first and the properties store second.
// Blank values are treated as unset at every layer.
type Source struct {
	env     *viper.Viper
	props   *viper.Viper
	confDir string
}

// NewSource creates a source backed by the environment and by
// <confDir>/server.properties. A missing properties file is not an error.
func NewSource(confDir string) (*Source, error) {
	v := newProperties()

	path := filepath.Join(confDir, PropertiesFile)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	}

	return &Source{env: newEnv(), props: v, confDir: confDir}, nil
}

// NewSourceFromMap creates a source whose properties layer is the given map.
// Environment variables still take precedence over it.
func NewSourceFromMap(confDir string, props map[string]string) (*Source, error) {
	v := newProperties()

	m := make(map[string]any, len(props))
	for k, val := range props {
		m[k] = val
	}
	if err := v.MergeConfigMap(m); err != nil {
		return nil, fmt.Errorf("failed to load properties: %w", err)
	}

	return &Source{env: newEnv(), props: v, confDir: confDir}, nil
}

func newProperties() *viper.Viper {
	v := viper.New()
	v.SetConfigType("properties")
	return v
}

// newEnv returns a viper instance that only reads the environment. The
// literal key is consulted before its upper-case form.
func newEnv() *viper.Viper {
	v := viper.New()
	for _, key := range keys {
		_ = v.BindEnv(key, key, strings.ToUpper(key))
	}
	return v
}

// Lookup returns the trimmed value for key and whether it is set. A blank
// environment value falls through to the properties store.
func (s *Source) Lookup(key string) (string, bool) {
	if val := strings.TrimSpace(s.env.GetString(key)); val != "" {
		return val, true
	}
	val := strings.TrimSpace(s.props.GetString(key))
	return val, val != ""
}

// ConfDir returns the directory relative paths are resolved against.
func (s *Source) ConfDir() string {
	return s.confDir
}
