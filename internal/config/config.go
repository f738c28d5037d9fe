package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/drone/envsubst"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/greatliontech/integresql-dev/internal/util"
	"gopkg.in/yaml.v3"
)

const (
	DefaultImage          = "ghcr.io/allaboutapps/integresql:latest"
	DefaultDatabaseImage  = "postgres:17.4-alpine"
	DefaultServiceName    = "integresql"
	DefaultSharedNetwork  = "integresql-devservices"
	DefaultStartupTimeout = 120 * time.Second
	DefaultUsername       = "dbuser"
	DefaultPassword       = "dbpass"
	DefaultDatabase       = "integresql-db"
	DefaultJournalURL     = "mem://"
	DefaultOutputKey      = "integresql.env"

	FormatEnv  = "env"
	FormatYAML = "yaml"
)

var serviceNameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]*$`)

type Config struct {
	DevServices DevServices
	Output      Output
	Journal     Journal
	LogLevel    string
	Telemetry   bool
}

type DevServices struct {
	Enabled   bool
	ImageName string
	// Fixed host port for the IntegreSQL API. Unset means engine-assigned.
	Port           util.Optional[int]
	Shared         bool
	SharedNetwork  string
	ServiceName    string
	StartupTimeout time.Duration
	ContainerEnv   map[string]string
	DB             Database
}

type Database struct {
	ImageName string
	// Fixed host port for PostgreSQL. Unset means engine-assigned.
	Port util.Optional[int]
	// Overrides the published db-host.
	Host         util.Optional[string]
	Username     string
	Password     string
	Database     string
	ContainerEnv map[string]string
}

type Output struct {
	URL    string // gocloud blob URL, empty disables the sink
	Key    string
	Format string // env or yaml
}

type Journal struct {
	URL string // gocloud docstore URL, mem:// persists under Dir
	Dir string
}

// Default returns a configuration with every default applied.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		DevServices: DevServices{
			Enabled:        true,
			ImageName:      DefaultImage,
			SharedNetwork:  DefaultSharedNetwork,
			ServiceName:    DefaultServiceName,
			StartupTimeout: DefaultStartupTimeout,
			DB: Database{
				ImageName: DefaultDatabaseImage,
				Username:  DefaultUsername,
				Password:  DefaultPassword,
				Database:  DefaultDatabase,
			},
		},
		Output: Output{
			Key:    DefaultOutputKey,
			Format: FormatEnv,
		},
		Journal: Journal{
			URL: DefaultJournalURL,
		},
	}
}

func ParseConfig(b []byte) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, err
	}
	if err := c.substituteEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func FromFile(f string) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return ParseConfig(b)
}

func (c *Config) substituteEnv() error {
	var err error
	ds := &c.DevServices
	if ds.DB.Username, err = envsubst.EvalEnv(ds.DB.Username); err != nil {
		return err
	}
	if ds.DB.Password, err = envsubst.EvalEnv(ds.DB.Password); err != nil {
		return err
	}
	if host, ok := ds.DB.Host.Get(); ok {
		host, err = envsubst.EvalEnv(host)
		if err != nil {
			return err
		}
		ds.DB.Host = util.Some(host)
	}
	if err := substituteMap(ds.ContainerEnv); err != nil {
		return err
	}
	if err := substituteMap(ds.DB.ContainerEnv); err != nil {
		return err
	}
	if c.Output.URL, err = envsubst.EvalEnv(c.Output.URL); err != nil {
		return err
	}
	if c.Journal.Dir, err = envsubst.EvalEnv(c.Journal.Dir); err != nil {
		return err
	}
	return nil
}

func substituteMap(m map[string]string) error {
	for k, v := range m {
		v, err := envsubst.EvalEnv(v)
		if err != nil {
			return fmt.Errorf("env %s: %w", k, err)
		}
		m[k] = v
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	ds := c.DevServices

	if !serviceNameRe.MatchString(ds.ServiceName) {
		errs = append(errs, fmt.Errorf("devservices.servicename %q: must match %s", ds.ServiceName, serviceNameRe))
	}
	if _, err := name.ParseReference(ds.ImageName); err != nil {
		errs = append(errs, fmt.Errorf("devservices.imagename: %w", err))
	}
	if _, err := name.ParseReference(ds.DB.ImageName); err != nil {
		errs = append(errs, fmt.Errorf("devservices.db.imagename: %w", err))
	}
	if err := validatePort("devservices.port", ds.Port); err != nil {
		errs = append(errs, err)
	}
	if err := validatePort("devservices.db.port", ds.DB.Port); err != nil {
		errs = append(errs, err)
	}
	if p, ok := ds.Port.Get(); ok && ds.DB.Port.OrElse(-1) == p {
		errs = append(errs, fmt.Errorf("devservices.port and devservices.db.port both bind host port %d", p))
	}
	if host, ok := ds.DB.Host.Get(); ok && host == "" {
		errs = append(errs, errors.New("devservices.db.host: must not be empty when set"))
	}
	if ds.Shared && ds.SharedNetwork == "" {
		errs = append(errs, errors.New("devservices.sharednetwork: required when shared is enabled"))
	}
	if ds.StartupTimeout <= 0 {
		errs = append(errs, fmt.Errorf("devservices.startuptimeout %s: must be positive", ds.StartupTimeout))
	}
	if ds.DB.Username == "" || ds.DB.Password == "" {
		errs = append(errs, errors.New("devservices.db: username and password are required"))
	}
	if c.Output.URL != "" && c.Output.Key == "" {
		errs = append(errs, errors.New("output.key: required when output.url is set"))
	}
	switch c.Output.Format {
	case FormatEnv, FormatYAML:
	default:
		errs = append(errs, fmt.Errorf("output.format %q: must be %q or %q", c.Output.Format, FormatEnv, FormatYAML))
	}

	return errors.Join(errs...)
}

func validatePort(field string, p util.Optional[int]) error {
	v, ok := p.Get()
	if !ok {
		return nil
	}
	if v < 1 || v > 65535 {
		return fmt.Errorf("%s %d: out of range", field, v)
	}
	return nil
}
