package devservice

import (
	"errors"
	"fmt"
	"maps"
	"net"
	"net/url"
	"strconv"

	"github.com/greatliontech/integresql-dev/internal/container"
	"github.com/greatliontech/integresql-dev/internal/util"
)

// Keys of the published configuration.
const (
	KeyBaseURL    = "base-url"
	KeyAPIVersion = "api-version"
	KeyDBPort     = "db-port"
	KeyDBHost     = "db-host"
)

const (
	APIVersion = "v1"
	apiRoot    = "/api"
)

type Credentials struct {
	Username string
	Password string
	Database string
}

// Facts are the inputs to Publish that do not come from the containers.
type Facts struct {
	HostOverride util.Optional[string]
	Credentials  Credentials
}

// Config is the connection configuration handed to consumers. It is
// complete or not produced at all.
type Config struct {
	values      map[string]string
	credentials Credentials
}

// Publish reads the connection facts of two ready containers.
func Publish(db, companion *container.Handle, facts Facts) (Config, error) {
	var errs []error

	if !db.Ready() {
		errs = append(errs, fmt.Errorf("%s is not ready", db.Name()))
	}
	if !companion.Ready() {
		errs = append(errs, fmt.Errorf("%s is not ready", companion.Name()))
	}
	if len(errs) > 0 {
		return Config{}, publishErr(errs)
	}

	apiHost := companion.ResolvedHost()
	if apiHost == "" {
		errs = append(errs, errors.New("companion host unresolved"))
	}
	apiPort, err := companion.MappedPort(IntegreSQLPort)
	if err != nil {
		errs = append(errs, err)
	}
	dbPort, err := db.MappedPort(PostgresPort)
	if err != nil {
		errs = append(errs, err)
	}
	dbHost := facts.HostOverride.OrElse(db.ResolvedHost())
	if dbHost == "" {
		errs = append(errs, errors.New("database host unresolved"))
	}
	if facts.Credentials.Username == "" || facts.Credentials.Password == "" {
		errs = append(errs, errors.New("database credentials missing"))
	}
	if len(errs) > 0 {
		return Config{}, publishErr(errs)
	}

	base := url.URL{
		Scheme: "http",
		Host:   net.JoinHostPort(apiHost, strconv.Itoa(apiPort)),
		Path:   apiRoot,
	}
	return Config{
		values: map[string]string{
			KeyBaseURL:    base.String(),
			KeyAPIVersion: APIVersion,
			KeyDBPort:     strconv.Itoa(dbPort),
			KeyDBHost:     dbHost,
		},
		credentials: facts.Credentials,
	}, nil
}

func publishErr(errs []error) error {
	return fmt.Errorf("%w: %w", ErrConfigPublication, errors.Join(errs...))
}

func (c Config) Get(key string) string {
	return c.values[key]
}

func (c Config) BaseURL() string {
	return c.values[KeyBaseURL]
}

func (c Config) APIVersion() string {
	return c.values[KeyAPIVersion]
}

func (c Config) DBHost() string {
	return c.values[KeyDBHost]
}

func (c Config) DBPort() int {
	p, _ := strconv.Atoi(c.values[KeyDBPort])
	return p
}

func (c Config) Credentials() Credentials {
	return c.credentials
}

// Map returns a copy of the published keys.
func (c Config) Map() map[string]string {
	return maps.Clone(c.values)
}
