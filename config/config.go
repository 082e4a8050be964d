// Package config loads the ballot client configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/user"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/fatih/structs"
	"github.com/joho/godotenv"
	"github.com/koding/multiconfig"
)

// Session store backends.
const (
	SessionStoreFile = "file"
	SessionStoreBolt = "bolt"
)

var ErrNoDocumentSource = errors.New("either firebase_url or seed_file must be configured")

// Config is read from tag defaults, then a ballot.toml/json/yml file in the
// working directory, ~/.ballot.* or /etc/ballot.*, and finally from BALLOT_*
// environment variables. A .env file in the working directory is applied to
// the environment first, and API_URL is accepted for the ledger address.
type Config struct {
	ApiURL           string `required:"true" validate:"url" json:"api_url"`            // base URL of the vote ledger
	FirebaseURL      string `required:"false" validate:"url" json:"firebase_url"`      // realtime database root
	FirebaseAuth     string `required:"false" json:"firebase_auth"`                    // database secret or ID token
	FirebaseAPIKey   string `required:"false" json:"firebase_api_key"`                 // identity toolkit key, directory login when empty
	SeedFile         string `required:"false" validate:"path" json:"seed_file"`        // JSON document used instead of firebase
	Timeout          string `default:"10s" validate:"duration" json:"timeout"`         // per request timeout
	RetryBackoff     string `default:"250ms" validate:"duration" json:"retry_backoff"` // base backoff between retries
	MaxRetries       int    `default:"3" validate:"uint" json:"max_retries"`           // retries for idempotent reads
	FetchConcurrency int    `default:"8" validate:"uint" json:"fetch_concurrency"`     // parallel vote count lookups
	SessionStore     string `default:"file" json:"session_store"`                      // file or bolt
	SessionPath      string `required:"false" validate:"path" json:"session_path"`     // defaults under ~/.ballot
}

// Load the configuration and validate it.
func (c *Config) Load() error {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("could not read .env: %w", err)
	}

	loaders := []multiconfig.Loader{&multiconfig.TagLoader{}}

	if path, err := c.GetPath(); err == nil {
		switch {
		case strings.HasSuffix(path, "toml"):
			loaders = append(loaders, &multiconfig.TOMLLoader{Path: path})
		case strings.HasSuffix(path, "json"):
			loaders = append(loaders, &multiconfig.JSONLoader{Path: path})
		case strings.HasSuffix(path, "yml"), strings.HasSuffix(path, "yaml"):
			loaders = append(loaders, &multiconfig.YAMLLoader{Path: path})
		}
	}

	loaders = append(loaders, &multiconfig.EnvironmentLoader{Prefix: "BALLOT", CamelCase: true})

	if err := multiconfig.MultiLoader(loaders...).Load(c); err != nil {
		return err
	}

	if c.ApiURL == "" {
		c.ApiURL = strings.TrimSpace(os.Getenv("API_URL"))
	}

	return c.Validate()
}

// Validate the loaded configuration.
func (c *Config) Validate() error {
	validators := multiconfig.MultiValidator(
		&multiconfig.RequiredValidator{},
		&ComplexValidator{},
	)
	if err := validators.Validate(c); err != nil {
		return err
	}

	if c.FirebaseURL == "" && c.SeedFile == "" {
		return ErrNoDocumentSource
	}

	switch c.SessionStore {
	case SessionStoreFile, SessionStoreBolt:
	default:
		return fmt.Errorf("unknown session store %q", c.SessionStore)
	}
	return nil
}

// Update the configuration from the non-zero fields of another one.
func (c *Config) Update(o *Config) error {
	if o == nil {
		return nil
	}

	conf := structs.New(c)
	for _, field := range structs.Fields(o) {
		if !field.IsZero() {
			if err := conf.Field(field.Name()).Set(field.Value()); err != nil {
				return err
			}
		}
	}

	return c.Validate()
}

// GetPath returns the first configuration file found on disk.
func (c *Config) GetPath() (string, error) {
	paths := make([]string, 0, 3)

	if path, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(path, "ballot"))
	}

	if user, err := user.Current(); err == nil {
		paths = append(paths, filepath.Join(user.HomeDir, ".ballot"))
	}

	paths = append(paths, "/etc/ballot")

	for _, path := range paths {
		for _, ext := range []string{".toml", ".json", ".yml", ".yaml"} {
			fpath := path + ext
			if _, err := os.Stat(fpath); !os.IsNotExist(err) {
				return fpath, nil
			}
		}
	}

	return "", errors.New("no configuration file found")
}

// GetTimeout parses the request timeout.
func (c *Config) GetTimeout() (time.Duration, error) {
	return time.ParseDuration(c.Timeout)
}

// GetRetryBackoff parses the base retry backoff.
func (c *Config) GetRetryBackoff() (time.Duration, error) {
	return time.ParseDuration(c.RetryBackoff)
}

// GetSessionPath returns the session store location, defaulting to a file in
// ~/.ballot named after the backend.
func (c *Config) GetSessionPath() (string, error) {
	if c.SessionPath != "" {
		return c.SessionPath, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not locate home directory: %w", err)
	}

	name := "session.json"
	if c.SessionStore == SessionStoreBolt {
		name = "session.db"
	}
	return filepath.Join(home, ".ballot", name), nil
}

//===========================================================================
// Validators
//===========================================================================

// ComplexValidator validates the types multiconfig doesn't understand.
type ComplexValidator struct {
	TagName string
}

// Validate implements the multiconfig.Validator interface.
func (v *ComplexValidator) Validate(s interface{}) error {
	if v.TagName == "" {
		v.TagName = "validate"
	}

	for _, field := range structs.Fields(s) {
		if err := v.processField("", field); err != nil {
			return err
		}
	}

	return nil
}

func (v *ComplexValidator) processField(fieldName string, field *structs.Field) error {
	fieldName += field.Name()
	switch field.Kind() {
	case reflect.Struct:
		fieldName += "."
		for _, f := range field.Fields() {
			if err := v.processField(fieldName, f); err != nil {
				return err
			}
		}
	default:
		if field.IsZero() {
			return nil
		}

		switch strings.ToLower(field.Tag(v.TagName)) {
		case "":
			return nil
		case "duration":
			return v.processDurationField(fieldName, field)
		case "url":
			return v.processURLField(fieldName, field)
		case "path":
			return nil
		case "uint":
			return v.processUintField(fieldName, field)
		default:
			return fmt.Errorf("cannot validate type '%s'", field.Tag(v.TagName))
		}
	}

	return nil
}

func (v *ComplexValidator) processDurationField(fieldName string, field *structs.Field) error {
	d, err := time.ParseDuration(field.Value().(string))
	if err != nil {
		return fmt.Errorf("could not validate %s: %s", fieldName, err.Error())
	}
	if d < 0 {
		return fmt.Errorf("%s is negative", fieldName)
	}
	return nil
}

func (v *ComplexValidator) processURLField(fieldName string, field *structs.Field) error {
	u, err := url.Parse(field.Value().(string))
	if err != nil {
		return fmt.Errorf("could not validate %s: %s", fieldName, err.Error())
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("could not validate %s: scheme must be http or https", fieldName)
	}
	return nil
}

func (v *ComplexValidator) processUintField(fieldName string, field *structs.Field) error {
	if field.Value().(int) < 0 {
		return fmt.Errorf("%s is less than zero", fieldName)
	}
	return nil
}
