package internal

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"golang.org/x/net/context"

	"github.com/derWhity/cfpdesk/internal/ctxhelper"
	"github.com/derWhity/cfpdesk/internal/log"
	"github.com/derWhity/cfpdesk/internal/models"
)

// EnvPrefix is the prefix of environment variables overriding configuration keys, e.g. CFPDESK_EVENT_YEAR
const EnvPrefix = "CFPDESK"

// ConfigService gives access to the application's configuration
type ConfigService interface {
	// Load loads the application config from its default file location
	Load(ctx context.Context) error
	// LoadFromFile loads the configuration from the given JSON file. Environment variables override the file.
	LoadFromFile(ctx context.Context, filename string) error
	// Write writes the current application configuration to the default file name
	Write(ctx context.Context) error
	// WriteToFile writes the current application configuration to a JSON file
	WriteToFile(ctx context.Context, filename string) error
	// GetConfig retuns the current application configuration
	GetConfig(ctx context.Context) models.AppConfig
}

// -- ConfigService implementation -------------------------------------------------------------------------------------

type configService struct {
	sync.RWMutex
	configFilename string
	config         *models.AppConfig
}

// NewConfigService creates a new configuration service instance with the given default file name
func NewConfigService(configFilename string) ConfigService {
	return &configService{
		configFilename: configFilename,
	}
}

// NewStaticConfigService creates a configuration service that serves the given configuration without a file
func NewStaticConfigService(conf models.AppConfig) ConfigService {
	return &configService{config: &conf}
}

// Load loads the application config from its default file location
func (s *configService) Load(ctx context.Context) error {
	return s.LoadFromFile(ctx, s.configFilename)
}

// LoadFromFile loads the configuration from the given JSON file. The defaults are loaded first so that every key
// can be overridden by the environment, even if the file does not mention it. If the file cannot be read, defaults
// and environment are still applied and the error is returned.
func (s *configService) LoadFromFile(ctx context.Context, filename string) error {
	logger := ctxhelper.Logger(ctx)
	logger.WithField(log.FldFile, filename).Info("Loading configuration file")
	defaults, err := models.GetDefaultConfig()
	if err != nil {
		return errors.Wrap(err, "LoadFromFile: Failed to create default config")
	}
	defaultJSON, err := json.Marshal(defaults)
	if err != nil {
		return errors.Wrap(err, "LoadFromFile: Failed to serialize default config")
	}

	v := viper.New()
	v.SetConfigType("json")
	if err := v.ReadConfig(bytes.NewReader(defaultJSON)); err != nil {
		return errors.Wrap(err, "LoadFromFile: Failed to read default config")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var fileErr error
	if f, err := os.Open(filename); err != nil {
		fileErr = errors.Wrap(err, "LoadFromFile: cannot load configuration file")
	} else {
		defer f.Close()
		if err := v.MergeConfig(f); err != nil {
			fileErr = errors.Wrap(err, "LoadFromFile: Failed to decode configuration file")
		}
	}

	conf := *defaults
	if err := v.Unmarshal(&conf); err != nil {
		return errors.Wrap(err, "LoadFromFile: Failed to apply configuration")
	}
	s.Lock()
	s.config = &conf
	s.Unlock()
	return fileErr
}

// Write writes the current application configuration to the default file name
func (s *configService) Write(ctx context.Context) error {
	return s.WriteToFile(ctx, s.configFilename)
}

// WriteToFile writes the current application configuration to a JSON file
func (s *configService) WriteToFile(ctx context.Context, filename string) error {
	logger := ctxhelper.Logger(ctx)
	logger.WithField(log.FldFile, filename).Info("Writing configuration file")
	f, err := os.Create(filename)
	if err != nil {
		return errors.Wrapf(err, "WriteToFile: Cannot open configuration file '%s' to write to", filename)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "    ")
	conf := s.GetConfig(ctx)
	if err := enc.Encode(&conf); err != nil {
		return errors.Wrap(err, "WriteToFile: Failed to serialize configuration data")
	}
	return nil
}

// GetConfig retuns the current application configuration
func (s *configService) GetConfig(ctx context.Context) models.AppConfig {
	s.RLock()
	defer s.RUnlock()
	var ret models.AppConfig
	if s.config != nil {
		ret = *s.config
	} else {
		if tmp, err := models.GetDefaultConfig(); err == nil {
			ret = *tmp
		}
	}
	return ret
}
