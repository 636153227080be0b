package cli

import (
	stderrors "errors"
	"reflect"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/jsonsqlite/jsonsqlite/internal/config"
	"github.com/jsonsqlite/jsonsqlite/internal/errors"
	"github.com/jsonsqlite/jsonsqlite/pkg/types"
)

// envPrefix prefixes every environment override, e.g. JSONSQLITE_LOG_LEVEL.
const envPrefix = "JSONSQLITE"

// loadConfig builds the configuration with the precedence
// flag > environment > config file > defaults.
func loadConfig(v *viper.Viper, cfgFile string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if err := setDefaults(v, cfg); err != nil {
		return nil, err
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("jsonsqlite")
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !stderrors.As(err, &notFound) {
			return nil, errors.Wrap(errors.ErrCategoryConfig, errors.CodeInvalidConfig, "failed to read config file", err)
		}
	}

	err := v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			stringToModeHook,
		)
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCategoryConfig, errors.CodeInvalidConfig, "failed to decode configuration", err)
	}

	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every configuration key with v so that each one
// can be overridden from the environment.
func setDefaults(v *viper.Viper, cfg *config.Config) error {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(errors.ErrCategoryInternal, errors.CodeUnexpected, "failed to encode defaults", err)
	}
	var tree map[string]interface{}
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return errors.Wrap(errors.ErrCategoryInternal, errors.CodeUnexpected, "failed to decode defaults", err)
	}
	flatten(v, "", tree)
	return nil
}

func flatten(v *viper.Viper, prefix string, tree map[string]interface{}) {
	for k, val := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := val.(map[string]interface{}); ok {
			flatten(v, key, sub)
			continue
		}
		v.SetDefault(key, val)
	}
}

func stringToModeHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if from.Kind() != reflect.String || to != reflect.TypeOf(types.Mode("")) {
		return data, nil
	}
	return types.Mode(strings.ToLower(data.(string))), nil
}
