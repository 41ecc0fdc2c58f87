package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"reflect"
	"time"
	"unicode"

	"github.com/naoina/toml"

	"github.com/btccbf/cbfd/filter"
)

// tomlSettings ensures TOML keys use the same names as the Go struct fields,
// the same convention the rest of the ecosystem's node configs use.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string { return key },
	FieldToKey:    func(rt reflect.Type, field string) string { return field },
	MissingField: func(rt reflect.Type, field string) error {
		link := ""
		if unicode.IsUpper(rune(rt.Name()[0])) && rt.PkgPath() != "main" {
			link = fmt.Sprintf(", see https://godoc.org/%s#%s for available fields", rt.PkgPath(), rt.Name())
		}
		return fmt.Errorf("field '%s' is not defined in %s%s", field, rt.String(), link)
	},
}

// cbfConfig is the on-disk configuration for cbfd.
type cbfConfig struct {
	Network        string
	DataDir        string
	RequestTimeout time.Duration
	LogLevel       string
	RNGSeed        int64
}

func defaultConfig() cbfConfig {
	return cbfConfig{
		Network:        filter.Mainnet.String(),
		DataDir:        "./cbfd-data",
		RequestTimeout: 30 * time.Second,
		LogLevel:       "info",
		RNGSeed:        1,
	}
}

func loadConfig(path string, cfg *cbfConfig) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg)
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(path + ", " + err.Error())
	}
	return err
}

func parseNetwork(name string) (filter.Network, error) {
	switch name {
	case "mainnet", "":
		return filter.Mainnet, nil
	case "testnet3":
		return filter.Testnet3, nil
	case "regtest":
		return filter.Regtest, nil
	case "simnet":
		return filter.Simnet, nil
	default:
		return 0, fmt.Errorf("unknown network %q", name)
	}
}
