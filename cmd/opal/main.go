// Command opal validates query contract documents and deploys them to a ledger node.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"gopkg.in/urfave/cli.v1"

	"github.com/branched-services/go-opal"
	"github.com/ethereum/go-ethereum/log"
)

var (
	configFileFlag = cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	verbosityFlag = cli.IntFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity: 0=silent, 1=error, 2=warn, 3=info, 4=debug, 5=trace",
		Value: 3,
	}
	nodeURLFlag = cli.StringFlag{
		Name:  "node",
		Usage: "Ledger node endpoint (overrides Node.URL)",
	}
	keyFileFlag = cli.StringFlag{
		Name:  "keyfile",
		Usage: "File holding the hex-encoded secp256k1 private key",
	}
	contractFlag = cli.StringFlag{
		Name:  "contract",
		Usage: "Contract name to select from the compiler output (overrides Deploy.ContractName)",
	}
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "opal"
	app.Usage = "deploy issuer-signed query contracts"
	app.Flags = []cli.Flag{configFileFlag, verbosityFlag}
	app.Before = setupLogging
	app.Commands = []cli.Command{
		deployCommand,
		validateCommand,
		signCommand,
		addressCommand,
		encodeCommand,
		dumpConfigCommand,
	}
	return app
}

func setupLogging(ctx *cli.Context) error {
	useColor := isatty.IsTerminal(os.Stderr.Fd()) && os.Getenv("TERM") != "dumb"
	output := io.Writer(os.Stderr)
	if useColor {
		output = colorable.NewColorableStderr()
	}
	level := log.FromLegacyLevel(ctx.GlobalInt(verbosityFlag.Name))
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(output, level, useColor)))
	return nil
}

// loadConfig reads the config file if one was given and applies flag overrides.
func loadConfig(ctx *cli.Context) (opal.Config, error) {
	cfg := opal.DefaultConfig()
	if file := ctx.GlobalString(configFileFlag.Name); file != "" {
		var err error
		if cfg, err = opal.LoadConfig(file); err != nil {
			return cfg, err
		}
	}
	if url := ctx.String(nodeURLFlag.Name); url != "" {
		cfg.Node.URL = url
	}
	if name := ctx.String(contractFlag.Name); name != "" {
		cfg.Deploy.ContractName = name
	}
	return cfg, nil
}

// loadKey reads a hex private key from the --keyfile path.
func loadKey(ctx *cli.Context) (*opal.KeyMaterial, error) {
	path := ctx.String(keyFileFlag.Name)
	if path == "" {
		return nil, fmt.Errorf("--%s is required", keyFileFlag.Name)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	defer clear(raw)
	return opal.KeyMaterialFromHex(strings.TrimSpace(string(raw)))
}
