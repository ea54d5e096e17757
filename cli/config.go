package cli

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/saptadeb/botLab-sub001/config"
)

// PrintConfigAction prints the configuration after defaults, the config file and overrides have
// been applied.
func PrintConfigAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	out, err := cfg.Marshal()
	if err != nil {
		return err
	}
	_, err = c.App.Writer.Write(out)
	return err
}

// ConfigSchemaAction prints the JSON schema of the configuration file.
func ConfigSchemaAction(c *cli.Context) error {
	out, err := json.MarshalIndent(config.Schema(), "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode config schema")
	}
	fmt.Fprintln(c.App.Writer, string(out))
	return nil
}
