package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/urfave/cli/v3"

	"akademik/api/internal/templates"
)

// TemplatesCmd prints the built-in grant form templates.
type TemplatesCmd struct {
	flags *Flags
}

func NewTemplatesCmd(flags *Flags) *TemplatesCmd {
	return &TemplatesCmd{flags: flags}
}

// Register adds the templates command to the application.
func (cmd *TemplatesCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "templates",
		Usage:     "Print the built-in templates as JSON",
		UsageText: "akademik templates [id]",
		Action:    cmd.run,
	})
	return app
}

func (cmd *TemplatesCmd) run(ctx context.Context, c *cli.Command) error {
	reg, err := templates.Load()
	if err != nil {
		return err
	}

	enc := json.NewEncoder(c.Root().Writer)
	enc.SetIndent("", "  ")

	if id := c.Args().First(); id != "" {
		tpl, ok := reg.Get(id)
		if !ok {
			return fmt.Errorf("unknown template %q", id)
		}
		return enc.Encode(tpl)
	}
	return enc.Encode(reg.List())
}
