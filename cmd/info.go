package cmd

import (
	"fmt"
	"os"

	"github.com/achilleasa/castor"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"
)

// Print the engine configuration a device config string resolves to.
func Info(ctx *cli.Context) error {
	setupLogging(ctx)

	dev, err := castor.NewDevice(ctx.String("config"))
	if err != nil {
		return err
	}

	info := dev.Info()
	budget := "unbounded"
	if info.MemoryBudget > 0 {
		budget = fmt.Sprintf("%d mb", info.MemoryBudget>>20)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetAutoFormatHeaders(false)
	table.SetHeader([]string{"Engine", "Version", "Threads", "Verbosity", "Memory budget"})
	table.Append([]string{
		info.Engine,
		info.Version,
		fmt.Sprintf("%d", info.Threads),
		fmt.Sprintf("%d", info.Verbosity),
		budget,
	})
	table.Render()

	return dev.Close()
}
